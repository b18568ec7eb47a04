package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindArchive, "extract", "failed to open archive",
				errors.New("zip: not a valid zip file")),
			contains: []string{"[archive:extract]", "failed to open archive", "not a valid zip file"},
		},
		{
			name:     "error without cause",
			err:      New(KindValidation, "submit", "quality out of range"),
			contains: []string{"[validation:submit]", "quality out of range"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindStorage, "lookup", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct error kind match",
			err:      New(KindNotFound, "fetch", "artifact missing"),
			kind:     KindNotFound,
			expected: true,
		},
		{
			name:     "wrapped error kind match",
			err:      Wrap(KindImage, "decode", "bad jpeg", errors.New("cause")),
			kind:     KindImage,
			expected: true,
		},
		{
			name:     "error kind mismatch",
			err:      New(KindValidation, "submit", "message"),
			kind:     KindArchive,
			expected: false,
		},
		{
			name:     "non-typed error",
			err:      errors.New("plain error"),
			kind:     KindValidation,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsKind(tt.err, tt.kind)
			if result != tt.expected {
				t.Errorf("IsKind() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

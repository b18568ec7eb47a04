package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"

	domainimage "imgopt-server-go/internal/domain/image"
	platformerrors "imgopt-server-go/internal/platform/errors"
)

// Entry is one file extracted from a submitted archive.
type Entry struct {
	Name   string
	Data   []byte
	Format domainimage.Format
}

// File pairs a name with payload bytes for the output archive.
type File struct {
	Name string
	Data []byte
}

// ValidateContainer checks that the bytes form an openable zip without
// reading any member payloads.
func ValidateContainer(data []byte) error {
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return platformerrors.Wrap(
			platformerrors.KindArchive, "archive.validate", "open zip container", err)
	}
	return nil
}

// ExtractEntries opens a zip container and returns its image members in
// archive order. Members without a supported image extension are skipped, the
// order of the remaining ones is preserved. Malformed containers fail with an
// archive error.
func ExtractEntries(data []byte) ([]Entry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindArchive, "archive.extract", "open zip container", err)
	}

	var entries []Entry
	for _, member := range reader.File {
		if member.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(member.Name, "__MACOSX/") {
			continue
		}
		if !domainimage.HasImageExtension(member.Name) {
			continue
		}

		rc, err := member.Open()
		if err != nil {
			return nil, platformerrors.Wrap(
				platformerrors.KindArchive, "archive.extract", "open archive member "+member.Name, err)
		}
		payload, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, platformerrors.Wrap(
				platformerrors.KindArchive, "archive.extract", "read archive member "+member.Name, err)
		}

		entries = append(entries, Entry{
			Name:   member.Name,
			Data:   payload,
			Format: domainimage.DetectFormat(member.Name, payload),
		})
	}

	return entries, nil
}

// CreateArchive builds a deflate-compressed zip from the given files,
// preserving their relative paths.
func CreateArchive(files []File) ([]byte, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)

	for _, file := range files {
		w, err := writer.Create(file.Name)
		if err != nil {
			writer.Close()
			return nil, platformerrors.Wrap(
				platformerrors.KindArchive, "archive.create", "create archive member "+file.Name, err)
		}
		if _, err := w.Write(file.Data); err != nil {
			writer.Close()
			return nil, platformerrors.Wrap(
				platformerrors.KindArchive, "archive.create", "write archive member "+file.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindArchive, "archive.create", "finalize zip container", err)
	}
	return buf.Bytes(), nil
}

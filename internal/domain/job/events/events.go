package events

import (
	domainimage "imgopt-server-go/internal/domain/image"
)

// Event is one progress message for a job. Concrete types carry a `type` tag
// so each event serializes as an independently parseable discriminated record.
type Event interface {
	Kind() string
	Terminal() bool
}

// Progress reports aggregate completion after each processed entry.
type Progress struct {
	Type     string  `json:"type"`
	Progress float64 `json:"progress"`
}

func (Progress) Kind() string   { return "progress" }
func (Progress) Terminal() bool { return false }

// NewProgress builds a progress event for the given percentage.
func NewProgress(percent float64) Progress {
	return Progress{Type: "progress", Progress: percent}
}

// FileComplete reports the outcome for a single archive member.
type FileComplete struct {
	Type             string  `json:"type"`
	FileName         string  `json:"file_name"`
	OriginalSize     int64   `json:"original_size"`
	OptimizedSize    int64   `json:"optimized_size"`
	SavingPercentage float64 `json:"saving_percentage"`
	Status           string  `json:"status"`
	Error            string  `json:"error,omitempty"`
}

func (FileComplete) Kind() string   { return "file_complete" }
func (FileComplete) Terminal() bool { return false }

// NewFileComplete wraps a transformation result.
func NewFileComplete(res domainimage.Result) FileComplete {
	return FileComplete{
		Type:             "file_complete",
		FileName:         res.Name,
		OriginalSize:     res.OriginalSize,
		OptimizedSize:    res.OptimizedSize,
		SavingPercentage: res.SavingPercentage,
		Status:           string(res.Status),
		Error:            res.ErrorDetail,
	}
}

// Complete is the successful terminal event; it points at the artifact.
type Complete struct {
	Type       string  `json:"type"`
	ArtifactID string  `json:"artifact_id"`
	ZipFile    string  `json:"zip_file"`
	Progress   float64 `json:"progress"`
}

func (Complete) Kind() string   { return "complete" }
func (Complete) Terminal() bool { return true }

// NewComplete builds the terminal success event.
func NewComplete(artifactID string) Complete {
	return Complete{
		Type:       "complete",
		ArtifactID: artifactID,
		ZipFile:    artifactID + ".zip",
		Progress:   100,
	}
}

// Failed is the terminal event for archive-level failures.
type Failed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (Failed) Kind() string   { return "failed" }
func (Failed) Terminal() bool { return true }

// NewFailed builds the terminal failure event.
func NewFailed(reason string) Failed {
	return Failed{Type: "failed", Reason: reason}
}

// Keepalive keeps idle streaming connections open through proxies.
type Keepalive struct {
	Type string `json:"type"`
}

func (Keepalive) Kind() string   { return "keepalive" }
func (Keepalive) Terminal() bool { return false }

// NewKeepalive builds a keepalive event.
func NewKeepalive() Keepalive {
	return Keepalive{Type: "keepalive"}
}

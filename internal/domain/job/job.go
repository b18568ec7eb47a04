package job

import (
	"time"

	domainimage "imgopt-server-go/internal/domain/image"
)

// State tracks the lifecycle of one optimization batch. Terminal states are
// absorbing.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Job is one batch optimization request. The runner owns it exclusively until
// a terminal state, after which the registry serves read-only lookups.
type Job struct {
	ID           string              `json:"id"`
	State        State               `json:"state"`
	Options      domainimage.Options `json:"options"`
	ArtifactID   string              `json:"artifact_id,omitempty"`
	ArtifactPath string              `json:"-"`
	Processed    int                 `json:"processed"`
	Total        int                 `json:"total"`
	FailReason   string              `json:"fail_reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

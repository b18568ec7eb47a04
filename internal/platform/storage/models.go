package storage

import (
	"time"

	"gorm.io/datatypes"
)

// JobRecord persists one optimization job for the sqlite registry driver.
type JobRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	JobID        string         `gorm:"uniqueIndex;not null" json:"job_id"`
	State        string         `gorm:"index;not null" json:"state"`
	Options      datatypes.JSON `gorm:"not null" json:"options"` // OptimizationOptions as JSON
	ArtifactID   string         `gorm:"index" json:"artifact_id"`
	ArtifactPath string         `json:"artifact_path"`
	Processed    int            `json:"processed"`
	Total        int            `json:"total"`
	FailReason   string         `gorm:"type:text" json:"fail_reason"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName pins the table name.
func (JobRecord) TableName() string {
	return "job_records"
}

// StatsCounter keeps named lifetime counters, e.g. total optimizations served.
type StatsCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (StatsCounter) TableName() string {
	return "stats_counters"
}

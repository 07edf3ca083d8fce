// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"maps"
	"slices"
	"time"
)

// Status is the lifecycle state of a discovery job.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// IsTerminal reports whether s is a sink state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	}
	return false
}

// Progress is the job-wide completion indicator. Percent never decreases
// within a job's lifetime.
type Progress struct {
	Percent int    `json:"percent" yaml:"percent"`
	Message string `json:"message" yaml:"message"`
}

// LogLevel classifies a job-visible log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEntry is one timestamped line in a job's bounded log window.
type LogEntry struct {
	Time    time.Time `json:"time" yaml:"time"`
	Level   LogLevel  `json:"level" yaml:"level"`
	Message string    `json:"message" yaml:"message"`
}

// JobError is the structured failure description attached to a Failed job.
type JobError struct {
	Stage   string `json:"stage" yaml:"stage"`
	Message string `json:"message" yaml:"message"`
}

// Job is the in-memory record of one discovery request. Only the worker
// executing a job mutates it, and only through a JobStore update.
type Job struct {
	ID             string         `json:"id" yaml:"id"`
	SubjectName    string         `json:"subject_name" yaml:"subject_name"`
	MaxResults     int            `json:"max_results" yaml:"max_results"`
	Status         Status         `json:"status" yaml:"status"`
	Progress       Progress       `json:"progress" yaml:"progress"`
	PartialResults []ResultRecord `json:"partial_results,omitempty" yaml:"partial_results,omitempty"`
	Results        []ResultRecord `json:"results,omitempty" yaml:"results,omitempty"`
	Metrics        Metrics        `json:"metrics" yaml:"metrics"`
	Error          *JobError      `json:"error,omitempty" yaml:"error,omitempty"`
	Logs           []LogEntry     `json:"logs,omitempty" yaml:"logs,omitempty"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at"`
	StartedAt      time.Time      `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	FinishedAt     time.Time      `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
}

// Clone returns a deep copy that shares no mutable state with j.
func (j Job) Clone() Job {
	c := j
	c.PartialResults = slices.Clone(j.PartialResults)
	c.Results = slices.Clone(j.Results)
	c.Metrics = maps.Clone(j.Metrics)
	c.Logs = slices.Clone(j.Logs)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return c
}

// StatusReport is what a status poller sees. Results holds the final results
// once the job is terminal and the partial results before that.
type StatusReport struct {
	ID          string         `json:"id" yaml:"id"`
	SubjectName string         `json:"subject_name" yaml:"subject_name"`
	Status      Status         `json:"status" yaml:"status"`
	Progress    Progress       `json:"progress" yaml:"progress"`
	Partial     bool           `json:"partial" yaml:"partial"`
	Results     []ResultRecord `json:"results" yaml:"results"`
	Metrics     Metrics        `json:"metrics" yaml:"metrics"`
	Logs        []LogEntry     `json:"logs" yaml:"logs"`
	Error       *JobError      `json:"error,omitempty" yaml:"error,omitempty"`
}

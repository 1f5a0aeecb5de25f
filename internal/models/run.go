package models

import (
	"fmt"
	"time"
)

type RunConfig struct {
	RunID        *string           `json:"run_id,omitempty"`
	ExperimentID *string           `json:"experiment_id,omitempty"`
	RunName      *string           `json:"run_name,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Description  *string           `json:"description,omitempty"`
}

type RunInfo struct {
	RunID        string            `json:"run_id"`
	ExperimentID string            `json:"experiment_id"`
	RunName      string            `json:"run_name"`
	Status       string            `json:"status"`
	ArtifactURI  string            `json:"artifact_uri"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Description  string            `json:"description,omitempty"`
}

type RunStatus string

const (
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
)

// ParseRunStatus accepts exactly one of the four recorder statuses.
func ParseRunStatus(s string) (RunStatus, error) {
	switch status := RunStatus(s); status {
	case RunStatusScheduled, RunStatusRunning, RunStatusFinished, RunStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status: %s (valid: SCHEDULED, RUNNING, FINISHED, FAILED)", s)
	}
}

func (s RunStatus) Valid() bool {
	_, err := ParseRunStatus(string(s))
	return err == nil
}

// Terminal reports whether no further transition is possible from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusFinished || s == RunStatusFailed
}

func (s RunStatus) String() string {
	return string(s)
}

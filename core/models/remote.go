package models

import (
	"fmt"

	"github.com/google/uuid"
)

// RemoteStatus is the state of a job on the remote execution service
type RemoteStatus string

const (
	RemoteSubmitted RemoteStatus = "SUBMITTED"
	RemotePending   RemoteStatus = "PENDING"
	RemoteRunnable  RemoteStatus = "RUNNABLE"
	RemoteStarting  RemoteStatus = "STARTING"
	RemoteRunning   RemoteStatus = "RUNNING"
	RemoteSucceeded RemoteStatus = "SUCCEEDED"
	RemoteFailed    RemoteStatus = "FAILED"
)

// Terminal reports whether the job will not change state again
func (s RemoteStatus) Terminal() bool {
	return s == RemoteSucceeded || s == RemoteFailed
}

// RemoteJob is the remote view of a submitted job
type RemoteJob struct {
	Handle uuid.UUID
	Name   string
	Status RemoteStatus
	Reason string
}

// StatusEvent translates a terminal remote state into a status report. ok is
// false while the job is still running.
func (j RemoteJob) StatusEvent() (ev StatusEvent, ok bool) {
	switch j.Status {
	case RemoteSucceeded:
		return NewEvent(EventSuccess, fmt.Sprintf("Successfully completed job %s", j.Name), ""), true
	case RemoteFailed:
		return NewEvent(EventFailed, fmt.Sprintf("Job %s failed during asset creation", j.Name), j.Reason), true
	}
	return StatusEvent{}, false
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventStatus is the status carried by one change log entry
type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventSuccess EventStatus = "success"
	EventFailed  EventStatus = "failed"
)

// Valid reports whether s is one of the known event statuses
func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventSuccess, EventFailed:
		return true
	}
	return false
}

// ValidateEvents returns an UnrecognizedStatusError for the first event whose
// status is not pending, success or failed
func ValidateEvents(evs []StatusEvent) error {
	for _, ev := range evs {
		if !ev.Status.Valid() {
			return &UnrecognizedStatusError{Status: ev.Status}
		}
	}
	return nil
}

// StatusEvent is one timestamped status report. Events are appended to change
// logs and never mutated afterwards.
type StatusEvent struct {
	DateTime time.Time   `json:"date_time"`
	Status   EventStatus `json:"status"`
	Message  string      `json:"message"`
	Detail   string      `json:"detail,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(status EventStatus, message, detail string) StatusEvent {
	return StatusEvent{
		DateTime: time.Now().UTC(),
		Status:   status,
		Message:  message,
		Detail:   detail,
	}
}

// naiveLayout is accepted for report timestamps sent without a zone; they are
// read as UTC
const naiveLayout = "2006-01-02T15:04:05.999999999"

// UnmarshalJSON accepts RFC 3339 timestamps and timestamps without a zone
func (e *StatusEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		DateTime string      `json:"date_time"`
		Status   EventStatus `json:"status"`
		Message  string      `json:"message"`
		Detail   *string     `json:"detail"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var t time.Time
	if raw.DateTime != "" {
		var err error
		if t, err = time.Parse(time.RFC3339Nano, raw.DateTime); err != nil {
			if t, err = time.Parse(naiveLayout, raw.DateTime); err != nil {
				return fmt.Errorf("invalid date_time %q", raw.DateTime)
			}
		}
	}

	*e = StatusEvent{DateTime: t.UTC(), Status: raw.Status, Message: raw.Message}
	if raw.Detail != nil {
		e.Detail = *raw.Detail
	}
	return nil
}

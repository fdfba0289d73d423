package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a task, asset or version does not exist
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a record with the same key exists
	ErrAlreadyExists = errors.New("record already exists")
)

// InvalidJobGraphError is returned before any submission when a batch can
// never be scheduled: duplicate job names, or no root jobs.
type InvalidJobGraphError struct {
	Reason string
	Names  []string
	// Err is set when no job is independent: every job is then left
	// unsubmitted, which is reported as a SchedulingExhaustedError too.
	Err error
}

func (e *InvalidJobGraphError) Error() string {
	if len(e.Names) == 0 {
		return "invalid job graph: " + e.Reason
	}
	return fmt.Sprintf("invalid job graph: %s: %s", e.Reason, strings.Join(e.Names, ", "))
}

func (e *InvalidJobGraphError) Unwrap() error {
	return e.Err
}

// SchedulingExhaustedError is returned when jobs remain unsubmitted after the
// round bound, which means a dependency cycle or a parent name that is not in
// the batch. Jobs submitted before the error stay submitted.
type SchedulingExhaustedError struct {
	Unsubmitted []string
	Submitted   map[string]uuid.UUID
}

func (e *SchedulingExhaustedError) Error() string {
	return fmt.Sprintf("too many retries while scheduling jobs, failed to schedule jobs [%s]", strings.Join(e.Unsubmitted, ", "))
}

// UnrecognizedStatusError is returned when a status report carries a status
// other than success or failed
type UnrecognizedStatusError struct {
	Status EventStatus
}

func (e *UnrecognizedStatusError) Error() string {
	return fmt.Sprintf("change log status must be either `success` or `failed`, got %q", e.Status)
}

// sortedNames returns the keys of set in lexical order
func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DuplicateNames returns the job names that occur more than once in jobs
func DuplicateNames(jobs []Job) []string {
	seen := make(map[string]struct{}, len(jobs))
	dups := map[string]struct{}{}
	for _, j := range jobs {
		if _, ok := seen[j.Name]; ok {
			dups[j.Name] = struct{}{}
			continue
		}
		seen[j.Name] = struct{}{}
	}
	return sortedNames(dups)
}

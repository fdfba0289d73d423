package models

import (
	"context"

	"github.com/google/uuid"
)

// Job is an in-memory descriptor of one unit of remote work, built by a
// producer and consumed once by the scheduler.
type Job struct {
	Name                   string
	Queue                  string
	Definition             string
	Command                []string
	Environment            []KeyValue
	Resources              JobResources
	Attempts               int
	AttemptDurationSeconds int
	Parents                []string // names of jobs in the same batch
	Recorder               Recorder
}

// JobResources is the resource shape requested for one job container
type JobResources struct {
	VCPUs     int
	MemoryMiB int
}

// KeyValue is a container environment entry
type KeyValue struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Recorder persists a task once its job has been submitted. The handle is the
// id returned by the remote submission service.
type Recorder interface {
	Record(ctx context.Context, handle uuid.UUID, ev StatusEvent) error
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ctx context.Context, handle uuid.UUID, ev StatusEvent) error

// Record implements Recorder
func (f RecorderFunc) Record(ctx context.Context, handle uuid.UUID, ev StatusEvent) error {
	return f(ctx, handle, ev)
}

// MergeEnvironment returns base overlaid with override; keys in override win.
// Order follows base, then keys only present in override.
func MergeEnvironment(base, override []KeyValue) []KeyValue {
	if len(base) == 0 {
		return append([]KeyValue(nil), override...)
	}

	idx := make(map[string]int, len(base))
	out := make([]KeyValue, 0, len(base)+len(override))
	for _, kv := range base {
		if i, ok := idx[kv.Name]; ok {
			out[i] = kv
			continue
		}
		idx[kv.Name] = len(out)
		out = append(out, kv)
	}
	for _, kv := range override {
		if i, ok := idx[kv.Name]; ok {
			out[i] = kv
			continue
		}
		idx[kv.Name] = len(out)
		out = append(out, kv)
	}
	return out
}

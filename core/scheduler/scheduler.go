package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"asset-pipeline/core/logger"
	"asset-pipeline/core/models"

	"github.com/google/uuid"
)

// DefaultMaxRounds is the number of passes over dependent jobs after the
// independent jobs have been submitted
const DefaultMaxRounds = 10

// Submitter submits one job to the remote execution service. dependsOn holds
// the handles of jobs that must fully complete before this one starts.
type Submitter interface {
	Submit(ctx context.Context, job models.Job, dependsOn []uuid.UUID) (uuid.UUID, error)
}

// Config holds scheduler settings
type Config struct {
	// MaxRounds bounds the passes over dependent jobs
	MaxRounds int
	// Environment is added to every submitted job; job entries win
	Environment []models.KeyValue
}

// Scheduler submits job batches in dependency order. It keeps no state
// between calls, so one Scheduler can serve concurrent batches.
type Scheduler struct {
	submitter Submitter
	cfg       Config
	log       *logger.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(submitter Submitter, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		submitter: submitter,
		cfg:       cfg,
		log:       log,
	}
}

// Submission is one submitted job
type Submission struct {
	Name   string    `json:"name"`
	Handle uuid.UUID `json:"handle"`
}

// Schedule submits every job once, never before all of its parents, and
// returns the remote handle of each job by name.
func (s *Scheduler) Schedule(ctx context.Context, jobs []models.Job) (map[string]uuid.UUID, error) {
	handles, _, err := s.schedule(ctx, jobs)
	return handles, err
}

// Execute schedules jobs and turns the outcome into the initial status event
// of the owning asset. Exhaustion becomes a failed event; invalid graphs and
// remote errors are returned.
func (s *Scheduler) Execute(ctx context.Context, jobs []models.Job) (models.StatusEvent, error) {
	_, order, err := s.schedule(ctx, jobs)

	var invalid *models.InvalidJobGraphError
	if errors.As(err, &invalid) {
		return models.StatusEvent{}, err
	}
	var exhausted *models.SchedulingExhaustedError
	if errors.As(err, &exhausted) {
		return models.NewEvent(
			models.EventFailed,
			"Failed to schedule batch jobs",
			fmt.Sprintf("Failed to schedule jobs [%s]", strings.Join(exhausted.Unsubmitted, ", ")),
		), nil
	}
	if err != nil {
		return models.StatusEvent{}, err
	}

	if order == nil {
		order = []Submission{}
	}
	detail, err := json.Marshal(order)
	if err != nil {
		return models.StatusEvent{}, fmt.Errorf("failed to encode scheduled jobs: %w", err)
	}
	return models.NewEvent(models.EventPending, "Successfully scheduled batch jobs", string(detail)), nil
}

func (s *Scheduler) schedule(ctx context.Context, jobs []models.Job) (map[string]uuid.UUID, []Submission, error) {
	handles := make(map[string]uuid.UUID, len(jobs))
	if len(jobs) == 0 {
		return handles, nil, nil
	}

	if dups := models.DuplicateNames(jobs); len(dups) > 0 {
		return nil, nil, &models.InvalidJobGraphError{Reason: "duplicate job names", Names: dups}
	}

	order := make([]Submission, 0, len(jobs))

	// Independent jobs first, in input order
	for _, job := range jobs {
		if len(job.Parents) != 0 {
			continue
		}
		if err := s.submit(ctx, job, nil, handles, &order); err != nil {
			return handles, order, err
		}
	}
	if len(handles) == 0 {
		names := make([]string, len(jobs))
		for i, job := range jobs {
			names[i] = job.Name
		}
		return nil, nil, &models.InvalidJobGraphError{
			Reason: "no independent jobs in batch, can't start scheduling due to missing dependencies",
			Err:    &models.SchedulingExhaustedError{Unsubmitted: names, Submitted: map[string]uuid.UUID{}},
		}
	}

	for round := 0; len(handles) < len(jobs); round++ {
		if round >= s.cfg.MaxRounds {
			return handles, order, s.exhausted(jobs, handles)
		}

		progressed := false
		for _, job := range jobs {
			if _, done := handles[job.Name]; done {
				continue
			}
			dependsOn, ready := parentHandles(job, handles)
			if !ready {
				continue
			}
			if err := s.submit(ctx, job, dependsOn, handles, &order); err != nil {
				return handles, order, err
			}
			progressed = true
		}

		if !progressed {
			return handles, order, s.exhausted(jobs, handles)
		}
	}

	return handles, order, nil
}

func (s *Scheduler) submit(ctx context.Context, job models.Job, dependsOn []uuid.UUID, handles map[string]uuid.UUID, order *[]Submission) error {
	job.Environment = models.MergeEnvironment(s.cfg.Environment, job.Environment)

	handle, err := s.submitter.Submit(ctx, job, dependsOn)
	if err != nil {
		return fmt.Errorf("failed to submit job %s: %w", job.Name, err)
	}
	handles[job.Name] = handle
	*order = append(*order, Submission{Name: job.Name, Handle: handle})

	s.log.Info("Submitted batch job", "job", job.Name, "job_id", handle.String(), "parents", len(dependsOn))

	detail := fmt.Sprintf("Job ID: %s", handle)
	if len(dependsOn) > 0 {
		ids := make([]string, len(dependsOn))
		for i, id := range dependsOn {
			ids[i] = id.String()
		}
		detail += fmt.Sprintf(", parents: [%s]", strings.Join(ids, ", "))
	}
	ev := models.NewEvent(models.EventPending, "Scheduled job "+job.Name, detail)

	if job.Recorder == nil {
		return nil
	}
	if err := job.Recorder.Record(ctx, handle, ev); err != nil {
		return fmt.Errorf("failed to record job %s (%s): %w", job.Name, handle, err)
	}
	return nil
}

func (s *Scheduler) exhausted(jobs []models.Job, handles map[string]uuid.UUID) error {
	var missing []string
	for _, job := range jobs {
		if _, ok := handles[job.Name]; !ok {
			missing = append(missing, job.Name)
		}
	}
	s.log.Warn("Too many retries while scheduling jobs", "unsubmitted", missing)

	submitted := make(map[string]uuid.UUID, len(handles))
	for k, v := range handles {
		submitted[k] = v
	}
	return &models.SchedulingExhaustedError{Unsubmitted: missing, Submitted: submitted}
}

// parentHandles returns the handles of job's parents in declaration order, or
// false if any parent has not been submitted yet
func parentHandles(job models.Job, handles map[string]uuid.UUID) ([]uuid.UUID, bool) {
	out := make([]uuid.UUID, 0, len(job.Parents))
	for _, p := range job.Parents {
		h, ok := handles[p]
		if !ok {
			return nil, false
		}
		out = append(out, h)
	}
	return out, true
}

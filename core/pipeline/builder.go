package pipeline

import (
	"fmt"

	"asset-pipeline/config"
	"asset-pipeline/core/fanin"
	"asset-pipeline/core/models"
	"asset-pipeline/core/spec"
)

// BuildJobs turns a parsed pipeline into the job batch handed to the
// scheduler. Fan-in groups are rewritten into at most maxParents chains so the
// downstream job stays within the remote dependency limit. Every job records
// its task through rec.
func BuildJobs(p *spec.Pipeline, presets config.JobPresets, maxParents int, rec models.Recorder) ([]models.Job, error) {
	if maxParents < 1 || maxParents > fanin.MaxRemoteParents {
		maxParents = fanin.DefaultMaxParents
	}

	var jobs []models.Job
	for _, js := range p.Jobs {
		job, err := fromJobSpec(js, presets, rec)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	for _, group := range p.FanIn {
		preset, ok := presets.Get(group.Preset)
		if !ok {
			return nil, fmt.Errorf("%w: unknown preset %s for fan_in group %s", spec.ErrInvalidSpec, group.Preset, group.Name)
		}

		preds := make([]fanin.Constructor, 0, len(group.Commands))
		for i, cmd := range group.Commands {
			name := group.MemberName(i)
			command := cmd
			preds = append(preds, func(parents []string) models.Job {
				job := fromPreset(name, preset, rec)
				job.Command = command
				job.Environment = group.Environment
				job.Parents = parents
				return job
			})
		}

		limit := maxParents
		if group.MaxParents > 0 {
			limit = group.MaxParents
		}
		members, tails := fanin.PartitionAfter(group.After, preds, limit)
		jobs = append(jobs, members...)

		if group.Then == nil {
			continue
		}
		then, err := fromJobSpec(*group.Then, presets, rec)
		if err != nil {
			return nil, err
		}
		then.Parents = append(append([]string(nil), tails...), then.Parents...)
		jobs = append(jobs, then)
	}

	for _, job := range jobs {
		if len(job.Parents) > fanin.MaxRemoteParents {
			return nil, fmt.Errorf("%w: job %s has %d parents, at most %d are allowed",
				spec.ErrInvalidSpec, job.Name, len(job.Parents), fanin.MaxRemoteParents)
		}
	}
	return jobs, nil
}

func fromJobSpec(js spec.JobSpec, presets config.JobPresets, rec models.Recorder) (models.Job, error) {
	preset, ok := presets.Get(js.Preset)
	if !ok {
		return models.Job{}, fmt.Errorf("%w: unknown preset %s for job %s", spec.ErrInvalidSpec, js.Preset, js.Name)
	}

	job := fromPreset(js.Name, preset, rec)
	job.Command = js.Command
	job.Environment = js.Environment
	job.Parents = js.Parents
	if js.VCPUs > 0 {
		job.Resources.VCPUs = js.VCPUs
	}
	if js.MemoryMiB > 0 {
		job.Resources.MemoryMiB = js.MemoryMiB
	}
	if js.Attempts > 0 {
		job.Attempts = js.Attempts
	}
	if js.TimeoutSeconds > 0 {
		job.AttemptDurationSeconds = js.TimeoutSeconds
	}
	return job, nil
}

func fromPreset(name string, preset config.JobPreset, rec models.Recorder) models.Job {
	return models.Job{
		Name:       name,
		Queue:      preset.Queue,
		Definition: preset.Definition,
		Resources: models.JobResources{
			VCPUs:     preset.VCPUs,
			MemoryMiB: preset.MemoryMiB,
		},
		Attempts:               preset.Attempts,
		AttemptDurationSeconds: preset.AttemptDurationSeconds,
		Recorder:               rec,
	}
}

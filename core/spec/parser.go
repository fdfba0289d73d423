package spec

import (
	"errors"
	"fmt"

	"asset-pipeline/core/fanin"
	"asset-pipeline/core/models"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSpec is wrapped by every validation error of ParsePipeline
var ErrInvalidSpec = errors.New("invalid pipeline spec")

// PipelineSpec represents the YAML pipeline specification
type PipelineSpec struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline lists the jobs that materialize one asset
type Pipeline struct {
	Jobs  []JobSpec   `yaml:"jobs"`
	FanIn []FanInSpec `yaml:"fan_in"`
}

// JobSpec represents one job of the pipeline. Zero resource fields fall back
// to the preset.
type JobSpec struct {
	Name           string            `yaml:"name"`
	Preset         string            `yaml:"preset"`
	Command        []string          `yaml:"command"`
	Parents        []string          `yaml:"parents"`
	Environment    []models.KeyValue `yaml:"environment"`
	VCPUs          int               `yaml:"vcpus"`
	MemoryMiB      int               `yaml:"memory"`
	Attempts       int               `yaml:"attempts"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// FanInSpec represents a group of parallel jobs that all feed one downstream
// job. The group is rewritten into serial chains before scheduling.
type FanInSpec struct {
	Name        string            `yaml:"name"`
	Preset      string            `yaml:"preset"`
	After       []string          `yaml:"after"`
	Commands    [][]string        `yaml:"commands"`
	Environment []models.KeyValue `yaml:"environment"`
	MaxParents  int               `yaml:"max_parents,omitempty"`
	Then        *JobSpec          `yaml:"then,omitempty"`
}

// MemberName returns the name of the i-th job of the group
func (f FanInSpec) MemberName(i int) string {
	return SanitizeJobName(fmt.Sprintf("%s_%d", f.Name, i))
}

// ParsePipeline parses and validates a YAML pipeline specification. Job
// names are sanitized in place.
func ParsePipeline(specYAML string) (*Pipeline, error) {
	var spec PipelineSpec
	if err := yaml.Unmarshal([]byte(specYAML), &spec); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidSpec, err)
	}

	p := &spec.Pipeline
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// Names returns every job name the pipeline produces, in declaration order
func (p *Pipeline) Names() []string {
	var names []string
	for _, j := range p.Jobs {
		names = append(names, j.Name)
	}
	for _, f := range p.FanIn {
		for i := range f.Commands {
			names = append(names, f.MemberName(i))
		}
		if f.Then != nil {
			names = append(names, f.Then.Name)
		}
	}
	return names
}

func (p *Pipeline) normalize() error {
	if len(p.Jobs) == 0 && len(p.FanIn) == 0 {
		return fmt.Errorf("%w: no jobs", ErrInvalidSpec)
	}

	for i := range p.Jobs {
		if err := normalizeJob(&p.Jobs[i]); err != nil {
			return err
		}
	}
	for i := range p.FanIn {
		f := &p.FanIn[i]
		if f.Name == "" {
			return fmt.Errorf("%w: fan_in group %d has no name", ErrInvalidSpec, i)
		}
		if f.Preset == "" {
			return fmt.Errorf("%w: fan_in group %s has no preset", ErrInvalidSpec, f.Name)
		}
		if len(f.Commands) == 0 {
			return fmt.Errorf("%w: fan_in group %s has no commands", ErrInvalidSpec, f.Name)
		}
		for j, cmd := range f.Commands {
			if len(cmd) == 0 {
				return fmt.Errorf("%w: fan_in group %s command %d is empty", ErrInvalidSpec, f.Name, j)
			}
		}
		if f.MaxParents < 0 || f.MaxParents > fanin.MaxRemoteParents {
			return fmt.Errorf("%w: fan_in group %s max_parents must be between 1 and %d", ErrInvalidSpec, f.Name, fanin.MaxRemoteParents)
		}
		if len(f.After) > fanin.MaxRemoteParents {
			return fmt.Errorf("%w: fan_in group %s has more than %d after jobs", ErrInvalidSpec, f.Name, fanin.MaxRemoteParents)
		}
		for j, name := range f.After {
			f.After[j] = SanitizeJobName(name)
		}
		if f.Then != nil {
			if err := normalizeJob(f.Then); err != nil {
				return err
			}
		}
	}

	names := p.Names()
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := known[name]; ok {
			return fmt.Errorf("%w: duplicate job name %s", ErrInvalidSpec, name)
		}
		known[name] = struct{}{}
	}

	check := func(owner string, parents []string) error {
		for _, parent := range parents {
			if _, ok := known[parent]; !ok {
				return fmt.Errorf("%w: %s depends on unknown job %s", ErrInvalidSpec, owner, parent)
			}
		}
		return nil
	}
	for _, j := range p.Jobs {
		if err := check(j.Name, j.Parents); err != nil {
			return err
		}
	}
	for _, f := range p.FanIn {
		if err := check(f.Name, f.After); err != nil {
			return err
		}
		if f.Then != nil {
			if err := check(f.Then.Name, f.Then.Parents); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeJob(j *JobSpec) error {
	if j.Name == "" {
		return fmt.Errorf("%w: job without name", ErrInvalidSpec)
	}
	if j.Preset == "" {
		return fmt.Errorf("%w: job %s has no preset", ErrInvalidSpec, j.Name)
	}
	if len(j.Command) == 0 {
		return fmt.Errorf("%w: job %s has no command", ErrInvalidSpec, j.Name)
	}
	if j.VCPUs < 0 || j.MemoryMiB < 0 || j.Attempts < 0 || j.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: job %s has negative resources", ErrInvalidSpec, j.Name)
	}
	if len(j.Parents) > fanin.MaxRemoteParents {
		return fmt.Errorf("%w: job %s has more than %d parents", ErrInvalidSpec, j.Name, fanin.MaxRemoteParents)
	}

	j.Name = SanitizeJobName(j.Name)
	for i, parent := range j.Parents {
		j.Parents[i] = SanitizeJobName(parent)
	}
	return nil
}

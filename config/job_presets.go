package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JobPreset is the queue, definition and resource shape shared by a family of
// jobs
type JobPreset struct {
	Queue                  string `yaml:"queue"`
	Definition             string `yaml:"definition"`
	VCPUs                  int    `yaml:"vcpus"`
	MemoryMiB              int    `yaml:"memory"`
	Attempts               int    `yaml:"attempts"`
	AttemptDurationSeconds int    `yaml:"attempt_duration_seconds"`
}

// JobPresets maps preset names used in pipeline specs to presets
type JobPresets map[string]JobPreset

// Get returns the named preset
func (p JobPresets) Get(name string) (JobPreset, bool) {
	preset, ok := p[name]
	return preset, ok
}

// DefaultJobPresets returns the built-in presets. Queue and definition names
// can be overridden from the environment.
func DefaultJobPresets() JobPresets {
	auroraQueue := getEnv("AURORA_JOB_QUEUE", "aurora-job-queue")
	dataLakeQueue := getEnv("DATA_LAKE_JOB_QUEUE", "data-lake-job-queue")
	tileCacheQueue := getEnv("TILE_CACHE_JOB_QUEUE", "tile-cache-job-queue")
	pixetlQueue := getEnv("PIXETL_JOB_QUEUE", "pixetl-job-queue")

	gdalDefinition := getEnv("GDAL_PYTHON_JOB_DEFINITION", "gdal-python")
	postgresDefinition := getEnv("POSTGRESQL_CLIENT_JOB_DEFINITION", "postgresql-client")
	tileCacheDefinition := getEnv("TILE_CACHE_JOB_DEFINITION", "tile-cache")
	pixetlDefinition := getEnv("PIXETL_JOB_DEFINITION", "pixetl")

	return JobPresets{
		// simple write operations to PostgreSQL
		"postgresql_client": {
			Queue: auroraQueue, Definition: postgresDefinition,
			VCPUs: 1, MemoryMiB: 1500, Attempts: 1, AttemptDurationSeconds: 7500,
		},
		// writes to PostgreSQL that need GDAL/ogr2ogr
		"gdal_python_import": {
			Queue: auroraQueue, Definition: gdalDefinition,
			VCPUs: 1, MemoryMiB: 2500, Attempts: 1, AttemptDurationSeconds: 7500,
		},
		// exports from PostgreSQL to the data lake
		"gdal_python_export": {
			Queue: dataLakeQueue, Definition: gdalDefinition,
			VCPUs: 1, MemoryMiB: 2500, Attempts: 1, AttemptDurationSeconds: 7500,
		},
		"tile_cache": {
			Queue: tileCacheQueue, Definition: tileCacheDefinition,
			VCPUs: 48, MemoryMiB: 96000, Attempts: 1, AttemptDurationSeconds: 3600,
		},
		"pixetl": {
			Queue: pixetlQueue, Definition: pixetlDefinition,
			VCPUs: 48, MemoryMiB: 350000, Attempts: 2, AttemptDurationSeconds: 9600,
		},
	}
}

// LoadJobPresets returns the default presets overlaid with the presets of the
// YAML file at path. An empty path yields the defaults.
//
// File format:
//
//	presets:
//	  postgresql_client:
//	    queue: aurora-job-queue
//	    definition: postgresql-client
//	    vcpus: 1
//	    memory: 1500
//	    attempts: 1
//	    attempt_duration_seconds: 7500
func LoadJobPresets(path string) (JobPresets, error) {
	presets := DefaultJobPresets()
	if path == "" {
		return presets, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job presets: %w", err)
	}
	return parseJobPresets(raw, presets)
}

func parseJobPresets(raw []byte, base JobPresets) (JobPresets, error) {
	var doc struct {
		Presets map[string]JobPreset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse job presets: %w", err)
	}

	for name, preset := range doc.Presets {
		if preset.Queue == "" || preset.Definition == "" {
			return nil, fmt.Errorf("job preset %s needs a queue and a definition", name)
		}
		if preset.VCPUs < 1 || preset.MemoryMiB < 1 {
			return nil, fmt.Errorf("job preset %s needs positive vcpus and memory", name)
		}
		if preset.Attempts < 1 {
			preset.Attempts = 1
		}
		base[name] = preset
	}
	return base, nil
}

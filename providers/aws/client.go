package aws

import (
	"context"
	"fmt"
	"strconv"

	"asset-pipeline/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/google/uuid"
)

// MaxDescribeJobs is the number of job ids DescribeJobs accepts per call
const MaxDescribeJobs = 100

// BatchAPI is the subset of the AWS Batch API used by the client
type BatchAPI interface {
	SubmitJob(ctx context.Context, params *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
	DescribeJobs(ctx context.Context, params *batch.DescribeJobsInput, optFns ...func(*batch.Options)) (*batch.DescribeJobsOutput, error)
}

// Client is the AWS Batch provider client
type Client struct {
	batch BatchAPI
}

// NewClient creates a new AWS Batch client. A non-empty endpoint overrides the
// service endpoint, e.g. for a local mock.
func NewClient(ctx context.Context, region, endpoint string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := batch.NewFromConfig(cfg, func(o *batch.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewClientWithAPI(api), nil
}

// NewClientWithAPI wraps an existing Batch API implementation
func NewClientWithAPI(api BatchAPI) *Client {
	return &Client{batch: api}
}

// Submit submits one job. Each dependsOn handle becomes a SEQUENTIAL
// dependency, so the job starts only after those jobs have completed.
func (c *Client) Submit(ctx context.Context, job models.Job, dependsOn []uuid.UUID) (uuid.UUID, error) {
	out, err := c.batch.SubmitJob(ctx, submitJobInput(job, dependsOn))
	if err != nil {
		return uuid.Nil, err
	}

	handle, err := uuid.Parse(aws.ToString(out.JobId))
	if err != nil {
		return uuid.Nil, fmt.Errorf("unexpected job id %q for job %s: %w", aws.ToString(out.JobId), job.Name, err)
	}
	return handle, nil
}

// Describe returns the remote state of the given jobs. Ids unknown to AWS
// Batch are omitted from the result.
func (c *Client) Describe(ctx context.Context, handles []uuid.UUID) ([]models.RemoteJob, error) {
	var jobs []models.RemoteJob
	for start := 0; start < len(handles); start += MaxDescribeJobs {
		end := start + MaxDescribeJobs
		if end > len(handles) {
			end = len(handles)
		}

		ids := make([]string, 0, end-start)
		for _, h := range handles[start:end] {
			ids = append(ids, h.String())
		}

		out, err := c.batch.DescribeJobs(ctx, &batch.DescribeJobsInput{Jobs: ids})
		if err != nil {
			return nil, fmt.Errorf("failed to describe jobs: %w", err)
		}
		for _, detail := range out.Jobs {
			handle, err := uuid.Parse(aws.ToString(detail.JobId))
			if err != nil {
				continue
			}
			jobs = append(jobs, models.RemoteJob{
				Handle: handle,
				Name:   aws.ToString(detail.JobName),
				Status: models.RemoteStatus(detail.Status),
				Reason: aws.ToString(detail.StatusReason),
			})
		}
	}
	return jobs, nil
}

func submitJobInput(job models.Job, dependsOn []uuid.UUID) *batch.SubmitJobInput {
	deps := make([]types.JobDependency, 0, len(dependsOn))
	for _, h := range dependsOn {
		deps = append(deps, types.JobDependency{
			JobId: aws.String(h.String()),
			Type:  types.ArrayJobDependencySequential,
		})
	}

	env := make([]types.KeyValuePair, 0, len(job.Environment))
	for _, kv := range job.Environment {
		env = append(env, types.KeyValuePair{
			Name:  aws.String(kv.Name),
			Value: aws.String(kv.Value),
		})
	}

	overrides := &types.ContainerOverrides{
		Command:     job.Command,
		Environment: env,
	}
	if job.Resources.VCPUs > 0 {
		overrides.ResourceRequirements = append(overrides.ResourceRequirements, types.ResourceRequirement{
			Type:  types.ResourceTypeVcpu,
			Value: aws.String(strconv.Itoa(job.Resources.VCPUs)),
		})
	}
	if job.Resources.MemoryMiB > 0 {
		overrides.ResourceRequirements = append(overrides.ResourceRequirements, types.ResourceRequirement{
			Type:  types.ResourceTypeMemory,
			Value: aws.String(strconv.Itoa(job.Resources.MemoryMiB)),
		})
	}

	input := &batch.SubmitJobInput{
		JobName:            aws.String(job.Name),
		JobQueue:           aws.String(job.Queue),
		JobDefinition:      aws.String(job.Definition),
		DependsOn:          deps,
		ContainerOverrides: overrides,
	}
	if job.Attempts > 0 {
		input.RetryStrategy = &types.RetryStrategy{Attempts: aws.Int32(int32(job.Attempts))}
	}
	if job.AttemptDurationSeconds > 0 {
		input.Timeout = &types.JobTimeout{AttemptDurationSeconds: aws.Int32(int32(job.AttemptDurationSeconds))}
	}
	return input
}

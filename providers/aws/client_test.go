package aws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"asset-pipeline/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatch struct {
	mu        sync.Mutex
	submitted []*batch.SubmitJobInput
	described [][]string
	jobID     string
	submitErr error
	details   map[string]types.JobDetail
}

func (f *fakeBatch) SubmitJob(ctx context.Context, in *batch.SubmitJobInput, _ ...func(*batch.Options)) (*batch.SubmitJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, in)
	id := f.jobID
	if id == "" {
		id = uuid.NewString()
	}
	return &batch.SubmitJobOutput{JobId: aws.String(id), JobName: in.JobName}, nil
}

func (f *fakeBatch) DescribeJobs(ctx context.Context, in *batch.DescribeJobsInput, _ ...func(*batch.Options)) (*batch.DescribeJobsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.described = append(f.described, in.Jobs)

	out := &batch.DescribeJobsOutput{}
	for _, id := range in.Jobs {
		if d, ok := f.details[id]; ok {
			out.Jobs = append(out.Jobs, d)
		}
	}
	return out, nil
}

func TestClient_Submit(t *testing.T) {
	t.Parallel()

	api := &fakeBatch{}
	c := NewClientWithAPI(api)
	parent := uuid.New()

	job := models.Job{
		Name:                   "create_index",
		Queue:                  "aurora-job-queue",
		Definition:             "postgresql-client",
		Command:                []string{"create_index.sh", "-d", "wdpa"},
		Environment:            []models.KeyValue{{Name: "PGHOST", Value: "db"}},
		Resources:              models.JobResources{VCPUs: 1, MemoryMiB: 1500},
		Attempts:               1,
		AttemptDurationSeconds: 7500,
	}

	handle, err := c.Submit(context.Background(), job, []uuid.UUID{parent})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, handle)

	require.Len(t, api.submitted, 1)
	in := api.submitted[0]
	assert.Equal(t, "create_index", aws.ToString(in.JobName))
	assert.Equal(t, "aurora-job-queue", aws.ToString(in.JobQueue))
	assert.Equal(t, "postgresql-client", aws.ToString(in.JobDefinition))

	require.Len(t, in.DependsOn, 1)
	assert.Equal(t, parent.String(), aws.ToString(in.DependsOn[0].JobId))
	assert.Equal(t, types.ArrayJobDependencySequential, in.DependsOn[0].Type)

	require.NotNil(t, in.ContainerOverrides)
	assert.Equal(t, job.Command, in.ContainerOverrides.Command)
	require.Len(t, in.ContainerOverrides.Environment, 1)
	assert.Equal(t, "PGHOST", aws.ToString(in.ContainerOverrides.Environment[0].Name))
	require.Len(t, in.ContainerOverrides.ResourceRequirements, 2)
	assert.Equal(t, types.ResourceTypeVcpu, in.ContainerOverrides.ResourceRequirements[0].Type)
	assert.Equal(t, "1", aws.ToString(in.ContainerOverrides.ResourceRequirements[0].Value))
	assert.Equal(t, "1500", aws.ToString(in.ContainerOverrides.ResourceRequirements[1].Value))

	assert.Equal(t, int32(1), aws.ToInt32(in.RetryStrategy.Attempts))
	assert.Equal(t, int32(7500), aws.ToInt32(in.Timeout.AttemptDurationSeconds))
}

func TestClient_SubmitErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("throttled")
	_, err := NewClientWithAPI(&fakeBatch{submitErr: boom}).Submit(context.Background(), models.Job{Name: "a"}, nil)
	require.ErrorIs(t, err, boom)

	_, err = NewClientWithAPI(&fakeBatch{jobID: "not-a-uuid"}).Submit(context.Background(), models.Job{Name: "a"}, nil)
	require.Error(t, err)
}

func TestClient_Describe(t *testing.T) {
	t.Parallel()

	handles := make([]uuid.UUID, 150)
	for i := range handles {
		handles[i] = uuid.New()
	}
	api := &fakeBatch{details: map[string]types.JobDetail{
		handles[0].String(): {
			JobId:   aws.String(handles[0].String()),
			JobName: aws.String("load_0"),
			Status:  types.JobStatusSucceeded,
		},
		handles[120].String(): {
			JobId:        aws.String(handles[120].String()),
			JobName:      aws.String("load_1"),
			Status:       types.JobStatusFailed,
			StatusReason: aws.String("Essential container in task exited"),
		},
	}}

	jobs, err := NewClientWithAPI(api).Describe(context.Background(), handles)
	require.NoError(t, err)

	require.Len(t, api.described, 2)
	assert.Len(t, api.described[0], MaxDescribeJobs)
	assert.Len(t, api.described[1], 50)

	require.Len(t, jobs, 2)
	assert.Equal(t, models.RemoteSucceeded, jobs[0].Status)
	assert.Equal(t, models.RemoteFailed, jobs[1].Status)
	assert.Equal(t, "Essential container in task exited", jobs[1].Reason)

	ev, ok := jobs[1].StatusEvent()
	require.True(t, ok)
	assert.Equal(t, models.EventFailed, ev.Status)
	assert.Equal(t, "Essential container in task exited", ev.Detail)
}

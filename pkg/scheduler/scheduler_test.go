package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/logging"
)

type recordingRunner struct {
	calls []string
	err   error
}

func (r *recordingRunner) RunSnapshot(context.Context) error {
	r.calls = append(r.calls, JobSnapshot)
	return r.err
}

func (r *recordingRunner) RunExport(context.Context) error {
	r.calls = append(r.calls, JobExport)
	return r.err
}

func (r *recordingRunner) EnforceRetention() error {
	r.calls = append(r.calls, JobRetention)
	return r.err
}

func TestSetupJobs(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.ScheduleConfig
		retention bool
		wantJobs  []string
		wantErr   bool
	}{
		{
			name:     "snapshot only",
			cfg:      config.ScheduleConfig{Snapshot: "*/10 * * * *"},
			wantJobs: []string{JobSnapshot},
		},
		{
			name:      "all jobs",
			cfg:       config.ScheduleConfig{Snapshot: "*/10 * * * *", Export: "0 2 * * *"},
			retention: true,
			wantJobs:  []string{JobSnapshot, JobExport, JobRetention},
		},
		{
			name:    "invalid expression",
			cfg:     config.ScheduleConfig{Export: "every night"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(&recordingRunner{}, tt.cfg, tt.retention, logging.Discard())
			err := s.SetupJobs()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s.jobIDs, len(tt.wantJobs))
			for _, job := range tt.wantJobs {
				assert.Contains(t, s.jobIDs, job)
			}
		})
	}
}

func TestRunOnce(t *testing.T) {
	runner := &recordingRunner{}
	s := NewScheduler(runner, config.ScheduleConfig{}, false, logging.Discard())

	require.NoError(t, s.RunOnce(JobExport))
	require.NoError(t, s.RunOnce(JobSnapshot))
	require.NoError(t, s.RunOnce(JobRetention))
	assert.Equal(t, []string{JobExport, JobSnapshot, JobRetention}, runner.calls)

	assert.Error(t, s.RunOnce("vacuum"))

	runner.err = errors.New("boom")
	assert.EqualError(t, s.RunOnce(JobExport), "boom")
}

func TestNextRunTime(t *testing.T) {
	s := NewScheduler(&recordingRunner{}, config.ScheduleConfig{Export: "0 2 * * *"}, false, logging.Discard())
	require.NoError(t, s.SetupJobs())

	next, err := s.NextRunTime(JobExport)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))

	_, err = s.NextRunTime(JobSnapshot)
	assert.Error(t, err)
}

func TestStopCancelsJobContext(t *testing.T) {
	s := NewScheduler(&recordingRunner{}, config.ScheduleConfig{}, false, logging.Discard())
	s.Start()
	s.Stop()
	assert.Error(t, s.ctx.Err())
}

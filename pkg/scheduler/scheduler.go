// Package scheduler runs exports unattended on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/config"
)

// Job names
const (
	JobSnapshot  = "snapshot"
	JobExport    = "export"
	JobRetention = "retention"
)

// retentionSchedule runs local retention at minute 15 of every hour
const retentionSchedule = "15 * * * *"

// Runner performs the work behind each scheduled job
type Runner interface {
	RunSnapshot(ctx context.Context) error
	RunExport(ctx context.Context) error
	EnforceRetention() error
}

// Scheduler handles cron scheduling for exports and retention
type Scheduler struct {
	cronScheduler *cron.Cron
	runner        Runner
	cfg           config.ScheduleConfig
	retention     bool
	logger        *logrus.Logger
	jobIDs        map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler. A job that is still running when
// its next tick fires is skipped, so runs never overlap.
func NewScheduler(runner Runner, cfg config.ScheduleConfig, retention bool, logger *logrus.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cronScheduler: cron.New(cron.WithLogger(cronLogger), cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		runner:    runner,
		cfg:       cfg,
		retention: retention,
		logger:    logger,
		jobIDs:    make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetupJobs configures all scheduled jobs
func (s *Scheduler) SetupJobs() error {
	jobs := []struct {
		name     string
		schedule string
	}{
		{JobSnapshot, s.cfg.Snapshot},
		{JobExport, s.cfg.Export},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			s.logger.Infof("No schedule configured for %s, skipping", job.name)
			continue
		}
		if err := s.add(job.name, job.schedule); err != nil {
			return err
		}
	}

	if s.retention {
		if err := s.add(JobRetention, retentionSchedule); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) add(name, schedule string) error {
	id, err := s.cronScheduler.AddFunc(schedule, func() {
		if err := s.RunOnce(name); err != nil {
			s.logger.Errorf("Scheduled %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s with cron expression '%s': %w", name, schedule, err)
	}
	s.jobIDs[name] = id
	s.logger.Infof("Scheduled %s with cron expression: %s", name, schedule)
	return nil
}

// Start begins the scheduled jobs
func (s *Scheduler) Start() {
	s.cronScheduler.Start()
	s.logger.Info("Export scheduler started successfully")
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cronScheduler.Stop()
	<-ctx.Done()
	s.logger.Info("Export scheduler stopped")
}

// WaitForever blocks until ctx is done
func (s *Scheduler) WaitForever(ctx context.Context) {
	<-ctx.Done()
}

// RunOnce runs the named job immediately
func (s *Scheduler) RunOnce(name string) error {
	start := time.Now()
	s.logger.Infof("Starting %s...", name)

	var err error
	switch name {
	case JobSnapshot:
		err = s.runner.RunSnapshot(s.ctx)
	case JobExport:
		err = s.runner.RunExport(s.ctx)
	case JobRetention:
		err = s.runner.EnforceRetention()
	default:
		return fmt.Errorf("unknown job %q", name)
	}
	if err != nil {
		return err
	}
	s.logger.Infof("Finished %s in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}

// NextRunTime returns when the named job fires next
func (s *Scheduler) NextRunTime(name string) (time.Time, error) {
	id, ok := s.jobIDs[name]
	if !ok {
		return time.Time{}, fmt.Errorf("no scheduled job found for %s", name)
	}
	return s.cronScheduler.Entry(id).Schedule.Next(time.Now()), nil
}

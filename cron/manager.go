package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/types"
)

var pollDurationBuckets = []float64{0.05, 0.1, 0.5, 1, 5, 10, 30}

// Manager is a types.PollScheduler on top of robfig/cron. Every job runs on a
// constant delay schedule; a run that is still going when the next tick fires is
// skipped instead of queued. A stopped Manager cannot be started again.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	timezone        *time.Location
	shutdownTimeout time.Duration

	mu      sync.RWMutex
	jobs    map[string]*pollJob
	stopped bool
	running atomic.Bool
}

type pollJob struct {
	id    cron.EntryID
	stats types.JobEntry
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.CronConfig) *Manager {
	m := &Manager{
		logger:          logger,
		metrics:         metrics,
		timezone:        time.UTC,
		shutdownTimeout: 10 * time.Second,
		jobs:            make(map[string]*pollJob),
	}

	if config != nil {
		if loc, err := time.LoadLocation(config.Timezone); err == nil {
			m.timezone = loc
		} else {
			logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", config.Timezone))
		}
		if config.ShutdownTimeout > 0 {
			m.shutdownTimeout = config.ShutdownTimeout
		}
	}

	cronLogger := zapCronLogger{logger: logger}
	m.cron = cron.New(
		cron.WithLocation(m.timezone),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	m.ctx, m.cancel = context.WithCancel(ctx)

	return m
}

// Schedule registers job to run every interval. Intervals are rounded down to whole
// seconds, with a floor of one second.
func (m *Manager) Schedule(name string, interval time.Duration, job types.PollJob) error {
	switch {
	case name == "":
		return types.ErrCronJobNameIsEmpty
	case interval <= 0:
		return types.Errorf(types.ErrCronIntervalInvalid, "interval %s", interval)
	case job == nil:
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return types.ErrCronSchedulerStopped
	}
	if _, exists := m.jobs[name]; exists {
		return types.ErrCronJobExists
	}

	id := m.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { m.run(name, job) }))
	m.jobs[name] = &pollJob{
		id:    id,
		stats: types.JobEntry{Name: name, Interval: interval},
	}
	m.setGauge("poll_jobs_scheduled", float64(len(m.jobs)))

	m.logger.Debug("Poll job scheduled", zap.String("job_name", name), zap.Duration("interval", interval))
	return nil
}

// Cancel removes the job. A run already in progress is allowed to finish.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[name]
	if !exists {
		return false
	}

	m.cron.Remove(job.id)
	delete(m.jobs, name)
	m.setGauge("poll_jobs_scheduled", float64(len(m.jobs)))

	m.logger.Debug("Poll job cancelled", zap.String("job_name", name))
	return true
}

func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.jobs[name]
	return exists
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// Job returns the run statistics of a scheduled job.
func (m *Manager) Job(name string) (types.JobEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[name]
	if !exists {
		return types.JobEntry{}, false
	}
	return job.stats, true
}

func (m *Manager) Start() error {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()

	if stopped {
		return types.ErrCronSchedulerStopped
	}
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrCronIsRunning
	}

	m.cron.Start()
	m.setGauge("poll_scheduler_running", 1)

	m.logger.Info("Poll scheduler started", zap.String("timezone", m.timezone.String()))
	return nil
}

// Stop cancels the context handed to running jobs and waits for them up to the
// shutdown timeout.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	m.mu.Lock()
	m.stopped = true
	m.jobs = make(map[string]*pollJob)
	m.mu.Unlock()

	m.cancel()
	m.setGauge("poll_scheduler_running", 0)
	m.setGauge("poll_jobs_scheduled", 0)

	timer := time.NewTimer(m.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-m.cron.Stop().Done():
		m.logger.Info("Poll scheduler stopped")
		return nil
	case <-timer.C:
		m.logger.Warn("Poll scheduler stop timeout, some jobs may still be running")
		return types.ErrCronJobTimeout
	}
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func (m *Manager) run(name string, job types.PollJob) {
	if m.ctx.Err() != nil || !m.Has(name) {
		return
	}

	start := time.Now()
	err := m.call(job)
	duration := time.Since(start)

	m.mu.Lock()
	if pj, exists := m.jobs[name]; exists {
		pj.stats.Runs++
		pj.stats.LastRun = start
		pj.stats.LastDuration = duration
		pj.stats.LastError = ""
		if err != nil {
			pj.stats.Failures++
			pj.stats.LastError = err.Error()
		}
	}
	m.mu.Unlock()

	m.record(name, duration, err)

	if err != nil {
		m.logger.Debug("Poll job failed",
			zap.String("job_name", name),
			zap.Duration("duration", duration),
			zap.Error(err))
	}
}

func (m *Manager) call(job types.PollJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
		}
	}()

	return job(m.ctx)
}

func (m *Manager) record(name string, duration time.Duration, err error) {
	if m.metrics == nil {
		return
	}

	kind := string(types.KindOf(name))
	result := "success"
	if err != nil {
		result = "error"
		m.metrics.Counter("poll_job_errors_total", map[string]string{"kind": kind}).Inc()
	}

	m.metrics.Counter("poll_job_executions_total", map[string]string{"kind": kind, "result": result}).Inc()
	m.metrics.Histogram("poll_job_duration_seconds", pollDurationBuckets, map[string]string{"kind": kind}).Observe(duration.Seconds())
}

func (m *Manager) setGauge(name string, value float64) {
	if m.metrics != nil {
		m.metrics.Gauge(name, nil).Set(value)
	}
}

// zapCronLogger routes robfig/cron's own logging through types.Logger.
type zapCronLogger struct {
	logger types.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, toFields(keysAndValues)...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(toFields(keysAndValues), zap.Error(err))...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}

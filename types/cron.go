package types

import (
	"context"
	"time"
)

type PollJob func(ctx context.Context) error

// PollScheduler runs one recurring job per name until it is cancelled.
type PollScheduler interface {
	Schedule(name string, interval time.Duration, job PollJob) error
	Cancel(name string) bool
	Has(name string) bool
}

// JobEntry reports how a scheduled poll job has been doing.
type JobEntry struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastError    string        `json:"last_error,omitempty"`
}

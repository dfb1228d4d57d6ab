package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/sqlpersistence/internal/metrics"
	"github.com/roach88/sqlpersistence/internal/settings"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/store"
)

// Cleaner defaults.
const (
	DefaultFrequency              = settings.DefaultCleanupFrequency
	DefaultRetention              = settings.DefaultRetention
	DefaultBatchSize              = settings.DefaultCleanupBatchSize
	DefaultMaxConsecutiveFailures = 10
)

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithFrequency sets the interval between cleanup runs.
func WithFrequency(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		c.frequency = d
	}
}

// WithRetention sets how long dispatched records are kept.
func WithRetention(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		c.retention = d
	}
}

// WithBatchSize sets the most rows one delete statement removes.
func WithBatchSize(n int) CleanerOption {
	return func(c *Cleaner) {
		c.batchSize = n
	}
}

// WithMaxConsecutiveFailures sets how many failed runs in a row raise a
// critical error.
func WithMaxConsecutiveFailures(n int) CleanerOption {
	return func(c *Cleaner) {
		c.maxFailures = n
	}
}

// WithCriticalError sets the callback raised after too many consecutive
// failures. The cleaner keeps running afterwards.
func WithCriticalError(fn func(error)) CleanerOption {
	return func(c *Cleaner) {
		c.onCritical = fn
	}
}

// WithCleanupDisabled turns Start into a no-op. RunOnce still removes rows.
func WithCleanupDisabled(disabled bool) CleanerOption {
	return func(c *Cleaner) {
		c.disabled = disabled
	}
}

// WithCleanerClock sets the time source for the retention cutoff.
func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		c.now = now
	}
}

// WithCleanerLogger sets the logger.
func WithCleanerLogger(l *slog.Logger) CleanerOption {
	return func(c *Cleaner) {
		c.logger = l
	}
}

// CleanerOptions maps outbox settings to cleaner options. Zero settings keep
// the defaults.
func CleanerOptions(s settings.OutboxSettings) []CleanerOption {
	var opts []CleanerOption
	if s.CleanupFrequency > 0 {
		opts = append(opts, WithFrequency(s.CleanupFrequency))
	}
	if s.Retention > 0 {
		opts = append(opts, WithRetention(s.Retention))
	}
	if s.BatchSize > 0 {
		opts = append(opts, WithBatchSize(s.BatchSize))
	}
	if s.DisableCleanup {
		opts = append(opts, WithCleanupDisabled(true))
	}
	return opts
}

// Cleaner periodically removes dispatched outbox records past retention.
type Cleaner struct {
	persister *Persister
	ex        store.Executor

	frequency   time.Duration
	retention   time.Duration
	batchSize   int
	maxFailures int
	disabled    bool
	onCritical  func(error)
	now         func() time.Time
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleaner creates a stopped cleaner.
func NewCleaner(p *Persister, ex store.Executor, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		persister:   p,
		ex:          ex,
		frequency:   DefaultFrequency,
		retention:   DefaultRetention,
		batchSize:   DefaultBatchSize,
		maxFailures: DefaultMaxConsecutiveFailures,
		onCritical:  func(error) {},
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Disabled reports whether periodic cleanup is turned off.
func (c *Cleaner) Disabled() bool { return c.disabled }

// Retention is how long dispatched records are kept.
func (c *Cleaner) Retention() time.Duration { return c.retention }

// RunOnce removes every dispatched record older than the retention period.
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.retention)
	n, err := c.persister.RemoveEntriesOlderThan(ctx, c.ex, cutoff, c.batchSize)
	metrics.OutboxRowsRemovedTotal.Add(float64(n))
	if err != nil {
		metrics.OutboxCleanupRunsTotal.WithLabelValues(metrics.Fail).Inc()
		return n, err
	}
	metrics.OutboxCleanupRunsTotal.WithLabelValues(metrics.Ok).Inc()
	return n, nil
}

// Start runs cleanup every frequency until ctx is cancelled or Stop is
// called. A disabled cleaner logs and returns without starting.
func (c *Cleaner) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		c.logger.Info("outbox cleanup disabled")
		return nil
	}
	if c.cancel != nil {
		return errors.New("cleaner already started")
	}
	if c.frequency <= 0 {
		return errors.New("cleanup frequency must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)

	c.logger.Info("outbox cleaner started",
		"frequency", c.frequency, "retention", c.retention, "batch_size", c.batchSize)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("outbox cleaner stopped")
}

func (c *Cleaner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.frequency)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := c.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.logger.Warn("outbox cleanup failed", "error", err, "consecutive_failures", failures)
			if failures >= c.maxFailures {
				metrics.OutboxCriticalErrorsTotal.Inc()
				c.onCritical(sqlerr.Wrap("cleanup", entity, sqlerr.ErrCleanupFailure, err))
				failures = 0
			}
			continue
		}
		failures = 0
		if n > 0 {
			c.logger.Info("outbox cleaned", "removed", n)
		}
	}
}

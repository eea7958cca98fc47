package billing

import (
	"log/slog"
	"time"
)

const defaultMaxWriteAttempts = 3

type options struct {
	logger      *slog.Logger
	metrics     *Metrics
	deduper     Deduper
	now         func() time.Time
	maxAttempts int
}

// Option configures billing components.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus counters. Components run without metrics
// when it is not given.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDeduper skips webhook events already applied.
func WithDeduper(d Deduper) Option {
	return func(o *options) { o.deduper = d }
}

// WithClock overrides the time source used for reconciliation watermarks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxWriteAttempts bounds conditional write retries after a lost update.
func WithMaxWriteAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		now:         time.Now,
		maxAttempts: defaultMaxWriteAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

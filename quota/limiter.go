// Package quota implements a distributed per-subject daily counter that
// gates admission to expensive downstream work by subscription tier.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Tier is a subscription tier with a configured daily ceiling.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Unlimited disables the ceiling for a tier.
const Unlimited int64 = -1

// counterTTL is the rolling window after the first increment of a day's
// counter. Combined with the calendar-day key this makes usage reset on a
// day boundary rather than a sliding window.
const counterTTL = 24 * time.Hour

// ErrUnknownTier is returned for a tier without a configured ceiling.
var ErrUnknownTier = errors.New("quota: unknown tier")

// Limits holds the daily ceilings per tier.
type Limits struct {
	Free       int64
	Basic      int64
	Pro        int64
	Enterprise int64
}

// DefaultLimits returns the stock ceilings: enterprise is unlimited.
func DefaultLimits() Limits {
	return Limits{
		Free:       50,
		Basic:      500,
		Pro:        5000,
		Enterprise: Unlimited,
	}
}

func (l Limits) ceiling(tier Tier) (int64, error) {
	switch tier {
	case TierFree:
		return l.Free, nil
	case TierBasic:
		return l.Basic, nil
	case TierPro:
		return l.Pro, nil
	case TierEnterprise:
		return l.Enterprise, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
}

// Store is the key-value backend for counters. Incr must be an atomic
// read-modify-write in a single round trip, since many consumer threads
// across many processes increment the same subject concurrently.
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	GetInt(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error
}

// Recorder records quota decisions.
type Recorder interface {
	RecordQuotaDecision(tier string, allowed bool)
}

// NoOpRecorder discards quota metrics.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordQuotaDecision(tier string, allowed bool) {}

// Limiter gates admission against the per-subject daily counters. Store
// unavailability fails closed: admission is denied and the error returned,
// so a broken counter store cannot grant unmetered work.
type Limiter struct {
	store    Store
	limits   Limits
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// LimiterOption configures the limiter.
type LimiterOption func(*Limiter)

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) LimiterOption {
	return func(l *Limiter) {
		l.recorder = recorder
	}
}

// WithClock overrides the time source. Used by tests to cross day
// boundaries.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter over the given store and ceilings.
func NewLimiter(store Store, limits Limits, options ...LimiterOption) *Limiter {
	l := &Limiter{
		store:    store,
		limits:   limits,
		logger:   slog.Default(),
		recorder: NoOpRecorder{},
		now:      time.Now,
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

// key builds the counter key for subject on the current UTC calendar day.
// Operators may inspect or delete these keys directly for manual
// remediation.
func (l *Limiter) key(subject string) string {
	return "quota:" + subject + ":" + l.now().UTC().Format("20060102")
}

// HasRemainingQuota reports whether subject still has admission left today
// without consuming any.
func (l *Limiter) HasRemainingQuota(ctx context.Context, subject string, tier Tier) (bool, error) {
	ceiling, err := l.limits.ceiling(tier)
	if err != nil {
		return false, err
	}
	if ceiling == Unlimited {
		return true, nil
	}

	usage, err := l.store.GetInt(ctx, l.key(subject))
	if err != nil {
		l.logger.Error("quota store read failed, denying admission",
			"subject", subject,
			"tier", tier,
			"error", err,
		)
		return false, fmt.Errorf("quota: read usage for %s: %w", subject, err)
	}

	return usage < ceiling, nil
}

// ConsumeQuota atomically increments today's counter for subject and reports
// whether the admission is within the ceiling. The increment happens even on
// the call that exceeds quota, so the denying call still counts; callers
// must account for that. operation names the gated work for logging.
func (l *Limiter) ConsumeQuota(ctx context.Context, subject string, tier Tier, operation string) (bool, error) {
	ceiling, err := l.limits.ceiling(tier)
	if err != nil {
		return false, err
	}

	key := l.key(subject)
	usage, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.Error("quota store increment failed, denying admission",
			"subject", subject,
			"tier", tier,
			"operation", operation,
			"error", err,
		)
		return false, fmt.Errorf("quota: increment usage for %s: %w", subject, err)
	}

	// First increment of the day arms the expiry. Concurrent callers can
	// both observe 1 in a narrow window; setting the TTL twice is harmless,
	// skipping it is not.
	if usage == 1 {
		if err := l.store.Expire(ctx, key, counterTTL); err != nil {
			l.logger.Error("failed to set quota counter expiry",
				"subject", subject,
				"key", key,
				"error", err,
			)
		}
	}

	if ceiling != Unlimited && usage > ceiling {
		l.logger.Warn("quota exceeded",
			"subject", subject,
			"tier", tier,
			"operation", operation,
			"usage", usage,
			"ceiling", ceiling,
		)
		l.recorder.RecordQuotaDecision(string(tier), false)
		return false, nil
	}

	l.recorder.RecordQuotaDecision(string(tier), true)
	return true, nil
}

// GetRemainingQuota returns how many admissions subject has left today, or
// Unlimited for an unlimited tier.
func (l *Limiter) GetRemainingQuota(ctx context.Context, subject string, tier Tier) (int64, error) {
	ceiling, err := l.limits.ceiling(tier)
	if err != nil {
		return 0, err
	}
	if ceiling == Unlimited {
		return Unlimited, nil
	}

	usage, err := l.store.GetInt(ctx, l.key(subject))
	if err != nil {
		return 0, fmt.Errorf("quota: read usage for %s: %w", subject, err)
	}

	remaining := ceiling - usage
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetQuota deletes today's counter for subject. Admin-only; expiry is
// otherwise the sole deletion path.
func (l *Limiter) ResetQuota(ctx context.Context, subject string) error {
	if err := l.store.Del(ctx, l.key(subject)); err != nil {
		return fmt.Errorf("quota: reset %s: %w", subject, err)
	}
	l.logger.Info("quota reset", "subject", subject)
	return nil
}

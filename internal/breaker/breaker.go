// Package breaker implements the failure-counting circuit breaker that
// gates every delivery attempt to the agent gateway. State lives in Redis
// so that dispatch attempts from unrelated worker processes share one
// view of gateway health.
package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failuresKey = "outpost:breaker:failures"
	// openedAtKey holds the open-transition time in unix nanoseconds;
	// a coarser stamp would shorten the cooldown window it anchors.
	openedAtKey = "outpost:breaker:opened_at"

	DefaultFailureThreshold = 3
	DefaultCooldown         = 60 * time.Second
)

type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Snapshot is the operator-facing view of breaker health.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	RetryAfterSeconds   int       `json:"retry_after_seconds"`
}

type Breaker struct {
	client    *redis.Client
	ctx       context.Context
	threshold int
	cooldown  time.Duration
}

type Option func(*Breaker)

func WithThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = n }
}

func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) { b.cooldown = d }
}

func NewBreaker(client *redis.Client, opts ...Option) *Breaker {
	b := &Breaker{
		client:    client,
		ctx:       context.Background(),
		threshold: DefaultFailureThreshold,
		cooldown:  DefaultCooldown,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Available reports whether a delivery attempt may proceed. It is a pure
// probe: once the cooldown has elapsed it returns true without touching
// state, and the next RecordSuccess or RecordFailure moves the machine.
func (b *Breaker) Available() bool {
	openedAt, ok := b.openedAt()
	if !ok {
		return true
	}

	return time.Since(openedAt) >= b.cooldown
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() error {
	pipe := b.client.Pipeline()
	pipe.Del(b.ctx, failuresKey)
	pipe.Del(b.ctx, openedAtKey)
	_, err := pipe.Exec(b.ctx)
	if err != nil {
		return fmt.Errorf("failed to reset breaker state: %w", err)
	}

	return nil
}

// RecordFailure increments the consecutive failure count and opens the
// circuit when the count reaches the threshold. INCR is atomic, so under
// concurrent failures exactly one caller observes the threshold crossing;
// SETNX keeps failures inside the cooldown window from restamping the
// open time. A failed trial after the cooldown has elapsed re-arms the
// cooldown from that failure.
func (b *Breaker) RecordFailure() error {
	count, err := b.client.Incr(b.ctx, failuresKey).Result()
	if err != nil {
		return fmt.Errorf("failed to record breaker failure: %w", err)
	}

	if count < int64(b.threshold) {
		return nil
	}

	set, err := b.client.SetNX(b.ctx, openedAtKey, time.Now().UnixNano(), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to open breaker: %w", err)
	}

	if !set {
		if openedAt, ok := b.openedAt(); ok && time.Since(openedAt) >= b.cooldown {
			if err := b.client.Set(b.ctx, openedAtKey, time.Now().UnixNano(), 0).Err(); err != nil {
				return fmt.Errorf("failed to re-open breaker: %w", err)
			}
		}
	}

	return nil
}

// RetryAfter returns the remaining cooldown, floored at zero. A closed
// circuit always returns zero.
func (b *Breaker) RetryAfter() time.Duration {
	openedAt, ok := b.openedAt()
	if !ok {
		return 0
	}

	remaining := b.cooldown - time.Since(openedAt)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Reset is the administrative override: forces closed with zero failures.
func (b *Breaker) Reset() error {
	return b.RecordSuccess()
}

func (b *Breaker) Snapshot() Snapshot {
	snap := Snapshot{
		State:             StateClosed,
		RetryAfterSeconds: int(b.RetryAfter().Seconds()),
	}

	count, err := b.client.Get(b.ctx, failuresKey).Result()
	if err == nil {
		snap.ConsecutiveFailures, _ = strconv.Atoi(count)
	}

	if openedAt, ok := b.openedAt(); ok {
		snap.State = StateOpen
		snap.OpenedAt = openedAt
	}

	return snap
}

func (b *Breaker) openedAt() (time.Time, bool) {
	val, err := b.client.Get(b.ctx, openedAtKey).Result()
	if err != nil {
		return time.Time{}, false
	}

	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.Unix(0, nanos), true
}

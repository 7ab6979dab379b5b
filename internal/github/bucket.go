package github

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// BucketName selects which upstream quota a request draws from.
type BucketName string

const (
	// BucketSearch covers /search endpoints: 30 requests/minute.
	BucketSearch BucketName = "search"
	// BucketCore covers everything else: 5000 requests/hour.
	BucketCore BucketName = "core"
)

// Bucket is a continuously refilling token bucket. The clock is injected so
// tests control refill; all limiter calls use the time-parameterized rate
// API and never consult the wall clock themselves.
type Bucket struct {
	name BucketName
	lim  *rate.Limiter
	now  func() time.Time
}

// NewBucket builds a bucket with the given capacity refilled evenly over
// the period, starting full.
func NewBucket(name BucketName, capacity int, period time.Duration, now func() time.Time) *Bucket {
	if now == nil {
		now = time.Now
	}
	perSecond := float64(capacity) / period.Seconds()
	lim := rate.NewLimiter(rate.Limit(perSecond), capacity)
	// Limiters start at epoch-relative full; anchor the token state to the
	// injected clock so the first refill math is correct.
	lim.ReserveN(now(), 0)
	return &Bucket{name: name, lim: lim, now: now}
}

// Wait returns how long the caller must sleep before the next token is
// available, consuming the token. Zero means proceed immediately.
func (b *Bucket) Wait() time.Duration {
	now := b.now()
	r := b.lim.ReserveN(now, 1)
	return r.DelayFrom(now)
}

// Tokens reports the current token count, clamped to capacity.
func (b *Bucket) Tokens() float64 {
	return b.lim.TokensAt(b.now())
}

// Buckets holds the two GitHub quotas.
type Buckets struct {
	Search *Bucket
	Core   *Bucket
}

// NewBuckets builds the standard GitHub pair: search 30/min, core 5000/hr.
func NewBuckets(now func() time.Time) *Buckets {
	return &Buckets{
		Search: NewBucket(BucketSearch, 30, time.Minute, now),
		Core:   NewBucket(BucketCore, 5000, time.Hour, now),
	}
}

// Get returns the bucket for a name, defaulting to core.
func (b *Buckets) Get(name BucketName) *Bucket {
	if name == BucketSearch {
		return b.Search
	}
	return b.Core
}

// consume blocks (via the injected sleep) until a token is available,
// reporting any wait through the throttle callback.
func (c *Client) consume(ctx context.Context, name BucketName) error {
	bucket := c.buckets.Get(name)
	wait := bucket.Wait()
	if wait <= 0 {
		return nil
	}
	c.emitThrottle(ThrottleEvent{
		Bucket: string(name),
		WaitMS: ceilMS(wait),
		Reason: ReasonTokenBucketEmpty,
	})
	return c.sleep(ctx, wait)
}

func ceilMS(d time.Duration) int64 {
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

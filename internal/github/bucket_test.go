package github

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time            { return c.t }
func (c *fakeClock) Advance(d time.Duration)   { c.t = c.t.Add(d) }

func TestBucketStartsFull(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(BucketSearch, 30, time.Minute, clock.Now)

	for i := 0; i < 30; i++ {
		assert.Zero(t, b.Wait(), "token %d should be immediate", i)
	}
}

func TestBucketEmptyWaitMatchesRefillRate(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(BucketSearch, 30, time.Minute, clock.Now)

	for i := 0; i < 30; i++ {
		require.Zero(t, b.Wait())
	}

	// Bucket empty: the next consume must wait ceil((1 - tokens)/rate).
	// Rate is 30/min = 0.5 tokens/s, so one token takes 2s.
	wait := b.Wait()
	assert.Greater(t, wait, time.Duration(0))
	assert.InDelta(t, float64(2*time.Second), float64(wait), float64(50*time.Millisecond))
}

func TestBucketRefillsLinearly(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(BucketSearch, 30, time.Minute, clock.Now)

	for i := 0; i < 30; i++ {
		require.Zero(t, b.Wait())
	}
	require.InDelta(t, 0, b.Tokens(), 0.001)

	// Half the period restores half the capacity.
	clock.Advance(30 * time.Second)
	assert.InDelta(t, 15, b.Tokens(), 0.001)

	// A full period clamps at capacity, not beyond.
	clock.Advance(5 * time.Minute)
	assert.InDelta(t, 30, b.Tokens(), 0.001)
}

func TestCoreBucketRate(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(BucketCore, 5000, time.Hour, clock.Now)

	for i := 0; i < 5000; i++ {
		require.Zero(t, b.Wait())
	}

	// 5000/hr: one token every 720ms.
	wait := b.Wait()
	expected := time.Hour / 5000
	assert.InDelta(t, float64(expected), float64(wait), float64(50*time.Millisecond))
}

func TestBucketsGet(t *testing.T) {
	bs := NewBuckets(newFakeClock().Now)
	assert.Same(t, bs.Search, bs.Get(BucketSearch))
	assert.Same(t, bs.Core, bs.Get(BucketCore))
	assert.Same(t, bs.Core, bs.Get(BucketName("unknown")))
}

func TestCeilMS(t *testing.T) {
	assert.EqualValues(t, 0, ceilMS(0))
	assert.EqualValues(t, 1, ceilMS(time.Microsecond))
	assert.EqualValues(t, 1, ceilMS(time.Millisecond))
	assert.EqualValues(t, 2000, ceilMS(2*time.Second))
	assert.EqualValues(t, int64(math.Ceil(1500.000001)), ceilMS(1500*time.Millisecond+time.Nanosecond))
}

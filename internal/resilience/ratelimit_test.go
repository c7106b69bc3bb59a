package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_ConsumeWithinCapacity(t *testing.T) {
	b := NewTokenBucket(10, 5, time.Second)
	res := b.Consume(4, false)
	assert.True(t, res.Allowed)
	assert.Equal(t, 6.0, res.TokensRemaining)
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	now := time.Now()
	b := NewTokenBucket(10, 5, time.Second)
	b.now = func() time.Time { return now }
	b.Consume(10, false)

	b.now = func() time.Time { return now.Add(10 * time.Second) }
	assert.LessOrEqual(t, b.Tokens(), 10.0)
}

func TestTokenBucket_NonBlockingRejectsWithoutWait(t *testing.T) {
	b := NewTokenBucket(2, 1, time.Second)
	b.Consume(2, false)
	res := b.Consume(1, false)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.WaitTimeMs)
}

func TestTokenBucket_BlockingReportsWaitTime(t *testing.T) {
	b := NewTokenBucket(2, 1, time.Second)
	b.Consume(2, false)
	res := b.Consume(1, true)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(1000), res.WaitTimeMs)
}

func TestTokenBucket_LazyRefill(t *testing.T) {
	now := time.Now()
	b := NewTokenBucket(10, 2, time.Second)
	b.now = func() time.Time { return now }
	b.Consume(10, false)

	b.now = func() time.Time { return now.Add(3 * time.Second) }
	assert.Equal(t, 6.0, b.Tokens())
}

func TestExchangeBatchCost(t *testing.T) {
	assert.Equal(t, 1.0, ExchangeBatchCost(1))
	assert.Equal(t, 1.0, ExchangeBatchCost(39))
	assert.Equal(t, 2.0, ExchangeBatchCost(40))
	assert.Equal(t, 2.0, ExchangeBatchCost(79))
	assert.Equal(t, 3.0, ExchangeBatchCost(80))
}

func TestDualBucketRateLimiter_IndependentBuckets(t *testing.T) {
	info := NewTokenBucket(5, 1, time.Second)
	exch := NewTokenBucket(5, 1, time.Second)
	d := NewDualBucketRateLimiter(info, exch)

	res := d.ConsumeExchangeBatch(45, false)
	assert.True(t, res.Allowed)
	assert.Equal(t, 5.0, info.Tokens())
}

package resilience

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ConsumeResult is the outcome of a TokenBucket.Consume call.
type ConsumeResult struct {
	Allowed         bool
	TokensRemaining float64
	// WaitTimeMs is only populated when Allowed is false and the caller
	// requested a blocking estimate.
	WaitTimeMs int64
}

// TokenBucket is a lazily-refilled weighted-cost token bucket, per spec
// §4.R2. Refill is computed on demand from elapsed wall-clock time rather
// than via a background goroutine.
type TokenBucket struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens added per interval
	interval   time.Duration

	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

// NewTokenBucket creates a bucket starting full.
func NewTokenBucket(capacity, refillRate float64, interval time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		interval:   interval,
		tokens:     capacity,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 || b.interval <= 0 {
		return
	}
	intervalsElapsed := math.Floor(float64(elapsed) / float64(b.interval))
	if intervalsElapsed <= 0 {
		return
	}
	gained := intervalsElapsed * b.refillRate
	b.tokens = math.Min(b.capacity, b.tokens+gained)
	b.lastRefill = b.lastRefill.Add(time.Duration(intervalsElapsed) * b.interval)
}

// Consume attempts to take n tokens. When blocking is false, an
// insufficient balance simply reports Allowed=false. When blocking is
// true, WaitTimeMs is populated with the time until n tokens would be
// available, per the ceil((n-tokens)/refillRate)*interval contract.
func (b *TokenBucket) Consume(n float64, blocking bool) ConsumeResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens >= n {
		b.tokens -= n
		return ConsumeResult{Allowed: true, TokensRemaining: b.tokens}
	}

	res := ConsumeResult{Allowed: false, TokensRemaining: b.tokens}
	if blocking {
		deficit := n - b.tokens
		intervalsNeeded := math.Ceil(deficit / b.refillRate)
		res.WaitTimeMs = int64(intervalsNeeded) * b.interval.Milliseconds()
	}
	return res
}

// ConsumeAndWait waits the computed refill time (plus up to ±10% jitter,
// capped at maxWaitMs) and retries once. It returns the final result of
// that single retry.
func (b *TokenBucket) ConsumeAndWait(n float64, maxWaitMs int64) ConsumeResult {
	first := b.Consume(n, true)
	if first.Allowed {
		return first
	}

	wait := first.WaitTimeMs
	jitterRange := float64(wait) * 0.10
	jitter := (rand.Float64()*2 - 1) * jitterRange
	waitWithJitter := wait + int64(jitter)
	if waitWithJitter < 0 {
		waitWithJitter = 0
	}
	if waitWithJitter > maxWaitMs {
		waitWithJitter = maxWaitMs
	}

	time.Sleep(time.Duration(waitWithJitter) * time.Millisecond)
	return b.Consume(n, false)
}

// Tokens reports the current token balance after applying any pending
// refill. Exposed for tests and metrics.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// BucketClass names one of the two call classes a DualBucketRateLimiter
// throttles independently.
type BucketClass string

const (
	ClassInfo     BucketClass = "info"
	ClassExchange BucketClass = "exchange"
)

// DualBucketRateLimiter maintains independent info/exchange buckets. The
// exchange bucket applies a batch discount: submitting k items costs
// 1 + floor(k/40) tokens instead of k.
type DualBucketRateLimiter struct {
	info     *TokenBucket
	exchange *TokenBucket
}

// NewDualBucketRateLimiter builds a limiter from two pre-configured
// buckets.
func NewDualBucketRateLimiter(info, exchange *TokenBucket) *DualBucketRateLimiter {
	return &DualBucketRateLimiter{info: info, exchange: exchange}
}

// Bucket returns the underlying bucket for a class.
func (d *DualBucketRateLimiter) Bucket(class BucketClass) *TokenBucket {
	if class == ClassExchange {
		return d.exchange
	}
	return d.info
}

// ExchangeBatchCost computes the weighted cost of submitting k items in one
// batch: 1 + floor(k/40).
func ExchangeBatchCost(k int) float64 {
	if k <= 0 {
		return 0
	}
	return 1 + math.Floor(float64(k)/40.0)
}

// ConsumeInfo consumes n tokens from the info bucket.
func (d *DualBucketRateLimiter) ConsumeInfo(n float64, blocking bool) ConsumeResult {
	return d.info.Consume(n, blocking)
}

// ConsumeExchangeBatch consumes the batch-discounted cost of a k-item
// exchange submission.
func (d *DualBucketRateLimiter) ConsumeExchangeBatch(k int, blocking bool) ConsumeResult {
	return d.exchange.Consume(ExchangeBatchCost(k), blocking)
}

package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled continuously at requestsPerMinute.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	tokens            float64
	lastUpdate        time.Time
	blockedUntil      time.Time

	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time

	now func() time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter that starts with a full bucket.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		tokens:            float64(requestsPerMinute),
		lastUpdate:        time.Now(),
		now:               time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		wait := r.reserve()
		r.mu.Unlock()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token if one is available.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserve() == 0
}

// Record429 notes a rate-limit response. A positive retryAfter empties the
// bucket and blocks every caller until it has elapsed.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.last429Time = now
	if retryAfter > 0 {
		r.tokens = 0
		r.lastUpdate = now
		if until := now.Add(retryAfter); until.After(r.blockedUntil) {
			r.blockedUntil = until
		}
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	utilization := 1.0 - (r.tokens / float64(r.requestsPerMinute))
	if utilization < 0 {
		utilization = 0
	}
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.requestsPerMinute,
		Utilization:     utilization,
		TimeUntilToken:  r.untilToken(),
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		Last429Time:     r.last429Time,
	}
}

// reserve consumes a token and returns 0, or returns how long to wait.
// Must be called with lock held.
func (r *RateLimiter) reserve() time.Duration {
	r.refill()
	if wait := r.untilToken(); wait > 0 {
		return wait
	}
	r.tokens--
	r.totalConsumed++
	return 0
}

// untilToken must be called with lock held after refill.
func (r *RateLimiter) untilToken() time.Duration {
	now := r.now()
	if now.Before(r.blockedUntil) {
		return r.blockedUntil.Sub(now)
	}
	if r.tokens >= 1.0 {
		return 0
	}
	perSecond := float64(r.requestsPerMinute) / 60.0
	wait := time.Duration((1.0 - r.tokens) / perSecond * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// refill must be called with lock held.
func (r *RateLimiter) refill() {
	now := r.now()
	if now.Before(r.blockedUntil) {
		r.lastUpdate = now
		return
	}
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * float64(r.requestsPerMinute) / 60.0
	if r.tokens > float64(r.requestsPerMinute) {
		r.tokens = float64(r.requestsPerMinute)
	}
}

// LimitedClient gates another client's calls through a RateLimiter.
type LimitedClient struct {
	LLMClient
	limiter *RateLimiter
}

// NewLimitedClient wraps client with a limiter of requestsPerMinute.
func NewLimitedClient(client LLMClient, requestsPerMinute int) *LimitedClient {
	return &LimitedClient{LLMClient: client, limiter: NewRateLimiter(requestsPerMinute)}
}

// Limiter exposes the limiter for status reporting.
func (c *LimitedClient) Limiter() *RateLimiter {
	return c.limiter
}

// Chat waits for a token, then forwards the request.
func (c *LimitedClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	queued := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	queueTime := time.Since(queued)

	result, err := c.LLMClient.Chat(ctx, req)
	if rle, ok := IsRateLimitError(err); ok {
		c.limiter.Record429(rle.RetryAfter)
	}
	if result != nil {
		result.QueueTime = queueTime
		result.TotalTime += queueTime
	}
	return result, err
}

var _ LLMClient = (*LimitedClient)(nil)

package tahan

import (
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	internalbackoff "github.com/ambiyansyah-risyal/tahan/internal/backoff"
)

// DefaultJitter is the jitter fraction added on top of each backoff delay.
const DefaultJitter = 0.1

// JitterSource returns a uniform value in [0, 1).
type JitterSource func() float64

// NewSeededJitter returns a deterministic, concurrency-safe JitterSource.
func NewSeededJitter(seed int64) JitterSource {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64()
	}
}

// RetryDecision is the outcome of one retry evaluation.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
}

// RetryController decides whether a failed attempt is retried and how long to
// wait first. It holds no per-call state and is safe for concurrent use.
type RetryController struct {
	maxAttempts int
	calculator  *internalbackoff.Calculator
	jitter      JitterSource
}

// NewRetryController creates a controller allowing up to maxAttempts total
// attempts with exponential backoff from baseDelay. A nil jitter source uses
// math/rand.
func NewRetryController(maxAttempts int, baseDelay time.Duration, jitter JitterSource) *RetryController {
	if jitter == nil {
		jitter = rand.Float64
	}
	return &RetryController{
		maxAttempts: maxAttempts,
		calculator:  internalbackoff.NewCalculator(internalbackoff.ExponentialJitterStrategy{}, baseDelay, DefaultJitter),
		jitter:      jitter,
	}
}

// MaxAttempts returns the total attempt budget.
func (rc *RetryController) MaxAttempts() int {
	return rc.maxAttempts
}

// BaseDelay returns the delay before the second attempt, without jitter.
func (rc *RetryController) BaseDelay() time.Duration {
	return rc.calculator.Base()
}

// Decide evaluates a failure of the given 1-based attempt. Retries are refused
// once the attempt budget is spent, for 4xx other than 429, for
// authentication, validation, cancellation and unclassified errors, and for
// non-idempotent requests unless the failure happened before the server
// answered (network or timeout).
func (rc *RetryController) Decide(attempt int, err error, idempotent bool) RetryDecision {
	if attempt >= rc.maxAttempts {
		return RetryDecision{}
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return RetryDecision{}
	}

	switch clientErr.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		// Eligible regardless of idempotency.
	case ErrorTypeServer:
		if !idempotent {
			return RetryDecision{}
		}
	case ErrorTypeClient:
		if clientErr.StatusCode != http.StatusTooManyRequests || !idempotent {
			return RetryDecision{}
		}
	default:
		return RetryDecision{}
	}

	return RetryDecision{
		ShouldRetry: true,
		Delay:       rc.Backoff(attempt),
	}
}

// Backoff returns base * 2^(attempt-1) plus up to 10% jitter.
func (rc *RetryController) Backoff(attempt int) time.Duration {
	return rc.calculator.Calculate(attempt, rc.jitter)
}

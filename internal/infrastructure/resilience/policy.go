package resilience

import "time"

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// WithRetryAttempts returns a copy with its own attempt budget. Callers that have a local
// fallback (the reranker) use a single attempt so a slow scorer cannot eat the search deadline.
func (c Config) WithRetryAttempts(attempts int) Config {
	out := c
	out.RetryMaxAttempts = attempts
	return out
}

// Adjustments names the fields normalize replaces with defaults.
func (c Config) Adjustments() []string {
	_, adjusted := c.normalizeWithReport()
	return adjusted
}

func (c Config) normalize() Config {
	out, _ := c.normalizeWithReport()
	return out
}

func (c Config) normalizeWithReport() (Config, []string) {
	out := c
	def := DefaultConfig()
	var adjusted []string
	fix := func(name string, invalid bool, apply func()) {
		if invalid {
			apply()
			adjusted = append(adjusted, name)
		}
	}

	fix("retry_max_attempts", out.RetryMaxAttempts <= 0, func() { out.RetryMaxAttempts = def.RetryMaxAttempts })
	fix("retry_initial_backoff", out.RetryInitialBackoff <= 0, func() { out.RetryInitialBackoff = def.RetryInitialBackoff })
	fix("retry_max_backoff", out.RetryMaxBackoff <= 0, func() { out.RetryMaxBackoff = def.RetryMaxBackoff })
	fix("retry_max_backoff", out.RetryMaxBackoff < out.RetryInitialBackoff, func() { out.RetryMaxBackoff = out.RetryInitialBackoff })
	fix("retry_multiplier", out.RetryMultiplier < 1.0, func() { out.RetryMultiplier = def.RetryMultiplier })

	fix("breaker_min_requests", out.BreakerMinRequests == 0, func() { out.BreakerMinRequests = def.BreakerMinRequests })
	fix("breaker_failure_ratio", out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1, func() { out.BreakerFailureRatio = def.BreakerFailureRatio })
	fix("breaker_open_timeout", out.BreakerOpenTimeout <= 0, func() { out.BreakerOpenTimeout = def.BreakerOpenTimeout })
	fix("breaker_half_open_max_calls", out.BreakerHalfOpenMaxCalls == 0, func() { out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls })

	return out, adjusted
}

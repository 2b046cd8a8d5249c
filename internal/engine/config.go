package engine

import "time"

// Config tunes scheduling. Zero fields take the defaults below.
type Config struct {
	MaxConcurrentBlocks int
	MaxInflightCalls    int
	DefaultMaxRetries   int // negative means no retries
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	// InputTimeout fails a block left WAITING_FOR_INPUT this long. Zero waits forever.
	InputTimeout time.Duration
}

const (
	DefaultMaxConcurrentBlocks = 4
	DefaultMaxInflightCalls    = 16
	DefaultMaxRetries          = 3
	DefaultRetryBaseDelay      = 2 * time.Second
	DefaultRetryMaxDelay       = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxConcurrentBlocks <= 0 {
		c.MaxConcurrentBlocks = DefaultMaxConcurrentBlocks
	}
	if c.MaxInflightCalls <= 0 {
		c.MaxInflightCalls = DefaultMaxInflightCalls
	}
	switch {
	case c.DefaultMaxRetries == 0:
		c.DefaultMaxRetries = DefaultMaxRetries
	case c.DefaultMaxRetries < 0:
		c.DefaultMaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	return c
}

// Backoff is the delay before retry number n (1-based): base × 2^(n-1), capped.
func (c Config) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := c.RetryBaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.RetryMaxDelay || d <= 0 {
			return c.RetryMaxDelay
		}
	}
	if d > c.RetryMaxDelay {
		return c.RetryMaxDelay
	}
	return d
}

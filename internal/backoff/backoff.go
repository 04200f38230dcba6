// Package backoff suppresses retries of a failed source for a fixed delay.
package backoff

import (
	"time"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// DefaultDelay is applied when no delay is configured.
const DefaultDelay = 10 * time.Minute

// Policy is a constant-delay backoff. Each failure sets the not-before time
// to now plus the delay; there is no escalation.
type Policy struct {
	delay time.Duration
}

// New builds a Policy. A non-positive delay falls back to DefaultDelay.
func New(delay time.Duration) Policy {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return Policy{delay: delay}
}

// Delay returns the configured delay.
func (p Policy) Delay() time.Duration {
	return p.delay
}

// ShouldSkip reports whether cfg is still inside its backoff window.
func (p Policy) ShouldSkip(cfg crawl.SourceConfig, now time.Time) bool {
	return cfg.BackoffUntil != nil && cfg.BackoffUntil.After(now)
}

// OnFailure returns the new backoffUntil for cfg.
func (p Policy) OnFailure(_ crawl.SourceConfig, now time.Time) time.Time {
	return now.Add(p.delay)
}

package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/conceptd/internal/config"
)

// Trigger names the condition that made a batch ready.
type Trigger string

const (
	TriggerNone  Trigger = ""
	TriggerTime  Trigger = "time"
	TriggerSize  Trigger = "size"
	TriggerFlush Trigger = "flush"
)

// TriggerPolicy decides when a batch is worth an extraction call.
type TriggerPolicy struct {
	// Interval since the last extraction start after which the time trigger
	// may fire.
	Interval time.Duration
	// MinChars must be exceeded for the time trigger.
	MinChars int
	// MaxChars fires the size trigger once exceeded, regardless of time.
	MaxChars int
}

// DefaultPolicy returns the stock thresholds: 5s, 20 and 200 characters.
func DefaultPolicy() TriggerPolicy {
	return TriggerPolicy{
		Interval: 5 * time.Second,
		MinChars: 20,
		MaxChars: 200,
	}
}

// PolicyFromConfig builds a policy from batch settings.
func PolicyFromConfig(c config.BatchConfig) TriggerPolicy {
	return TriggerPolicy{
		Interval: c.Interval.Duration(),
		MinChars: c.MinChars,
		MaxChars: c.MaxChars,
	}
}

// Evaluate reports which trigger, if any, a batch of length characters
// started elapsed ago satisfies. The size trigger wins when both hold.
func (p TriggerPolicy) Evaluate(length int, elapsed time.Duration) Trigger {
	if length <= 0 {
		return TriggerNone
	}
	if length > p.MaxChars {
		return TriggerSize
	}
	if elapsed >= p.Interval && length > p.MinChars {
		return TriggerTime
	}
	return TriggerNone
}

// Ready reports whether any trigger holds.
func (p TriggerPolicy) Ready(length int, elapsed time.Duration) bool {
	return p.Evaluate(length, elapsed) != TriggerNone
}

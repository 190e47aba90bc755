// Package matcher computes confidence scores between candidate pairs
// of payment notifications.
//
// A pair of opposite-role records is scored 0-100 by additive weighted
// criteria with hard early exits: a direction clash, an amount
// mismatch or divergent reference codes force the score to zero
// immediately, because no amount of corroborating signal can make two
// such messages describe one transfer. Time proximity, channel
// equality and counterparty-name correlation only ever add points.
//
// Example usage:
//
//	engine := matcher.NewEngine(matcher.DefaultConfig())
//	result := engine.Score(payerRecord, payeeRecord)
//	if result.Accepted {
//		// resolve the pair
//	}
package matcher

import (
	"fmt"
	"time"
)

// Config holds the scoring thresholds and candidate-selection windows.
type Config struct {
	// AcceptThreshold is the minimum score (0.0-1.0) at which a
	// candidate is accepted as the match.
	AcceptThreshold float64 `json:"accept_threshold"`

	// AutoLookback bounds how far back the automatic pipeline searches
	// for counterpart candidates.
	AutoLookback time.Duration `json:"auto_lookback"`

	// OperatorLookback bounds operator-assisted candidate lookups,
	// which tolerate much older counterparts.
	OperatorLookback time.Duration `json:"operator_lookback"`

	// NearTimeWindow and FarTimeWindow grade the gap between the two
	// messages' extracted timestamps.
	NearTimeWindow time.Duration `json:"near_time_window"`
	FarTimeWindow  time.Duration `json:"far_time_window"`

	// MaxCandidates caps how many candidates are scored per record.
	MaxCandidates int `json:"max_candidates"`
}

// DefaultConfig returns the production scoring configuration.
func DefaultConfig() *Config {
	return &Config{
		AcceptThreshold:  0.85,
		AutoLookback:     time.Hour,
		OperatorLookback: 7 * 24 * time.Hour,
		NearTimeWindow:   5 * time.Minute,
		FarTimeWindow:    10 * time.Minute,
		MaxCandidates:    20,
	}
}

// Validate checks the scoring configuration.
func (c *Config) Validate() error {
	if c.AcceptThreshold <= 0.0 || c.AcceptThreshold > 1.0 {
		return fmt.Errorf("accept threshold must be in (0.0, 1.0]: %f", c.AcceptThreshold)
	}
	if c.AutoLookback <= 0 {
		return fmt.Errorf("auto lookback must be positive: %s", c.AutoLookback)
	}
	if c.OperatorLookback < c.AutoLookback {
		return fmt.Errorf("operator lookback %s cannot be shorter than auto lookback %s",
			c.OperatorLookback, c.AutoLookback)
	}
	if c.NearTimeWindow <= 0 || c.FarTimeWindow < c.NearTimeWindow {
		return fmt.Errorf("time windows must satisfy 0 < near (%s) <= far (%s)",
			c.NearTimeWindow, c.FarTimeWindow)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive: %d", c.MaxCandidates)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// String returns a human-readable description of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("matcher.Config{Threshold: %.2f, AutoLookback: %s, OperatorLookback: %s}",
		c.AcceptThreshold, c.AutoLookback, c.OperatorLookback)
}

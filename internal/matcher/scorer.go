package matcher

import (
	"strings"

	"payment-reconciliation-service/internal/models"
)

// Point values for the additive criteria. The maximum achievable total
// is 100: direction 20, amount 30, reference up to 30, time up to 10,
// channel 5, counterparty 5.
const (
	directionPoints = 20
	amountPoints    = 30

	refExactPoints    = 30
	refPrefixPoints   = 28
	refContainsPoints = 25
	refAbsentPoints   = 15

	timeNearPoints = 10
	timeFarPoints  = 5

	channelPoints      = 5
	counterpartyPoints = 5
)

// Result is the scored comparison of one record against one candidate.
type Result struct {
	Record    *models.NotificationRecord
	Candidate *models.NotificationRecord

	// Score is points/100 in [0.0, 1.0].
	Score    float64
	Points   int
	Accepted bool

	// Reasons lists the criteria that contributed or forced an exit.
	Reasons []string
}

// Engine scores candidate pairs using the configured thresholds.
type Engine struct {
	config *Config
}

// NewEngine creates a scoring engine. A nil config selects defaults.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *Config {
	return e.config.Clone()
}

// Score computes the confidence that record and candidate describe the
// same real-world transfer.
func (e *Engine) Score(record, candidate *models.NotificationRecord) *Result {
	result := &Result{Record: record, Candidate: candidate}

	// 1. Opposite direction required. Two messages describing money
	// moving the same way can never be one transfer.
	switch {
	case record.Role == models.RoleUnknown || candidate.Role == models.RoleUnknown:
		result.Reasons = append(result.Reasons, "direction unknown on one side")
	case record.Role == candidate.Role:
		result.Reasons = append(result.Reasons, "same direction, rejected")
		return result
	default:
		result.Points += directionPoints
		result.Reasons = append(result.Reasons, "opposite directions")
	}

	// 2. Exact amount match. The amount is the strongest financial
	// invariant and is never fuzzy-matched.
	if !record.HasAmount() || !candidate.HasAmount() ||
		!record.Amount.Decimal.Equal(candidate.Amount.Decimal) {
		result.Reasons = append(result.Reasons, "amount mismatch, rejected")
		result.Points = 0
		return result
	}
	result.Points += amountPoints
	result.Reasons = append(result.Reasons, "exact amount match")

	// 3. Reference codes.
	refPoints, refReason, reject := scoreReferences(record.Reference, candidate.Reference)
	if reject {
		result.Reasons = append(result.Reasons, refReason)
		result.Points = 0
		return result
	}
	result.Points += refPoints
	result.Reasons = append(result.Reasons, refReason)

	// 4. Timestamp proximity. Corroborating, never decisive.
	if record.MessageTime != nil && candidate.MessageTime != nil {
		gap := record.MessageTime.Sub(*candidate.MessageTime)
		if gap < 0 {
			gap = -gap
		}
		switch {
		case gap <= e.config.NearTimeWindow:
			result.Points += timeNearPoints
			result.Reasons = append(result.Reasons, "timestamps close")
		case gap <= e.config.FarTimeWindow:
			result.Points += timeFarPoints
			result.Reasons = append(result.Reasons, "timestamps near")
		}
	}

	// 5. Same channel.
	if record.Channel != "" && record.Channel == candidate.Channel {
		result.Points += channelPoints
		result.Reasons = append(result.Reasons, "same channel")
	}

	// 6. Counterparty-name correlation.
	if namesCorrelate(record.Counterparty, candidate.Counterparty) {
		result.Points += counterpartyPoints
		result.Reasons = append(result.Reasons, "counterparty names correlate")
	}

	result.Score = float64(result.Points) / 100.0
	result.Accepted = result.Score >= e.config.AcceptThreshold
	return result
}

// BestMatch scores candidates in the given order and returns the first
// one clearing the acceptance threshold. Callers pass candidates
// most-recent-first; accepting the first hit instead of ranking all
// candidates is intentional (reference-code exactness makes competing
// plausible candidates rare).
func (e *Engine) BestMatch(record *models.NotificationRecord, candidates []*models.NotificationRecord) (*Result, bool) {
	limit := len(candidates)
	if limit > e.config.MaxCandidates {
		limit = e.config.MaxCandidates
	}

	for _, candidate := range candidates[:limit] {
		result := e.Score(record, candidate)
		if result.Accepted {
			return result, true
		}
	}
	return nil, false
}

// scoreReferences grades the two reference codes. Divergent codes are
// a hard reject; absence on both sides falls back to a reduced award
// so weaker signals can still carry a pair with no code anywhere.
func scoreReferences(a, b string) (points int, reason string, reject bool) {
	a, b = strings.ToUpper(strings.TrimSpace(a)), strings.ToUpper(strings.TrimSpace(b))

	switch {
	case a == "" && b == "":
		return refAbsentPoints, "no reference on either side", false
	case a == "" || b == "":
		return 0, "reference on one side only", false
	case a == b:
		return refExactPoints, "exact reference match", false
	case strings.HasPrefix(a, b) || strings.HasPrefix(b, a):
		return refPrefixPoints, "reference prefix match", false
	case strings.Contains(a, b) || strings.Contains(b, a):
		return refContainsPoints, "reference containment match", false
	default:
		return 0, "divergent references, rejected", true
	}
}

// namesCorrelate reports whether the payer's stated recipient
// resembles the payee's stated sender: case-insensitive containment,
// a shared leading token, or at least half the tokens in common.
func namesCorrelate(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	tokensA, tokensB := strings.Fields(a), strings.Fields(b)
	if tokensA[0] == tokensB[0] {
		return true
	}

	set := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		set[t] = true
	}
	shared := 0
	for _, t := range tokensB {
		if set[t] {
			shared++
		}
	}
	smaller := len(tokensA)
	if len(tokensB) < smaller {
		smaller = len(tokensB)
	}
	return shared > 0 && shared*2 >= smaller
}

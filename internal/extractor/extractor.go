// Package extractor turns free-text payment notifications into
// structured records.
//
// Extraction is best-effort and degrades field by field: a message
// with a recoverable amount but no reference code still produces a
// usable result, and every miss is noted for operator diagnostics.
// Nothing in this package returns an error; absence is expressed as
// null/empty fields.
package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config bounds the heuristics of the extractor.
type Config struct {
	// MinPlausibleAmount and MaxPlausibleAmount bound the bare-number
	// fallback used when no labeled amount pattern matches. Numbers
	// outside the range (years, phone fragments, account digits) are
	// ignored.
	MinPlausibleAmount decimal.Decimal `json:"min_plausible_amount"`
	MaxPlausibleAmount decimal.Decimal `json:"max_plausible_amount"`

	// DefaultChannel is assumed when neither the hint nor the text
	// identifies a channel.
	DefaultChannel string `json:"default_channel"`
}

// DefaultConfig returns extraction bounds suitable for ETB deposits.
func DefaultConfig() *Config {
	return &Config{
		MinPlausibleAmount: decimal.NewFromInt(1),
		MaxPlausibleAmount: decimal.NewFromInt(1000000),
		DefaultChannel:     "",
	}
}

// Validate checks the extraction configuration.
func (c *Config) Validate() error {
	if c.MinPlausibleAmount.IsNegative() {
		return errInvalidBound("min_plausible_amount", c.MinPlausibleAmount)
	}
	if !c.MaxPlausibleAmount.GreaterThan(c.MinPlausibleAmount) {
		return errInvalidBound("max_plausible_amount", c.MaxPlausibleAmount)
	}
	return nil
}

// Result holds the structured fields recovered from one message.
// Every field except RawText may be absent.
type Result struct {
	RawText      string
	Amount       decimal.NullDecimal
	Reference    string
	Counterparty string
	Channel      string
	MessageTime  *time.Time

	// Debit and Credit are independent keyword hits; a message may
	// set neither, leaving the direction unknown.
	Debit  bool
	Credit bool

	// Notes records which heuristics fired or missed, for the
	// record's debug field.
	Notes []string
}

// DirectionKnown reports whether at least one direction keyword family
// matched.
func (r *Result) DirectionKnown() bool {
	return r.Debit || r.Credit
}

// Extractor parses notification text using ordered pattern lists and a
// per-channel reference normalizer registry.
type Extractor struct {
	config      *Config
	normalizers map[string]ReferenceNormalizer
}

// New creates an extractor with the given configuration and the
// built-in channel normalizers.
func New(config *Config) *Extractor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Extractor{
		config:      config,
		normalizers: builtinNormalizers(),
	}
}

// RegisterNormalizer installs or replaces the reference normalizer for
// a channel. Normalizers are channel-specific cleanup heuristics; see
// the CBE suffix stripper in channels.go.
func (e *Extractor) RegisterNormalizer(channel string, n ReferenceNormalizer) {
	e.normalizers[strings.ToUpper(channel)] = n
}

// Labeled amount patterns, tried in order. Group 1 is the numeric part.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bETB\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?i)\b([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*(?:ETB|birr)\b`),
	regexp.MustCompile(`(?i)\bamount\s*[:=]?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?i)\b(?:sent|transferred|received|paid|credited with|debited with)\s+(?:ETB\s*)?([0-9][0-9,]*(?:\.[0-9]{1,2})?)\b`),
}

var bareNumberPattern = regexp.MustCompile(`\b([0-9][0-9,]*(?:\.[0-9]{1,2})?)\b`)

// Reference patterns in priority order: tracking-URL query parameter,
// labeled "Ref No" field, bare alphanumeric code.
var (
	urlReferencePattern     = regexp.MustCompile(`(?i)https?://\S+?[?&](?:id|ref|trx|transactionid)=([A-Za-z0-9]+)`)
	labeledReferencePattern = regexp.MustCompile(`(?i)\bref(?:erence)?\s*(?:no\.?|number|#)?\s*[:=]?\s*([A-Za-z0-9]{6,})`)
	bareReferencePattern    = regexp.MustCompile(`\b([A-Z]{2,4}[0-9][A-Z0-9]{5,})\b`)
)

// Direction keyword families. The two are independent: a message may
// match both (rare, e.g. forwarded threads) or neither.
var (
	debitKeywords  = regexp.MustCompile(`(?i)\b(?:sent|transferred|debited|paid|withdrawn)\b`)
	creditKeywords = regexp.MustCompile(`(?i)\b(?:received|credited|deposited)\b`)
)

// Labeled date+time, e.g. "on 14/06/2025 at 10:32:05" or
// "on 2025-06-14 10:32".
var timestampPattern = regexp.MustCompile(
	`(?i)\bon\s+([0-9]{1,4}[-/][0-9]{1,2}[-/][0-9]{1,4})[,\s]+(?:at\s+)?([0-9]{1,2}:[0-9]{2}(?::[0-9]{2})?)\s*(AM|PM)?\b`)

var timestampLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006 3:04 PM",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
}

// Counterparty phrases: "to <name>" on debits, "from <name>" on
// credits. Group 1 is trimmed at the next punctuation or stopword.
var (
	toNamePattern   = regexp.MustCompile(`(?i)\bto\s+([A-Za-z][A-Za-z .'\-]{1,60})`)
	fromNamePattern = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z][A-Za-z .'\-]{1,60})`)
)

var nameStopwords = map[string]bool{
	"on": true, "at": true, "via": true, "ref": true, "reference": true,
	"with": true, "your": true, "account": true, "amount": true, "having": true,
}

// Extract parses one message. channelHint, when recognized, overrides
// channel detection from the text.
func (e *Extractor) Extract(text, channelHint string) *Result {
	result := &Result{RawText: text}

	result.Channel = DetectChannel(text, channelHint)
	if result.Channel == "" {
		result.Channel = e.config.DefaultChannel
	}

	e.extractAmount(text, result)
	e.extractReference(text, result)
	e.extractDirection(text, result)
	e.extractTimestamp(text, result)
	e.extractCounterparty(text, result)

	return result
}

func (e *Extractor) extractAmount(text string, result *Result) {
	for _, pattern := range amountPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if amount, ok := parseAmount(m[1]); ok {
				result.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
				return
			}
		}
	}

	// Fallback: first bare number inside the plausible range. This is
	// deliberately last so labeled values always win over stray digits.
	for _, m := range bareNumberPattern.FindAllStringSubmatch(text, -1) {
		amount, ok := parseAmount(m[1])
		if !ok {
			continue
		}
		if amount.LessThan(e.config.MinPlausibleAmount) ||
			amount.GreaterThan(e.config.MaxPlausibleAmount) {
			continue
		}
		result.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
		result.Notes = append(result.Notes, "amount from unlabeled number")
		return
	}

	result.Notes = append(result.Notes, "no amount found")
}

func (e *Extractor) extractReference(text string, result *Result) {
	if m := urlReferencePattern.FindStringSubmatch(text); m != nil {
		ref := strings.ToUpper(m[1])
		if n, ok := e.normalizers[result.Channel]; ok {
			ref = n.Normalize(ref)
		}
		result.Reference = ref
		return
	}

	if m := labeledReferencePattern.FindStringSubmatch(text); m != nil {
		result.Reference = strings.ToUpper(m[1])
		return
	}

	if m := bareReferencePattern.FindStringSubmatch(text); m != nil {
		result.Reference = strings.ToUpper(m[1])
		return
	}

	result.Notes = append(result.Notes, "no reference found")
}

func (e *Extractor) extractDirection(text string, result *Result) {
	result.Debit = debitKeywords.MatchString(text)
	result.Credit = creditKeywords.MatchString(text)
	if !result.DirectionKnown() {
		result.Notes = append(result.Notes, "direction unknown")
	}
}

func (e *Extractor) extractTimestamp(text string, result *Result) {
	m := timestampPattern.FindStringSubmatch(text)
	if m == nil {
		result.Notes = append(result.Notes, "no timestamp found")
		return
	}

	candidate := m[1] + " " + m[2]
	if m[3] != "" {
		candidate += " " + strings.ToUpper(m[3])
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			result.MessageTime = &t
			return
		}
	}
	result.Notes = append(result.Notes, "unparseable timestamp: "+candidate)
}

func (e *Extractor) extractCounterparty(text string, result *Result) {
	var m []string
	switch {
	case result.Debit && !result.Credit:
		m = toNamePattern.FindStringSubmatch(text)
	case result.Credit && !result.Debit:
		m = fromNamePattern.FindStringSubmatch(text)
	default:
		// Ambiguous or unknown direction: try "to" then "from".
		if m = toNamePattern.FindStringSubmatch(text); m == nil {
			m = fromNamePattern.FindStringSubmatch(text)
		}
	}
	if m == nil {
		return
	}
	result.Counterparty = trimName(m[1])
}

// trimName cuts a captured name at the first stopword or leftover
// punctuation so "Jane Doe on 14/06/2025" becomes "Jane Doe".
func trimName(raw string) string {
	var kept []string
	for _, token := range strings.Fields(raw) {
		clean := strings.Trim(token, ".,;:")
		if nameStopwords[strings.ToLower(clean)] {
			break
		}
		kept = append(kept, clean)
		if len(kept) == 4 {
			break
		}
	}
	return strings.Join(kept, " ")
}

// parseAmount converts a captured numeric string to a decimal,
// dropping thousands separators.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

type boundError struct {
	field string
	value decimal.Decimal
}

func (e *boundError) Error() string {
	return "invalid extractor bound " + e.field + ": " + e.value.String()
}

func errInvalidBound(field string, value decimal.Decimal) error {
	return &boundError{field: field, value: value}
}

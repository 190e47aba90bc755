package extractor

import "strings"

// Channel identifiers for the banks and mobile-money providers the
// extractor knows about.
const (
	ChannelCBE      = "CBE"
	ChannelTelebirr = "TELEBIRR"
	ChannelAwash    = "AWASH"
	ChannelDashen   = "DASHEN"
	ChannelBOA      = "BOA"
)

// channelKeywords maps lowercase phrases found in notification text to
// a channel identifier. Longer phrases are listed first so "commercial
// bank of ethiopia" wins over a bare "bank".
var channelKeywords = []struct {
	phrase  string
	channel string
}{
	{"commercial bank of ethiopia", ChannelCBE},
	{"bank of abyssinia", ChannelBOA},
	{"apps.cbe.com", ChannelCBE},
	{"cbe", ChannelCBE},
	{"telebirr", ChannelTelebirr},
	{"awash", ChannelAwash},
	{"dashen", ChannelDashen},
	{"boa", ChannelBOA},
}

// DetectChannel resolves the originating channel from a caller hint or
// the message text. An empty string means unrecognized.
func DetectChannel(text, hint string) string {
	if hint != "" {
		upper := strings.ToUpper(strings.TrimSpace(hint))
		for _, kw := range channelKeywords {
			if kw.channel == upper {
				return kw.channel
			}
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range channelKeywords {
		if strings.Contains(lower, kw.phrase) {
			return kw.channel
		}
	}
	return ""
}

// ReferenceNormalizer cleans a reference code extracted from a
// tracking URL so that two messages describing the same transfer
// normalize to the same code. The heuristics are channel-specific and
// reverse-engineered from observed message samples, so each channel
// registers its own implementation.
type ReferenceNormalizer interface {
	Normalize(ref string) string
}

// suffixStripper removes a fixed-length numeric account suffix from
// the tail of a reference code. CBE tracking URLs append the 8-digit
// receiving-account fragment to the transfer reference; the SMS sent
// to the other party carries the bare reference.
type suffixStripper struct {
	suffixLen int
	// minRemainder guards against stripping a code that is mostly
	// digits to begin with.
	minRemainder int
}

// Normalize strips the account suffix when the tail of the code is all
// digits and enough of the reference remains.
func (s *suffixStripper) Normalize(ref string) string {
	if len(ref) <= s.suffixLen+s.minRemainder-1 {
		return ref
	}
	tail := ref[len(ref)-s.suffixLen:]
	for _, c := range tail {
		if c < '0' || c > '9' {
			return ref
		}
	}
	return ref[:len(ref)-s.suffixLen]
}

// noopNormalizer returns references unchanged, for channels whose URLs
// carry the bare reference already.
type noopNormalizer struct{}

func (noopNormalizer) Normalize(ref string) string { return ref }

func builtinNormalizers() map[string]ReferenceNormalizer {
	return map[string]ReferenceNormalizer{
		ChannelCBE:      &suffixStripper{suffixLen: 8, minRemainder: 5},
		ChannelTelebirr: noopNormalizer{},
	}
}

package extractor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestExtractAmount(t *testing.T) {
	e := New(nil)

	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "etb prefixed",
			text: "Dear customer, ETB 500.00 has been debited from your account",
			want: "500",
			ok:   true,
		},
		{
			name: "etb suffixed with separators",
			text: "You have received 1,250.50 ETB from Abebe",
			want: "1250.5",
			ok:   true,
		},
		{
			name: "birr suffixed",
			text: "You sent 75 birr via telebirr",
			want: "75",
			ok:   true,
		},
		{
			name: "labeled amount field",
			text: "Transfer completed. Amount: 300 Ref No AB123456",
			want: "300",
			ok:   true,
		},
		{
			name: "verb led",
			text: "You have transferred 420.25 to Jane Doe",
			want: "420.25",
			ok:   true,
		},
		{
			name: "bare number fallback",
			text: "Payment of 250 completed successfully",
			want: "250",
			ok:   true,
		},
		{
			name: "no amount",
			text: "Your request could not be processed",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Extract(tt.text, "")
			if result.Amount.Valid != tt.ok {
				t.Fatalf("Extract(%q) amount valid = %v, want %v", tt.text, result.Amount.Valid, tt.ok)
			}
			if !tt.ok {
				return
			}
			want := decimal.RequireFromString(tt.want)
			if !result.Amount.Decimal.Equal(want) {
				t.Errorf("Extract(%q) amount = %s, want %s", tt.text, result.Amount.Decimal, want)
			}
		})
	}
}

func TestExtractReference(t *testing.T) {
	e := New(nil)

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "labeled reference",
			text: "ETB 500.00 credited. Ref No FT1234567 on 14/06/2025",
			want: "FT1234567",
		},
		{
			name: "reference with colon",
			text: "Transfer done, reference: TB99021ABC",
			want: "TB99021ABC",
		},
		{
			name: "bare code",
			text: "Payment FT7QZK91XT processed",
			want: "FT7QZK91XT",
		},
		{
			name: "url parameter wins over bare code",
			text: "Completed. Track at https://example.com/receipt?id=FT1234567 code XX9YYYYYY",
			want: "FT1234567",
		},
		{
			name: "no reference",
			text: "You received 100 birr",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Extract(tt.text, "")
			if result.Reference != tt.want {
				t.Errorf("Extract(%q) reference = %q, want %q", tt.text, result.Reference, tt.want)
			}
		})
	}
}

// The CBE tracking URL appends the receiving account fragment to the
// transfer reference; the counterpart SMS carries the bare reference.
// Both sides must normalize to the same code.
func TestCBEReferenceRoundTrip(t *testing.T) {
	e := New(nil)

	payerText := "Dear customer, you have transferred ETB 500.00 to Abebe Kebede. " +
		"Commercial Bank of Ethiopia https://apps.cbe.com.et:100/receipt?id=FT123456799999999"
	payeeText := "Dear customer, your CBE account has been credited with ETB 500.00 " +
		"from Jane Doe. Ref No FT1234567"

	payer := e.Extract(payerText, "")
	payee := e.Extract(payeeText, "")

	if payer.Channel != ChannelCBE {
		t.Fatalf("payer channel = %q, want %q", payer.Channel, ChannelCBE)
	}
	if payer.Reference != "FT1234567" {
		t.Errorf("payer reference = %q, want FT1234567 (account suffix stripped)", payer.Reference)
	}
	if payee.Reference != "FT1234567" {
		t.Errorf("payee reference = %q, want FT1234567", payee.Reference)
	}
	if payer.Reference != payee.Reference {
		t.Errorf("references diverge: %q vs %q", payer.Reference, payee.Reference)
	}
}

func TestSuffixStripper(t *testing.T) {
	s := &suffixStripper{suffixLen: 8, minRemainder: 5}

	tests := []struct {
		ref  string
		want string
	}{
		{"FT123456799999999", "FT1234567"},
		{"FT1234567", "FT1234567"},      // too short to strip
		{"FT12345ABC99999", "FT12345ABC99999"}, // tail not all digits
		{"", ""},
	}

	for _, tt := range tests {
		if got := s.Normalize(tt.ref); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestExtractDirection(t *testing.T) {
	e := New(nil)

	tests := []struct {
		name   string
		text   string
		debit  bool
		credit bool
	}{
		{"transferred is debit", "You have transferred ETB 100 to Abebe", true, false},
		{"credited is credit", "Your account has been credited with ETB 100", false, true},
		{"neither", "Balance inquiry completed for 100", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Extract(tt.text, "")
			if result.Debit != tt.debit || result.Credit != tt.credit {
				t.Errorf("Extract(%q) debit/credit = %v/%v, want %v/%v",
					tt.text, result.Debit, result.Credit, tt.debit, tt.credit)
			}
		})
	}
}

func TestExtractTimestamp(t *testing.T) {
	e := New(nil)

	result := e.Extract("ETB 500.00 debited on 14/06/2025 at 10:32:05", "")
	if result.MessageTime == nil {
		t.Fatal("expected a message time")
	}
	want := time.Date(2025, time.June, 14, 10, 32, 5, 0, time.UTC)
	if !result.MessageTime.Equal(want) {
		t.Errorf("message time = %v, want %v", result.MessageTime, want)
	}

	result = e.Extract("ETB 500.00 debited yesterday", "")
	if result.MessageTime != nil {
		t.Errorf("message time = %v, want nil", result.MessageTime)
	}
}

func TestExtractCounterparty(t *testing.T) {
	e := New(nil)

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "debit takes recipient",
			text: "You have transferred ETB 500.00 to Abebe Kebede on 14/06/2025",
			want: "Abebe Kebede",
		},
		{
			name: "credit takes sender",
			text: "Your account has been credited with ETB 500.00 from Jane Doe via CBE",
			want: "Jane Doe",
		},
		{
			name: "no counterparty",
			text: "ETB 500.00 has been debited",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Extract(tt.text, "")
			if result.Counterparty != tt.want {
				t.Errorf("Extract(%q) counterparty = %q, want %q", tt.text, result.Counterparty, tt.want)
			}
		})
	}
}

func TestDetectChannel(t *testing.T) {
	tests := []struct {
		name string
		text string
		hint string
		want string
	}{
		{"hint wins", "some message", "cbe", ChannelCBE},
		{"full bank name", "Commercial Bank of Ethiopia transfer complete", "", ChannelCBE},
		{"telebirr keyword", "telebirr payment received", "", ChannelTelebirr},
		{"abyssinia maps to boa", "Bank of Abyssinia alert", "", ChannelBOA},
		{"unknown hint falls back to text", "awash bank alert", "XYZ", ChannelAwash},
		{"unrecognized", "generic payment text", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectChannel(tt.text, tt.hint); got != tt.want {
				t.Errorf("DetectChannel(%q, %q) = %q, want %q", tt.text, tt.hint, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}

	inverted := &Config{
		MinPlausibleAmount: decimal.NewFromInt(100),
		MaxPlausibleAmount: decimal.NewFromInt(10),
	}
	if err := inverted.Validate(); err == nil {
		t.Error("expected error for inverted bounds")
	}
}

package classifier

import (
	"testing"

	"payment-reconciliation-service/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		role models.NotificationRole
	}{
		{
			name: "transferred phrase is payer",
			text: "Dear customer, you have transferred ETB 500.00 to Abebe Kebede",
			role: models.RolePayer,
		},
		{
			name: "sent phrase is payer",
			text: "You sent 75 birr via telebirr",
			role: models.RolePayer,
		},
		{
			name: "paid phrase is payer",
			text: "You paid ETB 120 to Merchant X",
			role: models.RolePayer,
		},
		{
			name: "debited phrase is payer",
			text: "Your account 1*****234 has been debited with ETB 500.00",
			role: models.RolePayer,
		},
		{
			name: "credited phrase is payee",
			text: "Your account has been credited with ETB 500.00 from Jane Doe",
			role: models.RolePayee,
		},
		{
			name: "received phrase is payee",
			text: "You have received 1,250.50 ETB from Abebe",
			role: models.RolePayee,
		},
		{
			name: "deposit phrase is payee",
			text: "Deposit of ETB 200 confirmed, Ref No AB123456",
			role: models.RolePayee,
		},
		{
			name: "ambiguous text is unknown",
			text: "Transaction FT1234567 completed",
			role: models.RoleUnknown,
		},
		{
			name: "empty text is unknown",
			text: "",
			role: models.RoleUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text)
			if got.Role != tt.role {
				t.Errorf("Classify(%q).Role = %s, want %s", tt.text, got.Role, tt.role)
			}
		})
	}
}

func TestClassifyConfidence(t *testing.T) {
	classified := Classify("you have transferred ETB 10 to X")
	if classified.Confidence != matchedConfidence {
		t.Errorf("matched confidence = %v, want %v", classified.Confidence, matchedConfidence)
	}
	if classified.Rule == "" {
		t.Error("matched classification should name its rule")
	}

	unknown := Classify("nothing useful here")
	if unknown.Confidence != unmatchedConfidence {
		t.Errorf("unknown confidence = %v, want %v", unknown.Confidence, unmatchedConfidence)
	}
	if unknown.Rule != "" {
		t.Errorf("unknown classification rule = %q, want empty", unknown.Rule)
	}
}

// Payer rules win when a forwarded thread carries both phrasings, so a
// submitter's own message decides their role.
func TestClassifyPayerRulesFirst(t *testing.T) {
	text := "You have transferred ETB 500. Recipient account has been credited."
	got := Classify(text)
	if got.Role != models.RolePayer {
		t.Errorf("Classify(%q).Role = %s, want %s", text, got.Role, models.RolePayer)
	}
}

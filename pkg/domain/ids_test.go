package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTipID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseTipID("")
		require.Error(t, err)
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTipID("not-a-uuid")
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		u := uuid.New()
		id, err := ParseTipID(u.String())
		require.NoError(t, err)
		assert.Equal(t, TipID(u), id)
	})
}

// TestParseID_TrustBoundary validates parsing of hostile input. Tip and wizard
// ids arrive straight off the wire.
func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE tips;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errTip := ParseTipID(tt.input)
			_, errRecipient := ParseRecipientID(tt.input)
			_, errWizard := ParseWizardID(tt.input)
			if tt.wantErr {
				require.Error(t, errTip)
				require.Error(t, errRecipient)
				require.Error(t, errWizard)
			} else {
				require.NoError(t, errTip)
				require.NoError(t, errRecipient)
				require.NoError(t, errWizard)
			}
		})
	}
}

func TestTypeDistinction(t *testing.T) {
	tipID := TipID(uuid.New())
	recipientID := RecipientID(uuid.New())

	// These would fail to compile if types were interchangeable:
	// var _ TipID = recipientID   // compile error
	// var _ RecipientID = tipID   // compile error

	assert.NotEqual(t, uuid.UUID(tipID), uuid.UUID(recipientID))
}

func TestIDTextRoundtrip(t *testing.T) {
	id := NewTipID()

	raw, err := id.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, id.String(), string(raw))

	var back TipID
	require.NoError(t, back.UnmarshalText(raw))
	assert.Equal(t, id, back)
}

// Defined types do not inherit uuid.UUID's marshalers; the ids must still read
// as canonical UUID strings in JSON payloads.
func TestIDJSONEncoding(t *testing.T) {
	type payload struct {
		Tip    TipID    `json:"tip"`
		Wizard WizardID `json:"wizard"`
	}
	in := payload{Tip: NewTipID(), Wizard: NewWizardID()}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), in.Tip.String())

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestIsNil(t *testing.T) {
	assert.True(t, TipID{}.IsNil())
	assert.True(t, WizardID{}.IsNil())
	assert.False(t, NewTipID().IsNil())
	assert.False(t, NewWizardID().IsNil())
}

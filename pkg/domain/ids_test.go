package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "reconciler/pkg/domain-errors"
)

// TestParseContactID_Invariants validates the parsing invariant:
// "contact IDs are positive decimal integers".
func TestParseContactID_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ContactID
		wantErr bool
	}{
		{"empty string", "", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-4", 0, true},
		{"not a number", "abc", 0, true},
		{"surrounding whitespace", " 12 ", 0, true},
		{"SQL injection attempt", "1; DROP TABLE contacts;--", 0, true},
		{"oversized input", strings.Repeat("9", 40), 0, true},
		{"overflow", "9223372036854775808", 0, true},
		{"valid", "42", 42, false},
		{"max int64", "9223372036854775807", 9223372036854775807, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseContactID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContactID_String(t *testing.T) {
	assert.Equal(t, "17", ContactID(17).String())
	assert.True(t, ContactID(0).IsNil())
	assert.False(t, ContactID(1).IsNil())
	assert.Equal(t, int64(5), ContactID(5).Int64())
}

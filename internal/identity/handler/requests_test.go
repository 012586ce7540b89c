package handler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "reconciler/pkg/domain-errors"
)

func decodeRequest(t *testing.T, body string) *IdentifyRequest {
	t.Helper()
	var req IdentifyRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func TestIdentifyRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		email   *string
		phone   *string
		wantMsg string
	}{
		{name: "email only", body: `{"email":"a@x.com"}`, email: ptr("a@x.com")},
		{name: "phone only", body: `{"phoneNumber":123456}`, phone: ptr("123456")},
		{name: "both", body: `{"email":"a@x.com","phoneNumber":42}`, email: ptr("a@x.com"), phone: ptr("42")},
		{name: "null phone with email", body: `{"email":"a@x.com","phoneNumber":null}`, email: ptr("a@x.com")},
		{name: "empty email with phone", body: `{"email":"","phoneNumber":7}`, phone: ptr("7")},
		{name: "zero is a phone number", body: `{"phoneNumber":0}`, phone: ptr("0")},
		{name: "neither", body: `{}`, wantMsg: "Either email or phoneNumber must be provided"},
		{name: "empty email alone", body: `{"email":""}`, wantMsg: "Either email or phoneNumber must be provided"},
		{name: "blank email", body: `{"email":"  "}`, wantMsg: "Invalid email format"},
		{name: "leading space", body: `{"email":" a@x.com"}`, wantMsg: "Invalid email format"},
		{name: "trailing space with phone", body: `{"email":"a@x.com ","phoneNumber":42}`, wantMsg: "Invalid email format"},
		{name: "malformed email", body: `{"email":"not-an-email"}`, wantMsg: "Invalid email format"},
		{name: "string phone", body: `{"phoneNumber":"123"}`, wantMsg: "phoneNumber must be a number"},
		{name: "boolean phone", body: `{"phoneNumber":true}`, wantMsg: "phoneNumber must be a number"},
		{name: "negative phone", body: `{"phoneNumber":-5}`, wantMsg: "Invalid phone number format"},
		{name: "fractional phone", body: `{"phoneNumber":12.5}`, wantMsg: "Invalid phone number format"},
		{name: "exponent phone", body: `{"phoneNumber":1e5}`, wantMsg: "Invalid phone number format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, tt.body)
			err := req.Validate()
			if tt.wantMsg != "" {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
				assert.Contains(t, err.Error(), tt.wantMsg)
				return
			}
			require.NoError(t, err)
			model := req.ToModel()
			assert.Equal(t, tt.email, model.Email)
			assert.Equal(t, tt.phone, model.PhoneNumber)
		})
	}
}

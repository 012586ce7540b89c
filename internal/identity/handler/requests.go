package handler

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"reconciler/internal/identity/models"
	dErrors "reconciler/pkg/domain-errors"
	pstrings "reconciler/pkg/platform/strings"
)

var validate = validator.New()

var phoneDigitsRE = regexp.MustCompile(`^[0-9]+$`)

// IdentifyRequest is the POST /identify body. phoneNumber arrives as a JSON
// number and is kept raw so its decimal form is preserved exactly.
type IdentifyRequest struct {
	Email       *string         `json:"email"`
	PhoneNumber json.RawMessage `json:"phoneNumber"`

	phone *string
}

// Validate checks the request. An empty email counts as absent; any other
// email is checked exactly as sent, so surrounding whitespace is rejected.
func (r *IdentifyRequest) Validate() error {
	r.Email = pstrings.EmptyToNil(r.Email)

	raw := bytes.TrimSpace(r.PhoneNumber)
	hasPhone := len(raw) > 0 && !bytes.Equal(raw, []byte("null"))

	if r.Email == nil && !hasPhone {
		return dErrors.New(dErrors.CodeValidation, "Either email or phoneNumber must be provided")
	}
	if r.Email != nil {
		if strings.TrimSpace(*r.Email) != *r.Email {
			return dErrors.New(dErrors.CodeValidation, "Invalid email format")
		}
		if err := validate.Var(*r.Email, "required,email"); err != nil {
			return dErrors.New(dErrors.CodeValidation, "Invalid email format")
		}
	}
	if hasPhone {
		phone, err := parsePhoneNumber(raw)
		if err != nil {
			return err
		}
		r.phone = &phone
	}
	return nil
}

func parsePhoneNumber(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "phoneNumber must be a number")
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", dErrors.New(dErrors.CodeValidation, "phoneNumber must be a number")
	}
	if !phoneDigitsRE.MatchString(n.String()) {
		return "", dErrors.New(dErrors.CodeValidation, "Invalid phone number format")
	}
	return n.String(), nil
}

// ToModel converts a validated request.
func (r *IdentifyRequest) ToModel() models.IdentifyRequest {
	return models.IdentifyRequest{Email: r.Email, PhoneNumber: r.phone}
}

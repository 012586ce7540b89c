package domain

import (
	"strconv"
	"strings"

	dErrors "reconciler/pkg/domain-errors"
)

// ContactID identifies a contact record. Values are assigned by the store in
// creation order and are always positive; the zero value means "unset".
type ContactID int64

// maxContactIDLength bounds input before strconv sees it.
const maxContactIDLength = 19

// ParseContactID parses a decimal contact ID from an untrusted string.
func ParseContactID(s string) (ContactID, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "contact id is required")
	}
	if len(s) > maxContactIDLength || strings.TrimSpace(s) != s {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid contact id")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid contact id")
	}
	return ContactID(n), nil
}

func (id ContactID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsNil reports whether the ID is unset.
func (id ContactID) IsNil() bool {
	return id <= 0
}

// Int64 returns the raw value for storage drivers.
func (id ContactID) Int64() int64 {
	return int64(id)
}

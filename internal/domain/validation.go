package domain

import (
	"net/mail"
	"sort"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// ValidationError collects per-field messages for form and JSON input.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

// NewValidationError returns an empty collector.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

// Add records msg against field, keeping the first message per field.
func (v *ValidationError) Add(field, msg string) {
	if _, ok := v.Fields[field]; !ok {
		v.Fields[field] = msg
	}
}

// Empty reports whether no field failed.
func (v *ValidationError) Empty() bool {
	return len(v.Fields) == 0
}

// Err returns v when it holds failures and nil otherwise.
func (v *ValidationError) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return strings.Join(parts, "; ")
}

func (v *ValidationError) Unwrap() error { return ErrInvalidInput }

// NormalizePhoneNumber parses raw using defaultRegion for national numbers
// and returns it in E.164 form.
func NormalizePhoneNumber(raw, defaultRegion string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), defaultRegion)
	if err != nil {
		return "", NewError(ErrInvalidInput, "enter a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", NewError(ErrInvalidInput, "enter a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// NormalizeEmail trims and validates an email address.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

// CheckPassword applies the password policy: at least 8 characters and not
// entirely numeric.
func CheckPassword(password string) string {
	if len(password) < 8 {
		return "password must be at least 8 characters"
	}
	numeric := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		return "password cannot be entirely numeric"
	}
	return ""
}

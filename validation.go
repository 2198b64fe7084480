package briefauth

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxEmailLength    = 254
	minUsernameLength = 3
	maxUsernameLength = 50

	// FieldEmail and FieldUsername are the keys used in FieldErrors.
	FieldEmail    = "email"
	FieldUsername = "username"
)

var (
	emailPattern    = regexp.MustCompile(`\S+@\S+\.\S+`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Credentials is what the credentials screen collects.
type Credentials struct {
	Email    string
	Username string
}

// FieldErrors maps a form field to its user-facing message.
type FieldErrors map[string]string

// Valid reports whether no field failed validation.
func (f FieldErrors) Valid() bool {
	return len(f) == 0
}

// ValidateEmail returns the message for an invalid address or "" when the
// address is acceptable. Lengths count characters, not bytes.
func ValidateEmail(email string) string {
	if strings.TrimSpace(email) == "" {
		return MsgRequiredField
	}
	if utf8.RuneCountInString(email) > maxEmailLength {
		return MsgEmailTooLong
	}
	if !emailPattern.MatchString(email) {
		return MsgInvalidEmail
	}
	return ""
}

// ValidateUsername applies the sign-up username rules.
func ValidateUsername(username string) string {
	if strings.TrimSpace(username) == "" {
		return MsgRequiredField
	}
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || !usernamePattern.MatchString(username) {
		return MsgInvalidUsername
	}
	if n > maxUsernameLength {
		return MsgNameTooLong
	}
	return ""
}

// ValidateForm validates every field the form requires. The username is
// only checked for sign-up.
func ValidateForm(c Credentials, isSignUp bool) FieldErrors {
	errs := FieldErrors{}
	if msg := ValidateEmail(c.Email); msg != "" {
		errs[FieldEmail] = msg
	}
	if isSignUp {
		if msg := ValidateUsername(c.Username); msg != "" {
			errs[FieldUsername] = msg
		}
	}
	return errs
}

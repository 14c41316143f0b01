package session

import (
	"errors"
	"net/mail"
	"strings"
	"unicode"
)

var (
	// ErrEmailRequired indicates the email field was left empty.
	ErrEmailRequired = errors.New("email is required")
	// ErrInvalidEmail indicates the email address could not be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrDisallowedEmailDomain indicates a disposable mail provider was used.
	ErrDisallowedEmailDomain = errors.New("email domain is not allowed")
	// ErrPasswordRequired indicates the password field was left empty.
	ErrPasswordRequired = errors.New("password is required")
	// ErrWeakPassword indicates the password does not meet the strength rules.
	ErrWeakPassword = errors.New("password must be at least 8 characters and contain a letter and a digit")
	// ErrNameRequired indicates the display name was left empty.
	ErrNameRequired = errors.New("name is required")
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

var disallowedDomains = map[string]struct{}{
	"mailinator.com":    {},
	"guerrillamail.com": {},
	"10minutemail.com":  {},
	"tempmail.com":      {},
	"temp-mail.org":     {},
	"yopmail.com":       {},
	"trashmail.com":     {},
	"sharklasers.com":   {},
	"dispostable.com":   {},
	"maildrop.cc":       {},
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks format and rejects disposable domains.
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ErrInvalidEmail
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") {
		return ErrInvalidEmail
	}
	if _, blocked := disallowedDomains[domain]; blocked {
		return ErrDisallowedEmailDomain
	}
	return nil
}

// ValidatePassword enforces the signup strength rules.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len([]rune(password)) < MinPasswordLength {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

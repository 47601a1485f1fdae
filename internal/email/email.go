// Package email provides address validation and parsing helpers.
package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidAddress is returned for recipients that do not parse as an
// email address.
var ErrInvalidAddress = errors.New("invalid email address")

// ValidateAddress checks that addr is a parseable bare email address.
// Display names ("Name <user@host>") are rejected: recipients are
// stored as plain addresses.
func ValidateAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	if parsed.Address != addr {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	return nil
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// DomainLabel returns the recipient's domain for use as a metric
// label, or "unknown" when the address does not yield one.
func DomainLabel(email string) string {
	domain := ExtractDomain(email)
	if domain == "" {
		return "unknown"
	}
	return domain
}

// Package email holds address helpers shared by the config, the mailer and
// sending sessions.
package email

import (
	"net/mail"
	"strings"
)

// ExtractDomain returns the lower-cased domain of an address, accepting the
// "Name <user@host>" form. It returns "" when there is no domain.
func ExtractDomain(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(addr[at+1:], ">"))
}

// DomainOr is ExtractDomain with a fallback for addresses without a domain
func DomainOr(addr, fallback string) string {
	if domain := ExtractDomain(addr); domain != "" {
		return domain
	}
	return fallback
}

// IsAddress reports whether s is a bare, well-formed address such as
// "kari@example.com". Display names and surrounding spaces are rejected.
func IsAddress(s string) bool {
	if s == "" || s != strings.TrimSpace(s) {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" {
		return false
	}
	return addr.Address == s && ExtractDomain(s) != ""
}

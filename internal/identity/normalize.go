package identity

import (
	"net/mail"
	"strings"
)

// domainAliases maps provider alias domains to their canonical domain.
var domainAliases = map[string]string{
	"googlemail.com": "gmail.com",
}

// dotInsensitiveDomains are providers that ignore dots in the local part and
// support +suffix aliases. user.name+news@gmail.com and username@gmail.com are
// the same mailbox.
var dotInsensitiveDomains = map[string]bool{
	"gmail.com": true,
}

// Normalize canonicalizes an email address for identity comparison.
// It parses RFC 5322 values like "Name <User+tag@Example.COM>", lowercases,
// rewrites alias domains to their canonical form, and for dot-insensitive
// providers strips dots and +suffixes from the local part.
// It never fails; unparsable input yields a best-effort string, empty for nothing.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	email := raw
	if addr, err := mail.ParseAddress(raw); err == nil && addr != nil {
		email = addr.Address
	}
	email = strings.ToLower(strings.TrimSpace(email))

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return email
	}
	local := email[:at]
	domain := email[at+1:]

	if canonical, ok := domainAliases[domain]; ok {
		domain = canonical
	}

	if dotInsensitiveDomains[domain] {
		if plus := strings.IndexByte(local, '+'); plus > -1 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
	}

	return local + "@" + domain
}

// DisplayName extracts the display-name part of an RFC 5322 address, falling
// back to the bare address when no name is present.
func DisplayName(raw string) string {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr == nil {
		return strings.TrimSpace(raw)
	}
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}

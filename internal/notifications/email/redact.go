package email

import "strings"

// RedactEmail masks an address for logs, keeping the first character of the
// local part and the domain: "jane@example.com" becomes "j***@example.com".
// Input without an "@" is masked entirely.
func RedactEmail(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	local, domain, ok := strings.Cut(address, "@")
	if !ok || domain == "" {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	r := []rune(local)
	return string(r[0]) + "***@" + domain
}

package internal

import (
	"regexp"
	"strings"
)

// PhoneDigits is the length of a normalized phone number.
const PhoneDigits = 10

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims and lower-cases an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps only ASCII digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for i := 0; i < len(phone); i++ {
		if c := phone[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ValidEmail reports whether a normalized address has a local@domain.tld shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidPhone reports whether a normalized phone number has exactly PhoneDigits digits.
func ValidPhone(phone string) bool {
	return len(phone) == PhoneDigits && NormalizePhone(phone) == phone
}

// IsEmailIdentifier decides how a login identifier is interpreted: anything with
// an "@" is an e-mail address, everything else is a phone number.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// Package phonenum canonicalises Kenyan mobile numbers so that the many ways
// field officers type them compare equal.
package phonenum

import (
	"regexp"
	"strings"
)

// KenyanPattern is the validation regex attached to every phone field pushed
// to the collection platform.
const KenyanPattern = `^(\+254|254|0)?[17][0-9]{8}$`

var kenyanRe = regexp.MustCompile(KenyanPattern)

var stripper = strings.NewReplacer(" ", "", "-", "", "+", "")

// Normalize returns the comparison key for a phone number: spaces, dashes and
// plus signs removed, then a leading "254" or "0" dropped.
// "+254712345678", "0712345678" and "0712 345 678" all yield "712345678".
func Normalize(raw string) string {
	s := stripper.Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, "254"):
		s = s[3:]
	case strings.HasPrefix(s, "0"):
		s = s[1:]
	}
	return s
}

// Clean strips formatting characters but keeps the number as typed.
func Clean(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Equal reports whether two numbers share the same canonical key.
// Empty numbers are never equal.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}

// Valid reports whether raw, once cleaned, is a Kenyan mobile number.
func Valid(raw string) bool {
	return kenyanRe.MatchString(Clean(raw))
}

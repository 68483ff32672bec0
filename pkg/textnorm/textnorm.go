// Package textnorm reduces inbound chat text to a form suitable for keyword
// and menu-option matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Input is a single inbound message in raw and normalized form.
type Input struct {
	// Raw is the message as received. Free-text captures (email, locator,
	// payment details) are taken from it.
	Raw string
	// Normalized is lowercase, accent-free and contains only [a-z0-9 ].
	Normalized string
	// Option is the leading digit run of the trimmed raw message, if any.
	Option string
}

// Parse derives an Input from a raw message.
func Parse(raw string) Input {
	return Input{
		Raw:        raw,
		Normalized: Normalize(raw),
		Option:     OptionNumber(raw),
	}
}

// Normalize trims and lowercases s, strips combining diacritical marks and
// drops every rune outside [a-z0-9 ].
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = stripMarks(s)
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(s)
}

// OptionNumber returns the longest leading run of ASCII digits of the
// trimmed message, or "" when it does not start with a digit.
func OptionNumber(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

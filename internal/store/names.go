package store

import (
	"unicode"
	"unicode/utf8"
)

const maxTypeNameLength = 30

// ValidateTypeName enforces the ticket type naming rules: 1 to 30
// runes, a single token with no whitespace or control characters.
func ValidateTypeName(name string) error {
	if name == "" || utf8.RuneCountInString(name) > maxTypeNameLength {
		return ErrInvalidTypeName
	}
	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrInvalidTypeName
		}
	}
	return nil
}

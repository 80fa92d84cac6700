package repository

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidName is returned for names that cannot become a filename stem.
var ErrInvalidName = errors.New("invalid person name")

// NormalizeName trims a submitted name, drops control characters and brings it
// to NFC so that the same name typed on different systems maps to one file.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)))
	result, _, err := transform.String(t, name)
	if err != nil {
		result = name
	}
	return strings.TrimSpace(result)
}

// ValidateName reports whether name can be stored as a filename stem.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, `/\`), strings.HasPrefix(name, "."):
		return ErrInvalidName
	}
	return nil
}

// Package id mints and parses the daemon's entity identifiers: 128-bit
// time-ordered values rendered canonically as 36-char hyphenated strings
// (UUIDv7), with 8-char short-id prefix lookup.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// ShortLen is the number of hex characters (hyphens stripped) used for a
// short-id prefix.
const ShortLen = 8

// New mints a fresh time-ordered identifier.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Short returns the 8-char prefix of a canonical id, hyphens stripped.
func Short(full string) string {
	stripped := strings.ReplaceAll(full, "-", "")
	if len(stripped) < ShortLen {
		return stripped
	}
	return stripped[:ShortLen]
}

// IsFull reports whether s looks like a canonical 36-char hyphenated id.
func IsFull(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Matches reports whether candidate's id starts with the given prefix, once
// both are normalized by stripping hyphens and lowercasing. Used to resolve
// short ids against a full id when scanning candidates.
func Matches(candidateFullID, prefix string) bool {
	c := strings.ToLower(strings.ReplaceAll(candidateFullID, "-", ""))
	p := strings.ToLower(strings.ReplaceAll(prefix, "-", ""))
	if p == "" {
		return false
	}
	return strings.HasPrefix(c, p)
}

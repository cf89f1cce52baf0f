// SPDX-License-Identifier: MIT

// Package normalize holds the canonical string and date normalization
// rules for catalog matching. Track and producer names from different
// upstreams only collide correctly when both sides pass through Title.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Token normalizes a string token for matching:
// - trims Unicode whitespace + invisible edge characters
// - lowercases for case-insensitive comparisons
func Token(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) ||
			r == '​' || // Zero Width Space
			r == '‌' || // Zero Width Non-Joiner
			r == '‍' || // Zero Width Joiner
			r == '\uFEFF' // Zero Width Non-Breaking Space (BOM)
	}))
}

var (
	bracketed = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	featTail  = regexp.MustCompile(`(?i)(?:\s|^)(?:feat\.?|ft\.?|featuring)\s.*$`)
	nonWord   = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spaces    = regexp.MustCompile(`\s+`)
)

// Title reduces a track, album or producer name to its comparison form:
// NFC-composed, lowercased, parenthesised and bracketed substrings
// stripped, featuring tails dropped, every rune that is not a letter,
// digit or space removed, and whitespace collapsed. Accented letters
// survive: "Beyoncé" and "beyoncé" collide, "Beyonce" does not.
func Title(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = bracketed.ReplaceAllString(s, " ")
	s = featTail.ReplaceAllString(s, " ")
	s = nonWord.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return Token(s)
}

// ReleaseDate coerces the release date precisions the catalog upstream
// uses into a concrete day: YYYY becomes January 1st, YYYY-MM the first
// of the month, YYYY-MM-DD passes through. Anything else is nil, and
// the album keeps a null release date.
func ReleaseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Package textx provides small text utilities used across the project,
// including the canonical normalization that backs question content hashing.
package textx

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

var (
	spaceBeforePunct = regexp.MustCompile(`\s+([.!?,:;])`)
	spaceAfterPunct  = regexp.MustCompile(`([.!?,:;])\s*`)
)

// Normalize lowercases s, collapses runs of Unicode whitespace to single
// spaces, removes spaces before .!?,:; and leaves exactly one space after
// them, then trims. Two strings differing only in casing, whitespace, or
// punctuation spacing normalize identically.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	s = spaceAfterPunct.ReplaceAllString(s, "$1 ")
	return strings.TrimSpace(s)
}

// CanonicalQuestion builds the canonical serialization of a question:
// normalized prompt, normalized answer, then the normalized options sorted
// lexicographically, all joined by "|". Option order does not affect the
// result.
func CanonicalQuestion(prompt, answer string, options []string) string {
	parts := make([]string, 0, len(options)+2)
	parts = append(parts, Normalize(prompt), Normalize(answer))
	opts := make([]string, len(options))
	for i, o := range options {
		opts[i] = Normalize(o)
	}
	sort.Strings(opts)
	parts = append(parts, opts...)
	return strings.Join(parts, "|")
}

// ContentHash returns the first 16 hex characters of the SHA-256 of the
// canonical serialization. It is the global deduplication key for questions.
func ContentHash(prompt, answer string, options []string) string {
	sum := sha256.Sum256([]byte(CanonicalQuestion(prompt, answer, options)))
	return hex.EncodeToString(sum[:])[:16]
}

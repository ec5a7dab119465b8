// Package wordlist turns nameplates into human-readable one-time codes.
//
// A code is the nameplate followed by hyphen-separated words drawn
// alternately from two 256-word tables, e.g. "7-crossover-obtuse". The full
// code is the PAKE password; it travels between the humans, never over the
// network.
package wordlist

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultWords is the number of words appended to a nameplate, giving 16
// bits of secret entropy. Enough because the PAKE limits an attacker to one
// online guess per claimed nameplate.
const DefaultWords = 2

var errEmptyCode = errors.New("wordlist: empty code")

// Choose completes a nameplate into a full code with n random words.
func Choose(nameplate string, n int) (string, error) {
	if n <= 0 {
		n = DefaultWords
	}
	parts := make([]string, 0, n+1)
	parts = append(parts, nameplate)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			parts = append(parts, evenWords[buf[i]])
		} else {
			parts = append(parts, oddWords[buf[i]])
		}
	}
	return strings.Join(parts, "-"), nil
}

// Split separates a code into its nameplate and secret suffix. The
// nameplate must be a bare integer; the suffix is everything after the
// first hyphen, uninterpreted (codes typed by hand may use words outside
// the tables).
func Split(code string) (nameplate, secret string, err error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", "", errEmptyCode
	}
	nameplate, secret, ok := strings.Cut(code, "-")
	if !ok || nameplate == "" || secret == "" {
		return "", "", fmt.Errorf("wordlist: code %q has no nameplate-words form", code)
	}
	if _, err := strconv.Atoi(nameplate); err != nil {
		return "", "", fmt.Errorf("wordlist: nameplate %q is not numeric", nameplate)
	}
	return nameplate, secret, nil
}

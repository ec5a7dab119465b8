package wordlist

import (
	"strings"
	"testing"
)

func TestChooseSplitRoundTrip(t *testing.T) {
	code, err := Choose("7", 2)
	if err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	nameplate, secret, err := Split(code)
	if err != nil {
		t.Fatalf("Split(%q) failed: %v", code, err)
	}
	if nameplate != "7" {
		t.Fatalf("nameplate = %q, want 7", nameplate)
	}
	if strings.Count(secret, "-") != 1 {
		t.Fatalf("secret %q should contain two words", secret)
	}
}

func TestSplitRejectsMalformed(t *testing.T) {
	for _, code := range []string{"", "7", "nameplate-word", "7-", "-word"} {
		if _, _, err := Split(code); err == nil {
			t.Fatalf("Split(%q) should fail", code)
		}
	}
}

func TestWordTablesDistinct(t *testing.T) {
	seen := make(map[string]struct{})
	for _, w := range evenWords {
		if _, dup := seen[w]; dup {
			t.Fatalf("duplicate even word %q", w)
		}
		seen[w] = struct{}{}
	}
	seen = make(map[string]struct{})
	for _, w := range oddWords {
		if _, dup := seen[w]; dup {
			t.Fatalf("duplicate odd word %q", w)
		}
		seen[w] = struct{}{}
	}
}

func TestWordsAreTypeable(t *testing.T) {
	for _, table := range [][256]string{evenWords, oddWords} {
		for _, w := range table {
			if len(w) < 3 || len(w) > 12 {
				t.Fatalf("word %q has implausible length %d", w, len(w))
			}
			for _, r := range w {
				if r < 'a' || r > 'z' {
					t.Fatalf("word %q contains non-letter %q", w, r)
				}
			}
		}
	}
}

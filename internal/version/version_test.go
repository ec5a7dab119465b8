package version

import (
	"strings"
	"testing"
)

func TestStringUsesProvidedValues(t *testing.T) {
	got := String("v1.2.3", "abc")
	if got != "v1.2.3 (abc)" {
		t.Fatalf("got %q", got)
	}
}

func TestStringTruncatesLongCommit(t *testing.T) {
	got := String("v1.2.3", "0123456789abcdef0123")
	if got != "v1.2.3 (0123456789ab)" {
		t.Fatalf("got %q", got)
	}
}

func TestStringOmitsUnknownCommit(t *testing.T) {
	got := String("v1.2.3", "unknown")
	if got != "v1.2.3" {
		t.Fatalf("got %q", got)
	}
}

func TestStringDefaultsToDev(t *testing.T) {
	got := String("", "unknown")
	if got == "" {
		t.Fatalf("expected non-empty version string")
	}
	if strings.Contains(got, "unknown") {
		t.Fatalf("placeholder leaked into %q", got)
	}
}

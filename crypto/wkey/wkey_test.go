package wkey

import (
	"bytes"
	"testing"
)

func TestDeriveDeterministic(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	a, err := Derive(secret, []byte("purpose"), 32)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	b, err := Derive(secret, []byte("purpose"), 32)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("Derive is not deterministic")
	}
}

func TestDomainSeparation(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	verifier, err := VerifierKey(secret)
	if err != nil {
		t.Fatalf("VerifierKey failed: %v", err)
	}
	phaseA, err := PhaseKey(secret, "side1", "version")
	if err != nil {
		t.Fatalf("PhaseKey failed: %v", err)
	}
	phaseB, err := PhaseKey(secret, "side2", "version")
	if err != nil {
		t.Fatalf("PhaseKey failed: %v", err)
	}
	phaseC, err := PhaseKey(secret, "side1", "0")
	if err != nil {
		t.Fatalf("PhaseKey failed: %v", err)
	}
	transit, err := TransitKey(secret, "portkey.sh/transfer")
	if err != nil {
		t.Fatalf("TransitKey failed: %v", err)
	}

	keys := [][KeySize]byte{verifier, phaseA, phaseB, phaseC, transit}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[i] == keys[j] {
				t.Fatalf("keys %d and %d collide", i, j)
			}
		}
	}
}

func TestPhasePurposeHashesInputs(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not produce the same context.
	if bytes.Equal(PhasePurpose("ab", "c"), PhasePurpose("a", "bc")) {
		t.Fatalf("phase purposes collide across the side/phase boundary")
	}
}

func TestDeriveRejectsEmptySecret(t *testing.T) {
	if _, err := Derive(nil, []byte("purpose"), 32); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

package pake

import (
	"bytes"
	"testing"
)

func TestExchangeConverges(t *testing.T) {
	a, msgA, err := Start("4-purple-sausages")
	if err != nil {
		t.Fatalf("Start A failed: %v", err)
	}
	b, msgB, err := Start("4-purple-sausages")
	if err != nil {
		t.Fatalf("Start B failed: %v", err)
	}
	if bytes.Equal(msgA, msgB) {
		t.Fatalf("exchange messages must not repeat across sessions")
	}

	secA, err := a.Finish(msgB)
	if err != nil {
		t.Fatalf("Finish A failed: %v", err)
	}
	secB, err := b.Finish(msgA)
	if err != nil {
		t.Fatalf("Finish B failed: %v", err)
	}
	if !bytes.Equal(secA, secB) {
		t.Fatalf("shared secrets diverged")
	}
	if len(secA) != SecretSize {
		t.Fatalf("secret size = %d, want %d", len(secA), SecretSize)
	}
}

func TestExchangeMismatchedCodesDiverge(t *testing.T) {
	a, msgA, err := Start("4-purple-sausages")
	if err != nil {
		t.Fatalf("Start A failed: %v", err)
	}
	b, msgB, err := Start("4-purple-concavity")
	if err != nil {
		t.Fatalf("Start B failed: %v", err)
	}

	// A wrong code is indistinguishable here: Finish succeeds on both
	// sides but yields unrelated secrets.
	secA, err := a.Finish(msgB)
	if err != nil {
		t.Fatalf("Finish A failed: %v", err)
	}
	secB, err := b.Finish(msgA)
	if err != nil {
		t.Fatalf("Finish B failed: %v", err)
	}
	if bytes.Equal(secA, secB) {
		t.Fatalf("mismatched codes must not converge")
	}
}

func TestFinishRejectsMalformed(t *testing.T) {
	ex, msg, err := Start("7-crossover-obtuse")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cases := map[string][]byte{
		"short":      msg[:31],
		"long":       append(append([]byte{}, msg...), 0),
		"reflection": msg,
		"noncanonical": func() []byte {
			b := make([]byte, 32)
			for i := range b {
				b[i] = 0xff
			}
			return b
		}(),
	}
	for name, in := range cases {
		fresh, _, err := Start("7-crossover-obtuse")
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if name == "reflection" {
			fresh, in = ex, msg
		}
		if _, err := fresh.Finish(in); err != ErrKeyExchange {
			t.Fatalf("%s: Finish err = %v, want ErrKeyExchange", name, err)
		}
	}
}

func TestFinishSingleUse(t *testing.T) {
	a, _, err := Start("1-aardvark-absurd")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, msgB, err := Start("1-aardvark-absurd")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := a.Finish(msgB); err != nil {
		t.Fatalf("first Finish failed: %v", err)
	}
	if _, err := a.Finish(msgB); err != ErrExchangeUsed {
		t.Fatalf("second Finish err = %v, want ErrExchangeUsed", err)
	}
}

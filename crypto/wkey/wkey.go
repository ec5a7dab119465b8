// Package wkey derives purpose-bound sub-keys from the raw PAKE secret.
//
// Every consumer of session key material goes through this package so that
// domain separation lives in exactly one place: the confirmation exchange,
// each (side, phase) pair, and the transit channel all get independent keys
// expanded from the same root with fixed context strings.
package wkey

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every derived key.
const KeySize = 32

var errShortSecret = errors.New("wkey: empty root secret")

const (
	verifierPurpose    = "portkey:verifier"
	phasePurposePrefix = "portkey:phase:"
	transitPurpose     = "/transit-key"
)

// Derive expands the root secret into n bytes bound to purpose. It is a pure
// function: both peers call it with identical inputs and must get identical
// output.
func Derive(secret []byte, purpose []byte, n int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errShortSecret
	}
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, nil, purpose)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveKey is Derive fixed to KeySize, returned as an array for use as an
// AEAD key.
func DeriveKey(secret []byte, purpose []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	b, err := Derive(secret, purpose, KeySize)
	if err != nil {
		return key, err
	}
	copy(key[:], b)
	return key, nil
}

// VerifierKey derives the session confirmation key. Both sides may display
// it for out-of-band comparison.
func VerifierKey(secret []byte) ([KeySize]byte, error) {
	return DeriveKey(secret, []byte(verifierPurpose))
}

// PhasePurpose builds the derivation context for one direction of one phase.
// Side and phase are hashed so arbitrary strings cannot collide across the
// purpose boundary.
func PhasePurpose(side, phase string) []byte {
	sh := sha256.Sum256([]byte(side))
	ph := sha256.Sum256([]byte(phase))
	purpose := make([]byte, 0, len(phasePurposePrefix)+2*sha256.Size)
	purpose = append(purpose, phasePurposePrefix...)
	purpose = append(purpose, sh[:]...)
	purpose = append(purpose, ph[:]...)
	return purpose
}

// PhaseKey derives the envelope key for one direction of one phase.
func PhaseKey(secret []byte, side, phase string) ([KeySize]byte, error) {
	return DeriveKey(secret, PhasePurpose(side, phase))
}

// TransitKey derives the bulk-channel key for the given application id.
func TransitKey(secret []byte, appID string) ([KeySize]byte, error) {
	return DeriveKey(secret, []byte(appID+transitPurpose))
}

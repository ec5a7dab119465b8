// Package phasebox seals and opens the authenticated envelopes that wrap
// every phase payload on the mailbox.
//
// Envelopes use NaCl secretbox with a structured nonce: the first byte tags
// the sending role and the last eight bytes carry a big-endian send counter.
// Phase keys are derived per (side, phase) so each key seals at most a
// handful of messages, but the counter discipline is kept uniformly so nonce
// uniqueness is mechanically checkable. Reusing a (key, role, seq) triple is
// a programming error, not a runtime condition.
package phasebox

import (
	"errors"

	"github.com/portkey-sh/portkey/internal/bin"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the secretbox key length.
	KeySize = 32
	// NonceSize is the secretbox nonce length.
	NonceSize = 24
	// Overhead is the authentication tag length added to each envelope.
	Overhead = secretbox.Overhead
)

// ErrAuthentication indicates an envelope failed to authenticate: tampered,
// truncated, or sealed under a different key. Callers must treat it as fatal
// for the session and never retry with another key.
var ErrAuthentication = errors.New("phasebox: message authentication failed")

// Role tags which end of the session sealed an envelope. It keeps the two
// directions' nonce spaces disjoint even if a key were ever shared.
type Role byte

const (
	RoleLeader   Role = 0x01
	RoleFollower Role = 0x02
)

// Nonce builds the structured nonce for a given role and send counter.
func Nonce(role Role, seq uint64) [NonceSize]byte {
	var n [NonceSize]byte
	n[0] = byte(role)
	bin.PutU64BE(n[16:24], seq)
	return n
}

// Seal wraps plaintext in an authenticated envelope. The nonce is carried in
// front of the box so Open needs no out-of-band counter state.
func Seal(key [KeySize]byte, role Role, seq uint64, plaintext []byte) []byte {
	nonce := Nonce(role, seq)
	out := make([]byte, 0, NonceSize+len(plaintext)+Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key)
}

// Open authenticates and decrypts an envelope produced by Seal.
func Open(key [KeySize]byte, envelope []byte) ([]byte, error) {
	if len(envelope) < NonceSize+Overhead {
		return nil, ErrAuthentication
	}
	var nonce [NonceSize]byte
	copy(nonce[:], envelope[:NonceSize])
	plain, ok := secretbox.Open(nil, envelope[NonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrAuthentication
	}
	return plain, nil
}

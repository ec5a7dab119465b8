// Package pake implements the password-authenticated key exchange used to
// bootstrap a session from a short shared code.
//
// The construction is SPAKE2 (symmetric variant) over the edwards25519 group:
// both sides blind an ephemeral public element with a password-derived scalar
// against a fixed group element, exchange the blinded elements, and unblind to
// reach a common Diffie-Hellman value. A mismatched password never surfaces
// here: both sides simply derive different secrets, and the mismatch is only
// observable at the later confirmation exchange.
package pake

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// MessageSize is the wire size of an exchange message (one canonical
	// edwards25519 point encoding).
	MessageSize = 32
	// SecretSize is the size of the raw shared secret.
	SecretSize = 32
)

var (
	// ErrKeyExchange indicates the peer's exchange message is malformed:
	// not a valid group element, a small-order element, or a reflection of
	// our own message. It never signals a wrong password.
	ErrKeyExchange = errors.New("pake: malformed key exchange message")
	// ErrExchangeUsed indicates Finish was called more than once.
	ErrExchangeUsed = errors.New("pake: exchange already finished")
)

const (
	passwordContext = "portkey-pake-v1:password"
	blindContext    = "portkey-pake-v1:blind:"
	secretContext   = "portkey-pake-v1:secret"
)

var (
	blindOnce sync.Once
	blindPt   *edwards25519.Point
)

// blindingElement returns the fixed element used to mask both sides'
// ephemeral keys. It is derived by try-and-increment hashing so that nobody
// knows its discrete log, then cofactor-cleared into the prime-order
// subgroup. Deterministic, so both peers agree on it.
func blindingElement() *edwards25519.Point {
	blindOnce.Do(func() {
		for i := 0; ; i++ {
			h := sha256.Sum256([]byte(fmt.Sprintf("%s%d", blindContext, i)))
			p, err := new(edwards25519.Point).SetBytes(h[:])
			if err != nil {
				continue
			}
			p.MultByCofactor(p)
			if p.Equal(edwards25519.NewIdentityPoint()) == 1 {
				continue
			}
			blindPt = p
			return
		}
	})
	return blindPt
}

// passwordScalar maps the full code onto a group scalar via HKDF with wide
// reduction.
func passwordScalar(code string) (*edwards25519.Scalar, error) {
	wide := make([]byte, 64)
	r := hkdf.New(sha256.New, []byte(code), nil, []byte(passwordContext))
	if _, err := io.ReadFull(r, wide); err != nil {
		return nil, err
	}
	return new(edwards25519.Scalar).SetUniformBytes(wide)
}

// Exchange holds the single-use local state between Start and Finish.
type Exchange struct {
	pwHash   [32]byte
	pw       *edwards25519.Scalar
	x        *edwards25519.Scalar
	ownMsg   []byte
	finished bool
}

// Start derives this side's exchange message from the code. The returned
// message is sent to the peer as the reserved pake phase; the Exchange must
// be kept to complete the handshake.
func Start(code string) (*Exchange, []byte, error) {
	pw, err := passwordScalar(code)
	if err != nil {
		return nil, nil, err
	}
	wide := make([]byte, 64)
	if _, err := rand.Read(wide); err != nil {
		return nil, nil, err
	}
	x, err := new(edwards25519.Scalar).SetUniformBytes(wide)
	if err != nil {
		return nil, nil, err
	}

	// X = x*B + pw*S
	pub := new(edwards25519.Point).ScalarBaseMult(x)
	mask := new(edwards25519.Point).ScalarMult(pw, blindingElement())
	pub.Add(pub, mask)

	ex := &Exchange{
		pwHash: sha256.Sum256([]byte(code)),
		pw:     pw,
		x:      x,
		ownMsg: pub.Bytes(),
	}
	return ex, ex.ownMsg, nil
}

// Message returns this side's outbound exchange message.
func (ex *Exchange) Message() []byte {
	return ex.ownMsg
}

// Finish combines the local state with the peer's exchange message and
// returns the raw shared secret. The exchange is single-use.
func (ex *Exchange) Finish(inbound []byte) ([]byte, error) {
	if ex.finished {
		return nil, ErrExchangeUsed
	}
	ex.finished = true

	if len(inbound) != MessageSize {
		return nil, ErrKeyExchange
	}
	if bytes.Equal(inbound, ex.ownMsg) {
		// A reflected message would let the peer skip knowing the code.
		return nil, ErrKeyExchange
	}
	peer, err := new(edwards25519.Point).SetBytes(inbound)
	if err != nil {
		return nil, ErrKeyExchange
	}

	// K = 8 * x * (Y - pw*S)
	mask := new(edwards25519.Point).ScalarMult(ex.pw, blindingElement())
	k := new(edwards25519.Point).Subtract(peer, mask)
	k.ScalarMult(ex.x, k)
	k.MultByCofactor(k)
	if k.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return nil, ErrKeyExchange
	}

	// The transcript orders the two messages canonically so both sides
	// hash identical input.
	first, second := ex.ownMsg, inbound
	if bytes.Compare(first, second) > 0 {
		first, second = second, first
	}
	h := sha256.New()
	h.Write([]byte(secretContext))
	h.Write(ex.pwHash[:])
	h.Write(first)
	h.Write(second)
	h.Write(k.Bytes())
	return h.Sum(nil), nil
}

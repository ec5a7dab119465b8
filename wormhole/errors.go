package wormhole

import (
	"errors"

	"github.com/portkey-sh/portkey/crypto/pake"
	"github.com/portkey-sh/portkey/crypto/phasebox"
	"github.com/portkey-sh/portkey/rendezvous"
)

var (
	// ErrWrongPassword means key confirmation failed: the two sides typed
	// different codes. Fatal; surfaced distinctly because it implies a
	// human typo, not an attack or a bug.
	ErrWrongPassword = errors.New("wormhole: key confirmation failed, codes do not match")
	// ErrProtocol means the peer violated message sequencing (repeated
	// phase, version before pake, and so on). Fatal.
	ErrProtocol = errors.New("wormhole: protocol violation")
	// ErrClosed means the session was closed, by request or by an
	// earlier fault.
	ErrClosed = errors.New("wormhole: session closed")
)

// Re-exported so callers can match the full taxonomy with one import.
var (
	ErrTransport            = rendezvous.ErrTransport
	ErrNameplateUnavailable = rendezvous.ErrNameplateUnavailable
	ErrKeyExchange          = pake.ErrKeyExchange
	ErrAuthentication       = phasebox.ErrAuthentication
)

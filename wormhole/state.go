package wormhole

import "github.com/portkey-sh/portkey/rendezvous"

// State is the session's position in the pairing lifecycle. Transitions
// only move forward; any fault jumps to StateClosed.
type State int

const (
	StateIdle State = iota
	StateCodeSet
	StateNameplateClaimed
	StateMailboxOpen
	StatePakeSent
	StatePakeReceived // peer's exchange message seen, confirmation pending
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCodeSet:
		return "code-set"
	case StateNameplateClaimed:
		return "nameplate-claimed"
	case StateMailboxOpen:
		return "mailbox-open"
	case StatePakeSent:
		return "pake-sent"
	case StatePakeReceived:
		return "pake-received"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reserved phase names. Everything else is an application phase.
const (
	phasePake    = "pake"
	phaseVersion = "version"
)

// inbound is the closed set of message variants a session can receive. The
// run loop switches over it exhaustively so an unhandled phase cannot slip
// through as a silently ignored string tag.
type inbound interface {
	isInbound()
}

type inboundPake struct {
	side string
	body []byte
}

type inboundVersion struct {
	side string
	body []byte
}

type inboundApp struct {
	side  string
	phase string
	body  []byte
}

func (inboundPake) isInbound()    {}
func (inboundVersion) isInbound() {}
func (inboundApp) isInbound()     {}

func classify(m rendezvous.InboundMessage) inbound {
	switch m.Phase {
	case phasePake:
		return inboundPake{side: m.Side, body: m.Body}
	case phaseVersion:
		return inboundVersion{side: m.Side, body: m.Body}
	default:
		return inboundApp{side: m.Side, phase: m.Phase, body: m.Body}
	}
}

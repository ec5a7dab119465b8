// Package mux multiplexes cheap bidirectional subchannels over one
// established transit channel. By convention the transit leader hosts the
// server side of the session.
package mux

import (
	"io"

	"github.com/hashicorp/yamux"
	"github.com/portkey-sh/portkey/transit"
)

// Session is a yamux session over a transit channel.
type Session = yamux.Session

// Stream is one subchannel.
type Stream = yamux.Stream

// Config re-exports the yamux tuning knobs.
type Config = yamux.Config

// DefaultConfig returns yamux defaults with keepalives disabled: the
// transit record stream has no concept of idleness worth probing, and
// probes would interleave with bulk records for no benefit.
func DefaultConfig() *Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = false
	cfg.LogOutput = io.Discard
	return cfg
}

// Server starts the hosting side of a session. Call on the transit leader.
func Server(conn *transit.Conn, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return yamux.Server(conn, cfg)
}

// Client starts the dialing side of a session. Call on the transit follower.
func Client(conn *transit.Conn, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return yamux.Client(conn, cfg)
}

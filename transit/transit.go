// Package transit negotiates a direct or relayed TCP channel between two
// peers that already share a transit key, then runs an encrypted record
// stream over whichever candidate wins.
//
// Negotiation is a race: every plausible path (dialing the peer's direct
// hints, accepting on our own listener, relay endpoints after a grace
// delay) is attempted concurrently, and the first candidate to complete the
// key-confirming handshake is selected. The leader breaks the symmetry by
// sending the final go line on exactly one candidate; everything else is
// closed. A session negotiates once.
package transit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/portkey-sh/portkey/crypto/wkey"
	"github.com/portkey-sh/portkey/internal/contextutil"
	"github.com/portkey-sh/portkey/internal/logging"
	"github.com/portkey-sh/portkey/observability"
)

// ErrTransitNegotiation indicates no candidate produced a confirmed channel
// within the negotiation budget.
var ErrTransitNegotiation = errors.New("transit: no viable channel")

// Config tunes one negotiation. The zero value is completed by New.
type Config struct {
	ListenAddr string // TCP listen address for inbound candidates (default ":0").
	STUNServer string // Optional STUN server for a reflexive address hint.

	RelayDelay       time.Duration // Head start granted to direct candidates.
	ConnectTimeout   time.Duration // Overall negotiation budget.
	HandshakeTimeout time.Duration // Per-candidate handshake budget.
	MaxRecordBytes   int           // Plaintext chunk cap for the record stream.

	Logging  *logging.Backend
	Observer observability.TransitObserver
}

// DefaultConfig returns the defaults used by the transfer protocol.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":0",
		RelayDelay:       2 * time.Second,
		ConnectTimeout:   30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxRecordBytes:   64 * 1024,
	}
}

// Transit is one single-use channel negotiation.
type Transit struct {
	cfg    Config
	ks     sessionKeys
	side   string
	leader bool
	obs    observability.TransitObserver
	log    interface {
		Debugf(format string, args ...interface{})
	}

	ln     net.Listener
	relays []RelayHint
}

// New prepares a negotiation from the session's transit key. The leader is
// the side the wormhole layer designates (IsLeader); exactly one side must
// pass leader=true.
func New(cfg Config, transitKey [wkey.KeySize]byte, side string, leader bool) (*Transit, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":0"
	}
	if cfg.RelayDelay < 0 {
		cfg.RelayDelay = 0
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MaxRecordBytes <= 0 {
		cfg.MaxRecordBytes = 64 * 1024
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopTransitObserver
	}
	backend := cfg.Logging
	if backend == nil {
		backend = logging.Discard()
	}
	ks, err := deriveSessionKeys(transitKey)
	if err != nil {
		return nil, err
	}
	return &Transit{
		cfg:    cfg,
		ks:     ks,
		side:   side,
		leader: leader,
		obs:    cfg.Observer,
		log:    backend.Logger("transit"),
	}, nil
}

// AddRelay registers a relay endpoint offered to the peer and used as a
// fallback candidate.
func (t *Transit) AddRelay(r RelayHint) {
	if len(r.Hints) > 0 {
		t.relays = append(t.relays, r)
	}
}

// Listen binds the inbound candidate listener and returns the hints to send
// to the peer: one direct hint per usable interface address, the reflexive
// address if a STUN server is configured, and the registered relays.
func (t *Transit) Listen(ctx context.Context) (Hints, error) {
	if t.ln != nil {
		return Hints{}, errors.New("transit: already listening")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.ListenAddr)
	if err != nil {
		return Hints{}, fmt.Errorf("transit: listen: %w", err)
	}
	t.ln = ln

	addr := ln.Addr().(*net.TCPAddr)
	port := uint16(addr.Port)
	var direct []DirectHint
	if addr.IP.IsUnspecified() {
		direct = localDirectHints(port)
	} else {
		// Bound to a concrete address: advertise exactly that.
		direct = []DirectHint{{Hostname: addr.IP.String(), Port: port}}
	}
	if t.cfg.STUNServer != "" {
		if h, err := stunHint(ctx, t.cfg.STUNServer, port); err == nil {
			direct = append(direct, h)
		} else {
			t.log.Debugf("stun %s: %v", t.cfg.STUNServer, err)
		}
	}
	return NewHints(direct, t.relays), nil
}

// ListenPort returns the bound inbound candidate port, or zero before
// Listen.
func (t *Transit) ListenPort() uint16 {
	if t.ln == nil {
		return 0
	}
	return uint16(t.ln.Addr().(*net.TCPAddr).Port)
}

// Close releases the listener if Connect has not already consumed it.
func (t *Transit) Close() error {
	if t.ln != nil {
		return t.ln.Close()
	}
	return nil
}

type candidateResult struct {
	conn net.Conn
	br   *bufio.Reader
	kind observability.CandidateKind
	err  error
}

// Connect races all candidates derivable from the peer's hints and returns
// the encrypted record stream over the winner. The listener is consumed:
// a Transit negotiates at most once.
func (t *Transit) Connect(ctx context.Context, peer Hints) (*Conn, error) {
	cctx, cancel := contextutil.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	peerDirect := peer.Direct()
	relays := append([]RelayHint(nil), t.relays...)
	relays = append(relays, peer.Relays()...)

	results := make(chan candidateResult)
	var wg sync.WaitGroup

	attempt := func(conn net.Conn, kind observability.CandidateKind, relay bool) {
		defer wg.Done()
		stop := context.AfterFunc(cctx, func() { _ = conn.Close() })
		defer stop()
		br := bufio.NewReader(conn)
		deadline := time.Now().Add(t.cfg.HandshakeTimeout)
		var err error
		if relay {
			err = relayConnect(conn, br, t.ks, t.side, deadline)
		}
		if err == nil {
			if t.leader {
				err = leaderHandshake(conn, br, t.ks, deadline)
			} else {
				err = followerHandshake(conn, br, t.ks, deadline)
			}
		}
		if err != nil {
			_ = conn.Close()
		}
		results <- candidateResult{conn: conn, br: br, kind: kind, err: err}
	}

	dial := func(addr string, kind observability.CandidateKind, relay bool) {
		defer wg.Done()
		var d net.Dialer
		conn, err := d.DialContext(cctx, "tcp", addr)
		if err != nil {
			results <- candidateResult{kind: kind, err: err}
			return
		}
		wg.Add(1)
		attempt(conn, kind, relay)
	}

	for _, h := range peerDirect {
		wg.Add(1)
		go dial(h.Addr(), observability.CandidateDirectOutbound, false)
	}

	if t.ln != nil {
		ln := t.ln
		t.ln = nil
		stop := context.AfterFunc(cctx, func() { _ = ln.Close() })
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stop()
			defer ln.Close()
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				wg.Add(1)
				go attempt(conn, observability.CandidateDirectInbound, false)
			}
		}()
	}

	if len(relays) > 0 {
		delay := t.cfg.RelayDelay
		if len(peerDirect) == 0 {
			delay = 0
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if delay > 0 {
				select {
				case <-cctx.Done():
					return
				case <-time.After(delay):
				}
			}
			for _, r := range relays {
				for _, h := range r.Hints {
					wg.Add(1)
					go dial(h.Addr(), observability.CandidateRelay, true)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			result := observability.CandidateResultFailed
			if cctx.Err() != nil {
				result = observability.CandidateResultCanceled
			}
			t.obs.Candidate(r.kind, result)
			continue
		}
		winner, err := t.finishWinner(r)
		if err != nil {
			t.obs.Candidate(r.kind, observability.CandidateResultFailed)
			continue
		}
		t.obs.Candidate(r.kind, observability.CandidateResultWon)
		t.obs.ChannelSelected(r.kind)
		t.log.Debugf("selected %s candidate %s", r.kind, r.conn.RemoteAddr())

		// Everything still racing loses: cancel closes their sockets and
		// the drain below reaps the goroutines.
		cancel()
		go func() {
			for late := range results {
				if late.err == nil {
					_ = late.conn.Close()
					t.obs.Candidate(late.kind, observability.CandidateResultLost)
				} else {
					t.obs.Candidate(late.kind, observability.CandidateResultCanceled)
				}
			}
		}()
		return winner, nil
	}

	if err := cctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransitNegotiation, err)
	}
	return nil, ErrTransitNegotiation
}

// finishWinner completes selection on the chosen candidate: the leader
// confirms it with the go line, both sides clear deadlines and wrap the
// socket in the record stream.
func (t *Transit) finishWinner(r candidateResult) (*Conn, error) {
	if t.leader {
		if _, err := r.conn.Write(goLine); err != nil {
			_ = r.conn.Close()
			return nil, err
		}
	}
	if err := r.conn.SetDeadline(time.Time{}); err != nil {
		_ = r.conn.Close()
		return nil, err
	}
	return newConn(r.conn, r.br, t.ks, t.leader, t.cfg.MaxRecordBytes, t.obs), nil
}

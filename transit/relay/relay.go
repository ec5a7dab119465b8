// Package relay implements the transit relay: a TCP rendezvous that pairs
// two connections presenting the same session token and splices their byte
// streams. The relay sees only the encrypted record stream; the token is a
// key derivation, not the key.
package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/portkey-sh/portkey/internal/logging"
)

// Config tunes the relay server.
type Config struct {
	ListenAddr string // TCP listen address (default ":0").

	MaxPrologueBytes int           // Cap on the prologue line length.
	PrologueTimeout  time.Duration // Budget for reading the prologue.
	PairTimeout      time.Duration // How long an unpaired side may wait.
	CleanupInterval  time.Duration // Background cleanup cadence.
	MaxConns         int           // Concurrent connection cap.

	Logging *logging.Backend
}

// DefaultConfig returns conservative defaults for a relay server.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":0",
		MaxPrologueBytes: 1024,
		PrologueTimeout:  10 * time.Second,
		PairTimeout:      60 * time.Second,
		CleanupInterval:  time.Second,
		MaxConns:         1000,
	}
}

type waiter struct {
	conn    net.Conn
	br      *bufio.Reader
	side    string
	arrived time.Time
}

// Server is a running transit relay.
type Server struct {
	cfg Config
	log interface {
		Debugf(format string, args ...interface{})
		Warningf(format string, args ...interface{})
	}

	ln net.Listener

	mu        sync.Mutex
	waiting   map[string]*waiter
	connCount int

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New starts the relay listening on cfg.ListenAddr.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":0"
	}
	if cfg.MaxPrologueBytes <= 0 {
		cfg.MaxPrologueBytes = 1024
	}
	if cfg.PrologueTimeout <= 0 {
		cfg.PrologueTimeout = 10 * time.Second
	}
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = 60 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Second
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 1000
	}
	backend := cfg.Logging
	if backend == nil {
		backend = logging.Discard()
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("relay: listen: %w", err)
	}
	s := &Server{
		cfg:     cfg,
		log:     backend.Logger("transit-relay"),
		ln:      ln,
		waiting: make(map[string]*waiter),
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(2)
	go s.acceptLoop()
	go s.cleanupLoop()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Waiting reports the number of unpaired connections, for tests.
func (s *Server) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// Stop closes the listener and all held connections.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		_ = s.ln.Close()
		s.mu.Lock()
		for token, w := range s.waiting {
			_ = w.conn.Close()
			delete(s.waiting, token)
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.connCount >= s.cfg.MaxConns {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.connCount++
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) decConn() {
	s.mu.Lock()
	s.connCount--
	s.mu.Unlock()
}

var okLine = []byte("ok\n")

// parsePrologue validates "please relay {token} for side {side}".
func parsePrologue(line string) (token, side string, err error) {
	line = strings.TrimSuffix(line, "\n")
	rest, ok := strings.CutPrefix(line, "please relay ")
	if !ok {
		return "", "", errors.New("relay: malformed prologue")
	}
	token, side, ok = strings.Cut(rest, " for side ")
	if !ok || token == "" || side == "" {
		return "", "", errors.New("relay: malformed prologue")
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", "", errors.New("relay: non-hex token")
		}
	}
	return token, side, nil
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PrologueTimeout))
	br := bufio.NewReaderSize(conn, 4096)
	line, err := readLine(br, s.cfg.MaxPrologueBytes)
	if err != nil {
		s.log.Debugf("prologue from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		s.decConn()
		return
	}
	token, side, err := parsePrologue(line)
	if err != nil {
		s.log.Debugf("prologue from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		s.decConn()
		return
	}

	s.mu.Lock()
	peer := s.waiting[token]
	if peer == nil {
		s.waiting[token] = &waiter{conn: conn, br: br, side: side, arrived: time.Now()}
		s.mu.Unlock()
		return
	}
	if peer.side == side {
		// Same side reconnected; the newer connection supersedes the
		// stale one.
		s.waiting[token] = &waiter{conn: conn, br: br, side: side, arrived: time.Now()}
		s.mu.Unlock()
		_ = peer.conn.Close()
		s.decConn()
		return
	}
	delete(s.waiting, token)
	s.mu.Unlock()

	s.splice(peer, &waiter{conn: conn, br: br, side: side})
}

func readLine(br *bufio.Reader, max int) (string, error) {
	var b strings.Builder
	for {
		c, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
		if c == '\n' {
			return b.String(), nil
		}
		if b.Len() > max {
			return "", errors.New("relay: prologue too long")
		}
	}
}

// splice confirms both sides and copies bytes until either direction ends.
// Reads go through the buffered readers so no prologue-adjacent bytes are
// lost.
func (s *Server) splice(a, b *waiter) {
	defer s.decConn()
	defer s.decConn()
	for _, w := range []*waiter{a, b} {
		_ = w.conn.SetDeadline(time.Time{})
		if _, err := w.conn.Write(okLine); err != nil {
			_ = a.conn.Close()
			_ = b.conn.Close()
			return
		}
	}
	s.log.Debugf("paired %s <-> %s", a.conn.RemoteAddr(), b.conn.RemoteAddr())

	done := make(chan struct{}, 2)
	copyDir := func(dst, src *waiter) {
		_, _ = io.Copy(dst.conn, src.br)
		// Half-close is not part of the protocol: one side ending tears
		// down the pair.
		_ = dst.conn.Close()
		_ = src.conn.Close()
		done <- struct{}{}
	}
	go copyDir(a, b)
	copyDir(b, a)
	<-done
}

// cleanupLoop expires unpaired connections past the pair timeout.
func (s *Server) cleanupLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			now := time.Now()
			var expired []net.Conn
			s.mu.Lock()
			for token, w := range s.waiting {
				if now.Sub(w.arrived) > s.cfg.PairTimeout {
					expired = append(expired, w.conn)
					delete(s.waiting, token)
				}
			}
			s.mu.Unlock()
			for _, c := range expired {
				_ = c.Close()
				s.decConn()
			}
		}
	}
}

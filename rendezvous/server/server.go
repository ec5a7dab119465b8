// Package server implements the rendezvous relay side of the mailbox wire
// protocol: nameplate allocation and claims, two-sided mailboxes with an
// ordered message log, and echo-based delivery.
//
// It exists for tests, local development, and the CLI relay command. The
// relay is honest-but-curious: it sees connection metadata and ciphertext
// bodies, never plaintext or keys.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/portkey-sh/portkey/internal/logging"
	"github.com/portkey-sh/portkey/observability"
	"github.com/portkey-sh/portkey/realtime/ws"
)

// Config controls server limits and housekeeping.
type Config struct {
	MaxConns        int           // Maximum concurrent websocket connections.
	MaxMessageBytes int64         // Per-frame read limit.
	WriteTimeout    time.Duration // Per-frame write deadline.
	IdleTimeout     time.Duration // Drop mailboxes idle beyond this.
	CleanupInterval time.Duration // Housekeeping cadence.
	MOTD            string        // Optional welcome text.

	// Browser clients are rejected unless their Origin is listed.
	// Non-browser clients send no Origin and pass when AllowNoOrigin is set.
	AllowedOrigins []string
	AllowNoOrigin  bool

	Logging  *logging.Backend
	Observer observability.MailboxServerObserver
}

// DefaultConfig returns conservative defaults for a small relay.
func DefaultConfig() Config {
	return Config{
		MaxConns:        1000,
		MaxMessageBytes: 1 << 20,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     10 * time.Minute,
		CleanupInterval: 30 * time.Second,
		AllowNoOrigin:   true,
		Observer:        observability.NoopMailboxServerObserver,
	}
}

type storedMessage struct {
	id    string
	side  string
	phase string
	body  string
}

type mailboxState struct {
	id       string
	sides    map[string]bool // side -> currently has the mailbox open
	everSeen map[string]bool // sides that ever attached
	closed   map[string]bool
	log      []storedMessage
	watchers map[*conn]struct{}
	nextID   int
	lastUsed time.Time
}

type nameplateState struct {
	mailboxID string
	claims    map[string]bool
	lastUsed  time.Time
}

// Server is an in-memory rendezvous relay.
type Server struct {
	cfg Config
	log interface {
		Debugf(format string, args ...interface{})
		Warningf(format string, args ...interface{})
	}
	obs observability.MailboxServerObserver

	mu          sync.Mutex
	nameplates  map[string]*nameplateState
	mailboxes   map[string]*mailboxState
	nextMailbox int
	connCount   int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a server and starts its cleanup loop.
func New(cfg Config) *Server {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 1000
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopMailboxServerObserver
	}
	backend := cfg.Logging
	if backend == nil {
		backend = logging.Discard()
	}
	s := &Server{
		cfg:        cfg,
		log:        backend.Logger("rendezvous/server"),
		obs:        cfg.Observer,
		nameplates: make(map[string]*nameplateState),
		mailboxes:  make(map[string]*mailboxState),
		stopCh:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Stop halts housekeeping. Existing connections are left to their handlers.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Stats is a counters snapshot for tests and the CLI.
type Stats struct {
	Conns      int
	Nameplates int
	Mailboxes  int
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Conns: s.connCount, Nameplates: len(s.nameplates), Mailboxes: len(s.mailboxes)}
}

// ServeHTTP upgrades the request and runs the mailbox protocol until the
// connection drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.connCount >= s.cfg.MaxConns {
		s.mu.Unlock()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	s.connCount++
	s.mu.Unlock()
	s.obs.ConnOpened()

	defer func() {
		s.mu.Lock()
		s.connCount--
		s.mu.Unlock()
		s.obs.ConnClosed()
	}()

	wc, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		CheckOrigin: ws.NewOriginChecker(s.cfg.AllowedOrigins, s.cfg.AllowNoOrigin),
	})
	if err != nil {
		s.log.Warningf("upgrade failed: %v", err)
		return
	}
	wc.SetReadLimit(s.cfg.MaxMessageBytes)

	c := &conn{srv: s, c: wc}
	defer c.teardown()

	welcome := map[string]any{}
	if s.cfg.MOTD != "" {
		welcome["motd"] = s.cfg.MOTD
	}
	if err := c.write(wireFrame{Type: "welcome", Welcome: welcome}); err != nil {
		return
	}
	c.loop()
}

func (s *Server) cleanupLoop() {
	t := time.NewTicker(s.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-t.C:
			s.sweep(now)
		}
	}
}

func (s *Server) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, np := range s.nameplates {
		if len(np.claims) == 0 && now.Sub(np.lastUsed) > s.cfg.IdleTimeout {
			delete(s.nameplates, id)
		}
	}
	for id, mb := range s.mailboxes {
		if len(mb.watchers) == 0 && now.Sub(mb.lastUsed) > s.cfg.IdleTimeout {
			delete(s.mailboxes, id)
			s.obs.MailboxClosed()
		}
	}
}

// smallest free positive integer, so reconnecting users get short codes
func (s *Server) allocateNameplateLocked() string {
	for i := 1; ; i++ {
		id := strconv.Itoa(i)
		if _, taken := s.nameplates[id]; !taken {
			return id
		}
	}
}

func (s *Server) nameplateLocked(id string) *nameplateState {
	np, ok := s.nameplates[id]
	if !ok {
		s.nextMailbox++
		np = &nameplateState{
			mailboxID: fmt.Sprintf("mb-%d-%s", s.nextMailbox, id),
			claims:    make(map[string]bool),
			lastUsed:  time.Now(),
		}
		s.nameplates[id] = np
	}
	return np
}

func (s *Server) mailboxLocked(id string) *mailboxState {
	mb, ok := s.mailboxes[id]
	if !ok {
		mb = &mailboxState{
			id:       id,
			sides:    make(map[string]bool),
			everSeen: make(map[string]bool),
			closed:   make(map[string]bool),
			watchers: make(map[*conn]struct{}),
			lastUsed: time.Now(),
		}
		s.mailboxes[id] = mb
	}
	return mb
}

var errCrowded = errors.New("crowded")

type wireFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	AppID     string `json:"appid,omitempty"`
	Side      string `json:"side,omitempty"`
	Nameplate string `json:"nameplate,omitempty"`
	Mailbox   string `json:"mailbox,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Body      string `json:"body,omitempty"`
	Mood      string `json:"mood,omitempty"`

	Ping *int `json:"ping,omitempty"`
	Pong *int `json:"pong,omitempty"`

	Welcome map[string]any `json:"welcome,omitempty"`
	Error   string         `json:"error,omitempty"`
	Orig    any            `json:"orig,omitempty"`
}

type conn struct {
	srv *Server
	c   *ws.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	side    string
	appid   string
	mailbox *mailboxState
}

func (c *conn) write(f wireFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.srv.cfg.WriteTimeout)
	defer cancel()
	return c.c.WriteJSON(ctx, f)
}

func (c *conn) errorf(orig wireFrame, format string, args ...interface{}) {
	_ = c.write(wireFrame{Type: "error", Error: fmt.Sprintf(format, args...), Orig: orig})
}

func (c *conn) loop() {
	for {
		var f wireFrame
		if err := c.c.ReadJSON(context.Background(), &f); err != nil {
			return
		}
		if !c.handle(f) {
			return
		}
	}
}

// handle processes one frame; false means the connection should drop.
func (c *conn) handle(f wireFrame) bool {
	switch f.Type {
	case "bind":
		if f.AppID == "" || f.Side == "" {
			c.errorf(f, "bind requires appid and side")
			return true
		}
		c.mu.Lock()
		c.appid, c.side = f.AppID, f.Side
		c.mu.Unlock()
		_ = c.write(wireFrame{Type: "ack", ID: f.ID})
	case "allocate":
		if !c.bound(f) {
			return true
		}
		c.srv.mu.Lock()
		id := c.srv.allocateNameplateLocked()
		np := c.srv.nameplateLocked(id)
		np.claims[c.side] = true
		c.srv.mu.Unlock()
		c.srv.obs.NameplateClaimed()
		_ = c.write(wireFrame{Type: "allocated", Nameplate: id})
	case "claim":
		if !c.bound(f) {
			return true
		}
		mailboxID, err := c.claim(f.Nameplate)
		if err != nil {
			c.errorf(f, "%v", err)
			return true
		}
		_ = c.write(wireFrame{Type: "claimed", Mailbox: mailboxID})
	case "release":
		if !c.bound(f) {
			return true
		}
		c.srv.mu.Lock()
		if np, ok := c.srv.nameplates[f.Nameplate]; ok {
			delete(np.claims, c.side)
			if len(np.claims) == 0 {
				delete(c.srv.nameplates, f.Nameplate)
			}
		}
		c.srv.mu.Unlock()
		c.srv.obs.NameplateReleased()
		_ = c.write(wireFrame{Type: "released"})
	case "open":
		if !c.bound(f) {
			return true
		}
		if err := c.open(f.Mailbox); err != nil {
			c.errorf(f, "%v", err)
			return true
		}
		_ = c.write(wireFrame{Type: "ack", ID: f.ID})
	case "add":
		if !c.bound(f) {
			return true
		}
		if err := c.add(f.Phase, f.Body); err != nil {
			c.errorf(f, "%v", err)
		}
	case "close":
		if !c.bound(f) {
			return true
		}
		c.closeMailbox(f.Mailbox)
		_ = c.write(wireFrame{Type: "closed"})
	case "ping":
		pong := 0
		if f.Ping != nil {
			pong = *f.Ping
		}
		_ = c.write(wireFrame{Type: "pong", Pong: &pong})
	default:
		c.errorf(f, "unknown type %q", f.Type)
	}
	return true
}

func (c *conn) bound(f wireFrame) bool {
	c.mu.Lock()
	ok := c.side != ""
	c.mu.Unlock()
	if !ok {
		c.errorf(f, "must bind first")
	}
	return ok
}

func (c *conn) claim(nameplate string) (string, error) {
	if nameplate == "" {
		return "", errors.New("claim requires nameplate")
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	np := c.srv.nameplateLocked(nameplate)
	np.lastUsed = time.Now()
	if !np.claims[c.side] && len(np.claims) >= 2 {
		return "", errCrowded
	}
	if !np.claims[c.side] {
		np.claims[c.side] = true
		c.srv.obs.NameplateClaimed()
	}
	return np.mailboxID, nil
}

func (c *conn) open(mailboxID string) error {
	if mailboxID == "" {
		return errors.New("open requires mailbox")
	}
	c.mu.Lock()
	if c.mailbox != nil {
		c.mu.Unlock()
		return errors.New("mailbox already open on this connection")
	}
	side := c.side
	c.mu.Unlock()

	c.srv.mu.Lock()
	mb := c.srv.mailboxLocked(mailboxID)
	if !mb.everSeen[side] && len(mb.everSeen) >= 2 {
		c.srv.mu.Unlock()
		return errCrowded
	}
	mb.everSeen[side] = true
	mb.sides[side] = true
	mb.watchers[c] = struct{}{}
	mb.lastUsed = time.Now()
	replay := append([]storedMessage{}, mb.log...)
	c.srv.mu.Unlock()

	c.mu.Lock()
	c.mailbox = mb
	c.mu.Unlock()
	c.srv.obs.MailboxOpened()

	// The relay persists undelivered messages: a side that reconnects
	// before its peer closes sees the full ordered log again.
	for _, m := range replay {
		if err := c.write(wireFrame{Type: "message", ID: m.id, Side: m.side, Phase: m.phase, Body: m.body}); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) add(phase, body string) error {
	c.mu.Lock()
	mb := c.mailbox
	side := c.side
	c.mu.Unlock()
	if mb == nil {
		return errors.New("add requires an open mailbox")
	}
	if phase == "" {
		return errors.New("add requires phase")
	}

	c.srv.mu.Lock()
	mb.nextID++
	m := storedMessage{
		id:    fmt.Sprintf("%s-%d", mb.id, mb.nextID),
		side:  side,
		phase: phase,
		body:  body,
	}
	mb.log = append(mb.log, m)
	mb.lastUsed = time.Now()
	watchers := make([]*conn, 0, len(mb.watchers))
	for w := range mb.watchers {
		watchers = append(watchers, w)
	}
	c.srv.mu.Unlock()
	c.srv.obs.MessageAdded()

	// Broadcast to every watcher including the sender: the echo is how
	// clients infer delivery.
	out := wireFrame{Type: "message", ID: m.id, Side: m.side, Phase: m.phase, Body: m.body}
	for _, w := range watchers {
		_ = w.write(out)
	}
	return nil
}

func (c *conn) closeMailbox(mailboxID string) {
	c.mu.Lock()
	mb := c.mailbox
	side := c.side
	c.mailbox = nil
	c.mu.Unlock()
	if mb == nil {
		return
	}
	if mailboxID != "" && mailboxID != mb.id {
		return
	}

	c.srv.mu.Lock()
	delete(mb.watchers, c)
	delete(mb.sides, side)
	mb.closed[side] = true
	done := len(mb.closed) >= len(mb.everSeen) && len(mb.everSeen) > 0
	if done {
		delete(c.srv.mailboxes, mb.id)
		// Message log dies with the mailbox.
		mb.log = nil
	}
	c.srv.mu.Unlock()
	if done {
		c.srv.obs.MailboxClosed()
	}
}

func (c *conn) teardown() {
	c.mu.Lock()
	mb := c.mailbox
	c.mailbox = nil
	side := c.side
	c.mu.Unlock()
	if mb != nil {
		c.srv.mu.Lock()
		delete(mb.watchers, c)
		delete(mb.sides, side)
		mb.lastUsed = time.Now()
		c.srv.mu.Unlock()
	}
	_ = c.c.Close()
}

// Mailbox reports whether the mailbox still exists and how many messages it
// holds. Used by tests to assert the relay ends up empty.
func (s *Server) Mailbox(id string) (exists bool, messages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return false, 0
	}
	return true, len(mb.log)
}

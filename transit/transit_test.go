package transit

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func testTransitKey() [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = byte(255 - i)
	}
	return key
}

func raceConfig() Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ConnectTimeout = 15 * time.Second
	cfg.HandshakeTimeout = 5 * time.Second
	return cfg
}

func TestConnectPicksReachableCandidate(t *testing.T) {
	key := testTransitKey()

	follower, err := New(raceConfig(), key, "side-b", false)
	if err != nil {
		t.Fatalf("new follower: %v", err)
	}
	hints, err := follower.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// Hosts without non-loopback interfaces produce no hints; the listener
	// port is authoritative either way.
	_ = hints
	port := follower.ListenPort()

	// The leader sees one blackholed hint and one real one; the race must
	// settle on the real one without waiting out the blackhole.
	peerHints := NewHints([]DirectHint{
		{Hostname: "192.0.2.1", Port: 1, Priority: 0}, // TEST-NET, never routes
		{Hostname: "127.0.0.1", Port: port, Priority: 1},
	}, nil)

	leader, err := New(raceConfig(), key, "side-a", true)
	if err != nil {
		t.Fatalf("new leader: %v", err)
	}

	type res struct {
		conn *Conn
		err  error
	}
	followerCh := make(chan res, 1)
	go func() {
		c, err := follower.Connect(context.Background(), Hints{})
		followerCh <- res{c, err}
	}()

	lc, err := leader.Connect(context.Background(), peerHints)
	if err != nil {
		t.Fatalf("leader connect: %v", err)
	}
	defer lc.Close()

	fr := <-followerCh
	if fr.err != nil {
		t.Fatalf("follower connect: %v", fr.err)
	}
	defer fr.conn.Close()

	go func() {
		_, _ = lc.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(fr.conn, buf); err != nil {
		t.Fatalf("follower read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q", buf)
	}
	go func() {
		_, _ = fr.conn.Write([]byte("pong"))
	}()
	if _, err := io.ReadFull(lc, buf); err != nil {
		t.Fatalf("leader read: %v", err)
	}
	if string(buf) != "pong" {
		t.Fatalf("got %q", buf)
	}
}

func TestConnectClosesLosingCandidate(t *testing.T) {
	key := testTransitKey()

	follower, err := New(raceConfig(), key, "side-b", false)
	if err != nil {
		t.Fatalf("new follower: %v", err)
	}
	if _, err := follower.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}

	// A tarpit that accepts and then stays silent. Its accepted socket must
	// be torn down once another candidate wins.
	tarpit, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tarpit listen: %v", err)
	}
	defer tarpit.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := tarpit.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	tarpitAddr := tarpit.Addr().(*net.TCPAddr)
	peerHints := NewHints([]DirectHint{
		{Hostname: "127.0.0.1", Port: uint16(tarpitAddr.Port), Priority: 2},
		{Hostname: "127.0.0.1", Port: follower.ListenPort(), Priority: 1},
	}, nil)

	leader, err := New(raceConfig(), key, "side-a", true)
	if err != nil {
		t.Fatalf("new leader: %v", err)
	}

	followerCh := make(chan error, 1)
	go func() {
		c, err := follower.Connect(context.Background(), Hints{})
		if err == nil {
			defer c.Close()
		}
		followerCh <- err
	}()

	lc, err := leader.Connect(context.Background(), peerHints)
	if err != nil {
		t.Fatalf("leader connect: %v", err)
	}
	defer lc.Close()
	if err := <-followerCh; err != nil {
		t.Fatalf("follower connect: %v", err)
	}

	// The losing dial reached the tarpit; selection must have closed it.
	select {
	case c := <-accepted:
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		buf := make([]byte, 256)
		for {
			if _, err := c.Read(buf); err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					t.Fatalf("losing candidate still open after selection")
				}
				c.Close()
				return
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("tarpit candidate was never dialed")
	}
}

func TestConnectNoCandidates(t *testing.T) {
	key := testTransitKey()
	tr, err := New(raceConfig(), key, "side-a", true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// No Listen, no relays, empty peer hints.
	_, err = tr.Connect(context.Background(), Hints{})
	if !errors.Is(err, ErrTransitNegotiation) {
		t.Fatalf("got %v, want ErrTransitNegotiation", err)
	}
}

func TestConnectTimesOut(t *testing.T) {
	key := testTransitKey()
	cfg := raceConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.HandshakeTimeout = 400 * time.Millisecond
	tr, err := New(cfg, key, "side-a", true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// A listener that accepts but never speaks: the handshake must time
	// out and the negotiation must fail rather than hang.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	hints := NewHints([]DirectHint{{Hostname: "127.0.0.1", Port: uint16(addr.Port)}}, nil)
	_, err = tr.Connect(context.Background(), hints)
	if !errors.Is(err, ErrTransitNegotiation) {
		t.Fatalf("got %v, want ErrTransitNegotiation", err)
	}
}

func TestHintsRoundTrip(t *testing.T) {
	h := NewHints(
		[]DirectHint{{Hostname: "10.0.0.5", Port: 4001, Priority: 1}},
		[]RelayHint{{Hints: []DirectHint{{Hostname: "relay.example", Port: 4002}}}},
	)
	b, err := h.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParseHints(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	direct := got.Direct()
	if len(direct) != 1 || direct[0].Addr() != "10.0.0.5:4001" {
		t.Fatalf("direct hints: %+v", direct)
	}
	relays := got.Relays()
	if len(relays) != 1 || relays[0].Hints[0].Hostname != "relay.example" {
		t.Fatalf("relay hints: %+v", relays)
	}
}

func TestHintsIgnoreUnknownTypes(t *testing.T) {
	raw := []byte(`{
		"abilities-v1": [{"type":"direct-tcp-v1"},{"type":"warp-v9"}],
		"hints-v1": [
			{"type":"warp-v9","galaxy":"m31"},
			{"type":"direct-tcp-v1","hostname":"192.168.1.2","port":9000,"priority":2},
			{"type":"direct-tcp-v1","hostname":"192.168.1.3","port":9001,"priority":1}
		]
	}`)
	h, err := ParseHints(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	direct := h.Direct()
	if len(direct) != 2 {
		t.Fatalf("direct hints: %+v", direct)
	}
	// Best priority first.
	if direct[0].Hostname != "192.168.1.3" {
		t.Fatalf("priority order: %+v", direct)
	}
	if relays := h.Relays(); len(relays) != 0 {
		t.Fatalf("unexpected relays: %+v", relays)
	}
}

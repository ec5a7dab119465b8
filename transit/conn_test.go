package transit

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/portkey-sh/portkey/internal/bin"
	"github.com/portkey-sh/portkey/observability"
)

func testSessionKeys(t *testing.T) sessionKeys {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 7)
	}
	ks, err := deriveSessionKeys(key)
	if err != nil {
		t.Fatalf("derive session keys: %v", err)
	}
	return ks
}

func pipePair(t *testing.T, maxRecord int) (*Conn, *Conn) {
	t.Helper()
	ks := testSessionKeys(t)
	ra, rb := net.Pipe()
	a := newConn(ra, bufio.NewReader(ra), ks, true, maxRecord, observability.NoopTransitObserver)
	b := newConn(rb, bufio.NewReader(rb), ks, false, maxRecord, observability.NoopTransitObserver)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestRecordStreamRoundTrip(t *testing.T) {
	a, b := pipePair(t, 64*1024)

	go func() {
		_, _ = a.Write([]byte("first"))
		_, _ = a.Write([]byte("second"))
	}()

	buf := make([]byte, 11)
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "firstsecond" {
		t.Fatalf("got %q", buf)
	}

	// The other direction uses an independent key.
	go func() {
		_, _ = b.Write([]byte("reply"))
	}()
	buf = make([]byte, 5)
	if _, err := io.ReadFull(a, buf); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(buf) != "reply" {
		t.Fatalf("got %q", buf)
	}
}

func TestRecordStreamLargePayload(t *testing.T) {
	a, b := pipePair(t, 64*1024)

	payload := make([]byte, 10*1024*1024)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Write(payload)
		errCh <- err
	}()

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(b, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload corrupted in transit")
	}
}

func TestRecordStreamChunksLongWrites(t *testing.T) {
	a, b := pipePair(t, 16)

	go func() {
		_, _ = a.Write(bytes.Repeat([]byte("x"), 100))
	}()

	got := make([]byte, 100)
	if _, err := io.ReadFull(b, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte("x"), 100)) {
		t.Fatalf("chunked payload corrupted")
	}
}

func TestRecordStreamCorruptedRecordPoisons(t *testing.T) {
	ks := testSessionKeys(t)
	ra, rb := net.Pipe()
	a := newConn(ra, bufio.NewReader(ra), ks, true, 64*1024, observability.NoopTransitObserver)
	b := newConn(rb, bufio.NewReader(rb), ks, false, 64*1024, observability.NoopTransitObserver)
	defer a.Close()
	defer b.Close()

	go func() {
		_, _ = a.Write([]byte("good"))
		// A record-shaped frame sealed under no key at all.
		junk := make([]byte, 4+40)
		bin.PutU32BE(junk[:4], 40)
		_, _ = ra.Write(junk)
	}()

	buf := make([]byte, 4)
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatalf("read good record: %v", err)
	}
	if _, err := b.Read(buf); !errors.Is(err, ErrRecord) {
		t.Fatalf("corrupted record: got %v, want ErrRecord", err)
	}
	// Poisoned: the failure is sticky.
	if _, err := b.Read(buf); !errors.Is(err, ErrRecord) {
		t.Fatalf("post-poison read: got %v, want ErrRecord", err)
	}
}

func TestRecordStreamLengthOutOfRange(t *testing.T) {
	ks := testSessionKeys(t)
	ra, rb := net.Pipe()
	b := newConn(rb, bufio.NewReader(rb), ks, false, 1024, observability.NoopTransitObserver)
	defer ra.Close()
	defer b.Close()

	go func() {
		var prefix [4]byte
		bin.PutU32BE(prefix[:], 1<<30)
		_, _ = ra.Write(prefix[:])
	}()

	buf := make([]byte, 4)
	if _, err := b.Read(buf); !errors.Is(err, ErrRecord) {
		t.Fatalf("oversized record: got %v, want ErrRecord", err)
	}
}

// tcpPair gives the handshake tests buffered sockets: both sides write
// their line before reading, which a synchronous in-memory pipe cannot
// absorb.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	ra, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	rb, ok := <-accepted
	if !ok {
		t.Fatalf("accept failed")
	}
	t.Cleanup(func() {
		_ = ra.Close()
		_ = rb.Close()
	})
	return ra, rb
}

func noDeadline() time.Time { return time.Time{} }

func TestHandshakeConverges(t *testing.T) {
	ks := testSessionKeys(t)
	ra, rb := tcpPair(t)

	errCh := make(chan error, 1)
	go func() {
		br := bufio.NewReader(rb)
		if err := followerHandshake(rb, br, ks, noDeadline()); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	br := bufio.NewReader(ra)
	if err := leaderHandshake(ra, br, ks, noDeadline()); err != nil {
		t.Fatalf("leader handshake: %v", err)
	}
	if _, err := ra.Write(goLine); err != nil {
		t.Fatalf("go: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("follower handshake: %v", err)
	}
}

func TestHandshakeRejectsWrongKey(t *testing.T) {
	ks := testSessionKeys(t)
	var other [32]byte
	other[0] = 1
	ks2, err := deriveSessionKeys(other)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	ra, rb := tcpPair(t)

	go func() {
		br := bufio.NewReader(rb)
		_ = followerHandshake(rb, br, ks2, noDeadline())
		_ = rb.Close()
	}()

	br := bufio.NewReader(ra)
	if err := leaderHandshake(ra, br, ks, noDeadline()); err == nil {
		t.Fatalf("handshake with mismatched keys succeeded")
	}
}

package rendezvous_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/portkey-sh/portkey/observability"
	"github.com/portkey-sh/portkey/rendezvous"
	"github.com/portkey-sh/portkey/rendezvous/server"
)

func startRelay(t *testing.T) (*server.Server, string) {
	t.Helper()
	srv := server.New(server.DefaultConfig())
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		srv.Stop()
	})
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func connect(t *testing.T, url, side string) *rendezvous.Client {
	t.Helper()
	cfg := rendezvous.DefaultConfig()
	cfg.URL = url
	cfg.AppID = "portkey-sh/test"
	cfg.Side = side
	c, err := rendezvous.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect(%s) failed: %v", side, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMailboxRoundTrip(t *testing.T) {
	relay, url := startRelay(t)
	ctx := context.Background()

	a := connect(t, url, "side-a")
	b := connect(t, url, "side-b")

	nameplate, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	mbA, err := a.Claim(ctx, nameplate)
	if err != nil {
		t.Fatalf("Claim A failed: %v", err)
	}
	mbB, err := b.Claim(ctx, nameplate)
	if err != nil {
		t.Fatalf("Claim B failed: %v", err)
	}
	if mbA != mbB {
		t.Fatalf("claims disagree on mailbox: %q vs %q", mbA, mbB)
	}

	if err := a.Open(ctx, mbA); err != nil {
		t.Fatalf("Open A failed: %v", err)
	}
	if err := b.Open(ctx, mbB); err != nil {
		t.Fatalf("Open B failed: %v", err)
	}

	if err := a.Send(ctx, "pake", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case m := <-b.Messages():
		if m.Phase != "pake" || !bytes.Equal(m.Body, []byte{1, 2, 3}) {
			t.Fatalf("unexpected message: %+v", m)
		}
		if m.Side != "side-a" {
			t.Fatalf("message side = %q", m.Side)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for message at B")
	}

	// Peer replies; echoes of B's own message must be filtered out.
	if err := b.Send(ctx, "version", []byte("v")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case m := <-a.Messages():
		if m.Phase != "version" {
			t.Fatalf("unexpected phase %q at A", m.Phase)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for message at A")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release is not idempotent: %v", err)
	}
	if err := a.CloseMailbox(ctx, observability.MoodHappy); err != nil {
		t.Fatalf("CloseMailbox A failed: %v", err)
	}
	if err := b.Release(ctx); err != nil {
		t.Fatalf("Release B failed: %v", err)
	}
	if err := b.CloseMailbox(ctx, observability.MoodHappy); err != nil {
		t.Fatalf("CloseMailbox B failed: %v", err)
	}

	if exists, _ := relay.Mailbox(mbA); exists {
		t.Fatalf("mailbox %q still present after both sides closed", mbA)
	}
}

func TestThirdSideIsCrowded(t *testing.T) {
	_, url := startRelay(t)
	ctx := context.Background()

	a := connect(t, url, "side-a")
	b := connect(t, url, "side-b")
	c := connect(t, url, "side-c")

	nameplate, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if _, err := a.Claim(ctx, nameplate); err != nil {
		t.Fatalf("Claim A failed: %v", err)
	}
	if _, err := b.Claim(ctx, nameplate); err != nil {
		t.Fatalf("Claim B failed: %v", err)
	}
	if _, err := c.Claim(ctx, nameplate); !errors.Is(err, rendezvous.ErrNameplateUnavailable) {
		t.Fatalf("third claim err = %v, want ErrNameplateUnavailable", err)
	}
}

func TestMessageLogReplayedOnOpen(t *testing.T) {
	_, url := startRelay(t)
	ctx := context.Background()

	a := connect(t, url, "side-a")
	nameplate, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	mb, err := a.Claim(ctx, nameplate)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := a.Open(ctx, mb); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i, phase := range []string{"pake", "version", "0"} {
		if err := a.Send(ctx, phase, []byte{byte(i)}); err != nil {
			t.Fatalf("Send %q failed: %v", phase, err)
		}
	}

	// B arrives late: the stored log must be replayed in order.
	b := connect(t, url, "side-b")
	if _, err := b.Claim(ctx, nameplate); err != nil {
		t.Fatalf("Claim B failed: %v", err)
	}
	if err := b.Open(ctx, mb); err != nil {
		t.Fatalf("Open B failed: %v", err)
	}
	for i, want := range []string{"pake", "version", "0"} {
		select {
		case m := <-b.Messages():
			if m.Phase != want {
				t.Fatalf("message %d phase = %q, want %q", i, m.Phase, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for replayed message %d", i)
		}
	}
}

func TestConcurrentSendersShareConnection(t *testing.T) {
	_, url := startRelay(t)
	ctx := context.Background()

	cfg := rendezvous.DefaultConfig()
	cfg.URL = url
	cfg.AppID = "portkey-sh/test"
	cfg.Side = "side-a"
	cfg.PingInterval = time.Millisecond // keepalives race the senders
	a, err := rendezvous.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b := connect(t, url, "side-b")

	nameplate, err := a.Allocate(ctx)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	mb, err := a.Claim(ctx, nameplate)
	if err != nil {
		t.Fatalf("Claim A failed: %v", err)
	}
	if _, err := b.Claim(ctx, nameplate); err != nil {
		t.Fatalf("Claim B failed: %v", err)
	}
	if err := a.Open(ctx, mb); err != nil {
		t.Fatalf("Open A failed: %v", err)
	}
	if err := b.Open(ctx, mb); err != nil {
		t.Fatalf("Open B failed: %v", err)
	}

	const senders, perSender = 8, 50
	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				phase := strconv.Itoa(g*perSender + i)
				if err := a.Send(ctx, phase, []byte(phase)); err != nil {
					t.Errorf("Send %s failed: %v", phase, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	got := make(map[string]bool, senders*perSender)
	deadline := time.After(10 * time.Second)
	for len(got) < senders*perSender {
		select {
		case m, ok := <-b.Messages():
			if !ok {
				t.Fatalf("message stream closed early: %v", b.Err())
			}
			if got[m.Phase] {
				t.Fatalf("phase %q delivered twice", m.Phase)
			}
			got[m.Phase] = true
		case <-deadline:
			t.Fatalf("received %d of %d messages", len(got), senders*perSender)
		}
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	cfg := rendezvous.DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1/v1"
	cfg.AppID = "portkey-sh/test"
	cfg.Side = "side-a"
	cfg.ConnectTimeout = 500 * time.Millisecond
	if _, err := rendezvous.Connect(context.Background(), cfg); !errors.Is(err, rendezvous.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

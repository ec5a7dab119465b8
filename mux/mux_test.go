package mux_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/portkey-sh/portkey/mux"
	"github.com/portkey-sh/portkey/transit"
)

// transitPair negotiates a real transit channel over loopback.
func transitPair(t *testing.T) (leader, follower *transit.Conn) {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 3)
	}
	cfg := transit.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ConnectTimeout = 15 * time.Second

	f, err := transit.New(cfg, key, "side-b", false)
	if err != nil {
		t.Fatalf("new follower: %v", err)
	}
	hints, err := f.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := f.ListenPort()
	_ = hints

	l, err := transit.New(cfg, key, "side-a", true)
	if err != nil {
		t.Fatalf("new leader: %v", err)
	}

	type res struct {
		conn *transit.Conn
		err  error
	}
	fch := make(chan res, 1)
	go func() {
		c, err := f.Connect(context.Background(), transit.Hints{})
		fch <- res{c, err}
	}()
	lc, err := l.Connect(context.Background(), transit.NewHints([]transit.DirectHint{
		{Hostname: "127.0.0.1", Port: port},
	}, nil))
	if err != nil {
		t.Fatalf("leader connect: %v", err)
	}
	fr := <-fch
	if fr.err != nil {
		t.Fatalf("follower connect: %v", fr.err)
	}
	t.Cleanup(func() {
		_ = lc.Close()
		_ = fr.conn.Close()
	})
	return lc, fr.conn
}

func TestSubchannelEcho(t *testing.T) {
	lc, fc := transitPair(t)

	srv, err := mux.Server(lc, nil)
	if err != nil {
		t.Fatalf("mux server: %v", err)
	}
	cli, err := mux.Client(fc, nil)
	if err != nil {
		t.Fatalf("mux client: %v", err)
	}

	go func() {
		for {
			st, err := srv.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(st)
		}
	}()

	for i := 0; i < 3; i++ {
		st, err := cli.Open()
		if err != nil {
			t.Fatalf("open stream: %v", err)
		}
		if _, err := st.Write([]byte("ping")); err != nil {
			t.Fatalf("write: %v", err)
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(st, buf); err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(buf) != "ping" {
			t.Fatalf("got %q", buf)
		}
		_ = st.Close()
	}
}

func TestConcurrentSubchannels(t *testing.T) {
	lc, fc := transitPair(t)

	srv, err := mux.Server(lc, nil)
	if err != nil {
		t.Fatalf("mux server: %v", err)
	}
	cli, err := mux.Client(fc, nil)
	if err != nil {
		t.Fatalf("mux client: %v", err)
	}

	go func() {
		for {
			st, err := srv.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(st)
		}
	}()

	const streams = 8
	errCh := make(chan error, streams)
	for i := 0; i < streams; i++ {
		go func(n int) {
			st, err := cli.Open()
			if err != nil {
				errCh <- err
				return
			}
			defer st.Close()
			payload := make([]byte, 64*1024)
			for j := range payload {
				payload[j] = byte(n)
			}
			go func() {
				_, _ = st.Write(payload)
			}()
			got := make([]byte, len(payload))
			if _, err := io.ReadFull(st, got); err != nil {
				errCh <- err
				return
			}
			for _, b := range got {
				if b != byte(n) {
					errCh <- io.ErrUnexpectedEOF
					return
				}
			}
			errCh <- nil
		}(i)
	}
	for i := 0; i < streams; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("stream: %v", err)
		}
	}
}

// Package rendezvous implements the mailbox client: one logical duplex
// connection to the rendezvous relay carrying nameplate, mailbox, and
// phase-message operations.
//
// The wire protocol is JSON objects over a websocket; see wire.go. The
// client filters echoes of its own messages by side id and exposes the peer
// side's messages as an ordered stream. Delivery of outbound messages is
// fire-and-forget at this layer: acknowledgement is inferred from the peer's
// replies, never from a transport-level ack.
package rendezvous

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/portkey-sh/portkey/internal/contextutil"
	"github.com/portkey-sh/portkey/internal/logging"
	"github.com/portkey-sh/portkey/observability"
	"github.com/portkey-sh/portkey/realtime/ws"
)

var (
	// ErrTransport indicates the relay is unreachable or the connection
	// dropped. Retryable at the caller's discretion; never retried here.
	ErrTransport = errors.New("rendezvous: transport failure")
	// ErrNameplateUnavailable indicates the requested nameplate is taken
	// or malformed. Recoverable by choosing another code.
	ErrNameplateUnavailable = errors.New("rendezvous: nameplate unavailable")
	// ErrServer wraps an error message pushed by the relay.
	ErrServer = errors.New("rendezvous: server error")
	// ErrClosed indicates the client was closed.
	ErrClosed = errors.New("rendezvous: client closed")
)

// Config carries the connection parameters for one mailbox client.
type Config struct {
	URL   string // Relay websocket URL (ws:// or wss://).
	AppID string // Application namespace bound on connect.
	Side  string // Random per-session side id; must differ between peers.

	ConnectTimeout time.Duration // Websocket dial + welcome/bind budget.
	RPCTimeout     time.Duration // Per-operation default when ctx has no deadline.
	PingInterval   time.Duration // Protocol-level keepalive cadence (0 disables).

	MaxMessageBytes int64 // Per-frame websocket read limit.

	Logging  *logging.Backend
	Observer observability.RendezvousObserver
}

// DefaultConfig returns conservative client defaults. URL, AppID, and Side
// must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		RPCTimeout:      10 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: 1 << 20,
		Observer:        observability.NoopRendezvousObserver,
	}
}

// InboundMessage is one phase message from the peer side.
type InboundMessage struct {
	Side  string
	Phase string
	Body  []byte // ciphertext, already hex-decoded
	ID    string // server-assigned message id
}

// Client owns one relay connection. It is safe for concurrent use; at most
// one mailbox may be open per client.
type Client struct {
	cfg Config
	log interface {
		Debugf(format string, args ...interface{})
		Warningf(format string, args ...interface{})
	}
	obs observability.RendezvousObserver

	conn    *ws.Conn
	writeMu sync.Mutex // the websocket permits one writer at a time

	mu        sync.Mutex
	welcome   Welcome
	nameplate string // claimed nameplate, empty once released
	mailbox   string // open mailbox id
	waitType  string
	waitCh    chan frame
	readErr   error
	closed    bool

	rpcMu sync.Mutex // serializes request/response exchanges

	seen  map[string]struct{}
	queue *msgQueue
	msgCh chan InboundMessage

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect dials the relay, consumes the welcome, and binds the appid/side.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: missing relay URL", ErrTransport)
	}
	if cfg.AppID == "" || cfg.Side == "" {
		return nil, fmt.Errorf("%w: missing appid or side", ErrTransport)
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopRendezvousObserver
	}
	backend := cfg.Logging
	if backend == nil {
		backend = logging.Discard()
	}

	c := &Client{
		cfg:   cfg,
		log:   backend.Logger("rendezvous"),
		obs:   cfg.Observer,
		seen:  make(map[string]struct{}),
		queue: newMsgQueue(),
		msgCh: make(chan InboundMessage),
		done:  make(chan struct{}),
	}

	dialCtx, cancel := contextutil.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := ws.Dial(dialCtx, cfg.URL, ws.DialOptions{})
	if err != nil {
		c.obs.Connect(observability.ConnectResultFail)
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, cfg.URL, err)
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	c.conn = conn

	var hello frame
	if err := conn.ReadJSON(dialCtx, &hello); err != nil {
		_ = conn.Close()
		c.obs.Connect(observability.ConnectResultFail)
		return nil, fmt.Errorf("%w: reading welcome: %v", ErrTransport, err)
	}
	if hello.Type != typeWelcome {
		_ = conn.Close()
		c.obs.Connect(observability.ConnectResultFail)
		return nil, fmt.Errorf("%w: expected welcome, got %q", ErrTransport, hello.Type)
	}
	w := decodeWelcome(hello.Welcome)
	if w.Error != "" {
		_ = conn.Close()
		c.obs.Connect(observability.ConnectResultFail)
		return nil, fmt.Errorf("%w: relay refused service: %s", ErrTransport, w.Error)
	}
	c.welcome = w

	if err := conn.WriteJSON(dialCtx, frame{Type: typeBind, AppID: cfg.AppID, Side: cfg.Side}); err != nil {
		_ = conn.Close()
		c.obs.Connect(observability.ConnectResultFail)
		return nil, fmt.Errorf("%w: bind: %v", ErrTransport, err)
	}

	c.obs.Connect(observability.ConnectResultOK)
	c.log.Debugf("connected to %s side=%s", cfg.URL, cfg.Side)

	c.wg.Add(2)
	go c.readLoop()
	go c.pump()
	if cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return c, nil
}

// Welcome returns the server greeting received on connect.
func (c *Client) Welcome() Welcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.welcome
}

// Side returns this client's side id.
func (c *Client) Side() string { return c.cfg.Side }

// writeJSON funnels every outbound frame through one lock: Send, Open, the
// keepalive loop, and request exchanges all share the connection.
func (c *Client) writeJSON(ctx context.Context, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ctx, f)
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	for {
		var f frame
		if err := c.conn.ReadJSON(ctx, &f); err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Type {
	case typeAck, typePong:
		c.log.Debugf("server %s", f.Type)
	case typeWelcome:
		c.mu.Lock()
		c.welcome = decodeWelcome(f.Welcome)
		c.mu.Unlock()
	case typeMessage:
		c.handleMessage(f)
	case typeError:
		// An error frame answers whatever request is in flight; without
		// a waiter it is a protocol-level complaint worth surfacing in
		// the log only.
		if !c.deliver(f) {
			c.log.Warningf("unsolicited server error: %s", f.Error)
		}
	default:
		if !c.deliver(f) {
			c.log.Debugf("dropping unexpected %q frame", f.Type)
		}
	}
}

func (c *Client) handleMessage(f frame) {
	if f.Side == c.cfg.Side {
		return // echo of our own message
	}
	if f.ID != "" {
		c.mu.Lock()
		if _, dup := c.seen[f.ID]; dup {
			c.mu.Unlock()
			return
		}
		c.seen[f.ID] = struct{}{}
		c.mu.Unlock()
	}
	body, err := hex.DecodeString(f.Body)
	if err != nil {
		c.log.Warningf("discarding message with non-hex body in phase %q", f.Phase)
		return
	}
	c.obs.MessageReceived()
	c.queue.push(InboundMessage{Side: f.Side, Phase: f.Phase, Body: body, ID: f.ID})
}

// deliver hands f to the waiting request exchange, if any.
func (c *Client) deliver(f frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waitCh == nil {
		return false
	}
	if f.Type != c.waitType && f.Type != typeError {
		return false
	}
	ch := c.waitCh
	c.waitCh = nil
	c.waitType = ""
	ch <- f
	return true
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.readErr == nil {
		if c.closed {
			c.readErr = ErrClosed
		} else {
			c.readErr = err
		}
	}
	ch := c.waitCh
	c.waitCh = nil
	c.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	c.queue.close()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) pump() {
	defer c.wg.Done()
	for {
		m, ok := c.queue.pop()
		if !ok {
			close(c.msgCh)
			return
		}
		select {
		case c.msgCh <- m:
		case <-c.done:
			close(c.msgCh)
			return
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	n := 0
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			n++
			ping := n
			ctx, cancel := contextutil.WithTimeout(context.Background(), c.cfg.RPCTimeout)
			if err := c.writeJSON(ctx, frame{Type: typePing, Ping: &ping}); err != nil {
				cancel()
				return
			}
			cancel()
		}
	}
}

// exchange writes a request and waits for the given response type (or a
// server error). One exchange runs at a time.
func (c *Client) exchange(ctx context.Context, req frame, respType string) (frame, error) {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()

	ctx, cancel := contextutil.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return frame{}, err
	}
	ch := make(chan frame, 1)
	c.waitCh = ch
	c.waitType = respType
	c.mu.Unlock()

	clearWait := func() {
		c.mu.Lock()
		if c.waitCh == ch {
			c.waitCh = nil
			c.waitType = ""
		}
		c.mu.Unlock()
	}

	if err := c.writeJSON(ctx, req); err != nil {
		clearWait()
		return frame{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return frame{}, c.Err()
		}
		if f.Type == typeError {
			return frame{}, fmt.Errorf("%w: %s", ErrServer, f.Error)
		}
		return f, nil
	case <-ctx.Done():
		clearWait()
		return frame{}, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	case <-c.done:
		clearWait()
		return frame{}, c.Err()
	}
}

// Allocate asks the relay for a fresh nameplate.
func (c *Client) Allocate(ctx context.Context) (string, error) {
	f, err := c.exchange(ctx, frame{Type: typeAllocate}, typeAllocated)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.nameplate = f.Nameplate
	c.mu.Unlock()
	c.log.Debugf("allocated nameplate %s", f.Nameplate)
	return f.Nameplate, nil
}

// Claim reserves a nameplate and returns the mailbox id bound to it.
func (c *Client) Claim(ctx context.Context, nameplate string) (string, error) {
	f, err := c.exchange(ctx, frame{Type: typeClaim, Nameplate: nameplate}, typeClaimed)
	if err != nil {
		if errors.Is(err, ErrServer) {
			return "", fmt.Errorf("%w: %q", ErrNameplateUnavailable, nameplate)
		}
		return "", err
	}
	c.mu.Lock()
	c.nameplate = nameplate
	c.mu.Unlock()
	c.log.Debugf("claimed nameplate %s mailbox %s", nameplate, f.Mailbox)
	return f.Mailbox, nil
}

// Open subscribes to a mailbox's message stream. Only one mailbox may be
// open per connection.
func (c *Client) Open(ctx context.Context, mailbox string) error {
	c.mu.Lock()
	if c.mailbox != "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: mailbox already open", ErrServer)
	}
	c.mu.Unlock()

	ctx, cancel := contextutil.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()
	if err := c.writeJSON(ctx, frame{Type: typeOpen, Mailbox: mailbox}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.mu.Lock()
	c.mailbox = mailbox
	c.mu.Unlock()
	c.log.Debugf("opened mailbox %s", mailbox)
	return nil
}

// Send enqueues one phase message. Fire-and-forget: the relay's echo or the
// peer's reply is the only acknowledgement.
func (c *Client) Send(ctx context.Context, phase string, body []byte) error {
	ctx, cancel := contextutil.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()
	err := c.writeJSON(ctx, frame{Type: typeAdd, Phase: phase, Body: hex.EncodeToString(body)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.obs.MessageSent()
	return nil
}

// Messages returns the ordered stream of peer messages. The channel closes
// when the connection is lost or the client is closed; Err reports why.
func (c *Client) Messages() <-chan InboundMessage {
	return c.msgCh
}

// Err returns the terminal error after Messages closes.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Release gives up the claimed nameplate. Idempotent.
func (c *Client) Release(ctx context.Context) error {
	c.mu.Lock()
	nameplate := c.nameplate
	c.mu.Unlock()
	if nameplate == "" {
		return nil
	}
	_, err := c.exchange(ctx, frame{Type: typeRelease, Nameplate: nameplate}, typeReleased)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.nameplate = ""
	c.mu.Unlock()
	return nil
}

// CloseMailbox closes the open mailbox with the given mood. Idempotent.
func (c *Client) CloseMailbox(ctx context.Context, mood observability.Mood) error {
	c.mu.Lock()
	mailbox := c.mailbox
	c.mu.Unlock()
	if mailbox == "" {
		return nil
	}
	_, err := c.exchange(ctx, frame{Type: typeClose, Mailbox: mailbox, Mood: string(mood)}, typeClosed)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.mailbox = ""
	c.mu.Unlock()
	c.obs.SessionClosed(mood)
	return nil
}

// Close tears down the connection. Idempotent; release/close of relay-side
// state is the caller's responsibility (best-effort, before Close).
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	err := c.conn.Close()
	c.queue.close()
	c.wg.Wait()
	return err
}

// msgQueue is an unbounded FIFO feeding the Messages channel so the read
// loop never blocks on a slow consumer.
type msgQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []InboundMessage
	closed bool
}

func newMsgQueue() *msgQueue {
	q := &msgQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *msgQueue) push(m InboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, m)
	q.cond.Signal()
}

func (q *msgQueue) pop() (InboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return InboundMessage{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

func (q *msgQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Package wormhole pairs two parties that share a one-time code into an
// authenticated encrypted session over an untrusted rendezvous relay.
//
// One side opens with an empty code and shows the allocated code to the
// user; the other side opens with that code typed in. Both run the same
// exchange: claim the nameplate, open the shared mailbox, run the PAKE
// round, then confirm keys via the sealed version phase. After confirmation
// the session is Active and the application can exchange named phase
// payloads, derive a transit key for a bulk channel, and close.
//
// Secrets live only in process memory and die with the session.
package wormhole

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/portkey-sh/portkey/crypto/pake"
	"github.com/portkey-sh/portkey/crypto/phasebox"
	"github.com/portkey-sh/portkey/crypto/wkey"
	"github.com/portkey-sh/portkey/internal/contextutil"
	"github.com/portkey-sh/portkey/internal/logging"
	"github.com/portkey-sh/portkey/observability"
	"github.com/portkey-sh/portkey/rendezvous"
	"github.com/portkey-sh/portkey/wormhole/wordlist"
)

// Config carries everything a session needs. RendezvousURL and AppID are
// mandatory.
type Config struct {
	RendezvousURL string // Relay websocket URL.
	AppID         string // Application namespace; both sides must match.

	CodeWords int            // Words appended to allocated nameplates (default 2).
	Versions  map[string]any // App version payload for the confirmation exchange.

	ConnectTimeout time.Duration // Relay dial budget.
	ClaimTimeout   time.Duration // Nameplate claim budget.
	PakeTimeout    time.Duration // Maximum wait for the peer's exchange + confirmation.
	CloseTimeout   time.Duration // Budget for best-effort relay cleanup.
	PingInterval   time.Duration // Relay keepalive cadence.

	Logging  *logging.Backend
	Observer observability.RendezvousObserver
}

// DefaultConfig returns defaults for everything but RendezvousURL and AppID.
func DefaultConfig() Config {
	return Config{
		CodeWords:      wordlist.DefaultWords,
		ConnectTimeout: 10 * time.Second,
		ClaimTimeout:   10 * time.Second,
		PakeTimeout:    10 * time.Minute,
		CloseTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// PhaseMessage is one decrypted application payload from the peer.
type PhaseMessage struct {
	Phase string
	Body  []byte
}

// Wormhole is one pairing session. Methods are safe for concurrent use.
type Wormhole struct {
	cfg Config
	log interface {
		Debugf(format string, args ...interface{})
		Warningf(format string, args ...interface{})
	}

	rc      *rendezvous.Client
	side    string
	code    string
	mailbox string

	mu           sync.Mutex
	state        State
	err          error
	mood         observability.Mood
	secret       []byte
	verifier     [wkey.KeySize]byte
	peerSide     string
	peerVersions map[string]any
	role         phasebox.Role
	sendSeq      uint64
	sentPhases   map[string]bool
	seenPhases   map[string]bool
	pendingApp   []inboundApp
	ex           *pake.Exchange

	appRx     chan PhaseMessage
	confirmed chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	tearOnce  sync.Once
	wg        sync.WaitGroup
}

type pakeBody struct {
	PakeV1 string `json:"pake_v1"`
}

type versionBody struct {
	AppVersions map[string]any `json:"app_versions"`
}

// Open starts a session. With an empty code it allocates a nameplate and
// completes it into a fresh code (readable via Code); otherwise the typed
// code is used as-is. Open returns once this side's exchange message is in
// flight; SendPhase, RecvPhase, and Verifier block until confirmation.
func Open(ctx context.Context, cfg Config, code string) (*Wormhole, error) {
	if strings.TrimSpace(cfg.RendezvousURL) == "" {
		return nil, fmt.Errorf("%w: missing rendezvous URL", ErrTransport)
	}
	if cfg.AppID == "" {
		return nil, fmt.Errorf("%w: missing appid", ErrTransport)
	}
	backend := cfg.Logging
	if backend == nil {
		backend = logging.Discard()
	}

	side, err := newSide()
	if err != nil {
		return nil, err
	}

	rcfg := rendezvous.DefaultConfig()
	rcfg.URL = cfg.RendezvousURL
	rcfg.AppID = cfg.AppID
	rcfg.Side = side
	if cfg.ConnectTimeout > 0 {
		rcfg.ConnectTimeout = cfg.ConnectTimeout
	}
	rcfg.PingInterval = cfg.PingInterval
	rcfg.Logging = cfg.Logging
	if cfg.Observer != nil {
		rcfg.Observer = cfg.Observer
	}

	rc, err := rendezvous.Connect(ctx, rcfg)
	if err != nil {
		return nil, err
	}

	w := &Wormhole{
		cfg:        cfg,
		log:        backend.Logger("wormhole"),
		rc:         rc,
		side:       side,
		state:      StateIdle,
		mood:       observability.MoodLonely,
		sentPhases: make(map[string]bool),
		seenPhases: make(map[string]bool),
		appRx:      make(chan PhaseMessage, 8),
		confirmed:  make(chan struct{}),
		done:       make(chan struct{}),
	}

	var nameplate string
	if code == "" {
		nameplate, err = rc.Allocate(ctx)
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		code, err = wordlist.Choose(nameplate, cfg.CodeWords)
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
	} else {
		nameplate, _, err = wordlist.Split(code)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("%w: %v", ErrNameplateUnavailable, err)
		}
	}
	w.code = code
	w.setState(StateCodeSet)

	claimCtx, cancel := contextutil.WithTimeout(ctx, cfg.ClaimTimeout)
	mailbox, err := rc.Claim(claimCtx, nameplate)
	cancel()
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	w.mailbox = mailbox
	w.setState(StateNameplateClaimed)

	if err := rc.Open(ctx, mailbox); err != nil {
		_ = rc.Close()
		return nil, err
	}
	w.setState(StateMailboxOpen)

	ex, msg, err := pake.Start(code)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	w.ex = ex
	body, err := json.Marshal(pakeBody{PakeV1: hex.EncodeToString(msg)})
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	if err := rc.Send(ctx, phasePake, body); err != nil {
		_ = rc.Close()
		return nil, err
	}
	w.setState(StatePakeSent)
	w.log.Debugf("side=%s nameplate=%s mailbox=%s pake sent", side, nameplate, mailbox)

	w.wg.Add(1)
	go w.run()
	return w, nil
}

func newSide() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Code returns the full wormhole code for this session.
func (w *Wormhole) Code() string { return w.code }

// Side returns this session's random side id.
func (w *Wormhole) Side() string { return w.side }

// AppID returns the application namespace this session was opened under.
func (w *Wormhole) AppID() string { return w.cfg.AppID }

// MailboxID returns the relay-issued mailbox id.
func (w *Wormhole) MailboxID() string { return w.mailbox }

// State returns the current lifecycle state.
func (w *Wormhole) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the terminal error, if the session has faulted.
func (w *Wormhole) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Wormhole) setState(s State) {
	w.mu.Lock()
	if w.state != StateClosed {
		w.state = s
	}
	w.mu.Unlock()
}

func (w *Wormhole) run() {
	defer w.wg.Done()

	var timerC <-chan time.Time
	if w.cfg.PakeTimeout > 0 {
		t := time.NewTimer(w.cfg.PakeTimeout)
		defer t.Stop()
		timerC = t.C
	}

	msgs := w.rc.Messages()
	for {
		select {
		case <-w.done:
			return
		case <-timerC:
			w.fault(fmt.Errorf("%w: no peer within pake timeout", ErrTransport), observability.MoodLonely)
			return
		case m, ok := <-msgs:
			if !ok {
				select {
				case <-w.done:
					// Our own Close dropped the connection.
					return
				default:
				}
				err := w.rc.Err()
				if err == nil {
					err = ErrClosed
				}
				w.fault(err, observability.MoodErrory)
				return
			}
			if err := w.handle(classify(m)); err != nil {
				mood := observability.MoodErrory
				if err == ErrWrongPassword || err == ErrAuthentication {
					mood = observability.MoodScary
				}
				w.fault(err, mood)
				return
			}
			if w.isConfirmed() {
				timerC = nil
			}
		}
	}
}

func (w *Wormhole) isConfirmed() bool {
	select {
	case <-w.confirmed:
		return true
	default:
		return false
	}
}

func (w *Wormhole) handle(in inbound) error {
	switch v := in.(type) {
	case inboundPake:
		return w.handlePake(v)
	case inboundVersion:
		return w.handleVersion(v)
	case inboundApp:
		return w.handleApp(v)
	default:
		return fmt.Errorf("%w: unhandled message variant %T", ErrProtocol, in)
	}
}

func (w *Wormhole) handlePake(v inboundPake) error {
	w.mu.Lock()
	if w.state != StatePakeSent {
		w.mu.Unlock()
		return fmt.Errorf("%w: unexpected pake message in state %s", ErrProtocol, w.state)
	}
	ex := w.ex
	w.mu.Unlock()

	var pb pakeBody
	if err := json.Unmarshal(v.body, &pb); err != nil {
		return fmt.Errorf("%w: undecodable pake body", pake.ErrKeyExchange)
	}
	raw, err := hex.DecodeString(pb.PakeV1)
	if err != nil {
		return fmt.Errorf("%w: non-hex pake element", pake.ErrKeyExchange)
	}
	secret, err := ex.Finish(raw)
	if err != nil {
		return err
	}
	verifier, err := wkey.VerifierKey(secret)
	if err != nil {
		return err
	}

	role := phasebox.RoleFollower
	if w.side > v.side {
		role = phasebox.RoleLeader
	}

	w.mu.Lock()
	w.secret = secret
	w.verifier = verifier
	w.peerSide = v.side
	w.role = role
	w.ex = nil // single-use; the exchange state is spent
	w.state = StatePakeReceived
	w.mu.Unlock()
	w.log.Debugf("pake complete, confirmation pending (role=%d)", role)

	// Send our confirmation: the version payload sealed under our
	// direction's version-phase key. Only the holder of the same code can
	// open it.
	key, err := wkey.PhaseKey(secret, w.side, phaseVersion)
	if err != nil {
		return err
	}
	body, err := json.Marshal(versionBody{AppVersions: w.cfg.Versions})
	if err != nil {
		return err
	}
	sealed := phasebox.Seal(key, role, w.nextSeq(), body)
	return w.rc.Send(context.Background(), phaseVersion, sealed)
}

func (w *Wormhole) handleVersion(v inboundVersion) error {
	w.mu.Lock()
	if w.state != StatePakeReceived {
		w.mu.Unlock()
		return fmt.Errorf("%w: version message in state %s", ErrProtocol, w.state)
	}
	secret := w.secret
	pending := w.pendingApp
	w.pendingApp = nil
	w.mu.Unlock()

	key, err := wkey.PhaseKey(secret, v.side, phaseVersion)
	if err != nil {
		return err
	}
	plain, err := phasebox.Open(key, v.body)
	if err != nil {
		// The one observable symptom of mismatched codes. Which side
		// mistyped is deliberately not distinguishable.
		return ErrWrongPassword
	}
	var vb versionBody
	if err := json.Unmarshal(plain, &vb); err != nil {
		return fmt.Errorf("%w: undecodable version payload", ErrProtocol)
	}

	w.mu.Lock()
	w.peerVersions = vb.AppVersions
	w.state = StateActive
	w.mu.Unlock()
	close(w.confirmed)
	w.log.Debugf("confirmed, session active")

	// Application messages that raced ahead of confirmation were held
	// back; only now is it safe to authenticate and release them.
	for _, app := range pending {
		if err := w.deliverApp(app); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wormhole) handleApp(v inboundApp) error {
	w.mu.Lock()
	confirmedYet := w.state == StateActive
	if !confirmedYet {
		if w.state != StatePakeSent && w.state != StatePakeReceived {
			w.mu.Unlock()
			return fmt.Errorf("%w: application phase %q in state %s", ErrProtocol, v.phase, w.state)
		}
		w.pendingApp = append(w.pendingApp, v)
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	return w.deliverApp(v)
}

func (w *Wormhole) deliverApp(v inboundApp) error {
	w.mu.Lock()
	if w.seenPhases[v.phase] {
		w.mu.Unlock()
		return fmt.Errorf("%w: phase %q repeated by peer", ErrProtocol, v.phase)
	}
	w.seenPhases[v.phase] = true
	secret := w.secret
	w.mu.Unlock()

	key, err := wkey.PhaseKey(secret, v.side, v.phase)
	if err != nil {
		return err
	}
	plain, err := phasebox.Open(key, v.body)
	if err != nil {
		return ErrAuthentication
	}
	select {
	case w.appRx <- PhaseMessage{Phase: v.phase, Body: plain}:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

func (w *Wormhole) nextSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	seq := w.sendSeq
	w.sendSeq++
	return seq
}

func (w *Wormhole) awaitConfirmed(ctx context.Context) error {
	select {
	case <-w.confirmed:
		return nil
	case <-w.done:
		return w.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Wormhole) closeErr() error {
	if err := w.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// SendPhase seals body under this direction's key for the named phase and
// enqueues it on the mailbox. Phase names are application-chosen, unique
// per session, and must not collide with the reserved names.
func (w *Wormhole) SendPhase(ctx context.Context, phase string, body []byte) error {
	if phase == phasePake || phase == phaseVersion {
		return fmt.Errorf("%w: phase %q is reserved", ErrProtocol, phase)
	}
	if err := w.awaitConfirmed(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	if w.sentPhases[phase] {
		w.mu.Unlock()
		return fmt.Errorf("%w: phase %q already sent", ErrProtocol, phase)
	}
	w.sentPhases[phase] = true
	secret := w.secret
	role := w.role
	w.mu.Unlock()

	key, err := wkey.PhaseKey(secret, w.side, phase)
	if err != nil {
		return err
	}
	return w.rc.Send(ctx, phase, phasebox.Seal(key, role, w.nextSeq(), body))
}

// RecvPhase returns the next application message from the peer, in mailbox
// order. Messages buffered before confirmation are released first.
func (w *Wormhole) RecvPhase(ctx context.Context) (PhaseMessage, error) {
	select {
	case m := <-w.appRx:
		return m, nil
	case <-w.done:
		// Drain anything delivered before the close won the race.
		select {
		case m := <-w.appRx:
			return m, nil
		default:
		}
		return PhaseMessage{}, w.closeErr()
	case <-ctx.Done():
		return PhaseMessage{}, ctx.Err()
	}
}

// Verifier blocks until confirmation and returns the session verifier key
// for out-of-band comparison.
func (w *Wormhole) Verifier(ctx context.Context) ([wkey.KeySize]byte, error) {
	if err := w.awaitConfirmed(ctx); err != nil {
		return [wkey.KeySize]byte{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.verifier, nil
}

// PeerVersions returns the peer's confirmed version payload.
func (w *Wormhole) PeerVersions(ctx context.Context) (map[string]any, error) {
	if err := w.awaitConfirmed(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peerVersions, nil
}

// DeriveTransitKey derives the bulk-channel key for the given purpose
// (conventionally the appid). Available once the session is Active.
func (w *Wormhole) DeriveTransitKey(ctx context.Context, purpose string) ([wkey.KeySize]byte, error) {
	if err := w.awaitConfirmed(ctx); err != nil {
		return [wkey.KeySize]byte{}, err
	}
	w.mu.Lock()
	secret := w.secret
	w.mu.Unlock()
	return wkey.TransitKey(secret, purpose)
}

// IsLeader reports which end of the symmetric session this is, for
// protocols (like transit) that need one deterministic tiebreaker.
func (w *Wormhole) IsLeader(ctx context.Context) (bool, error) {
	if err := w.awaitConfirmed(ctx); err != nil {
		return false, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.role == phasebox.RoleLeader, nil
}

func (w *Wormhole) fault(err error, mood observability.Mood) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.state = StateClosed
	w.mood = mood
	w.mu.Unlock()
	w.log.Warningf("session fault: %v", err)
	w.closeOnce.Do(func() { close(w.done) })
	w.teardown(mood)
}

// Close ends the session gracefully: release the nameplate, close the
// mailbox, then drop the relay connection, each best-effort. Idempotent.
func (w *Wormhole) Close() error {
	w.mu.Lock()
	mood := w.mood
	if w.err == nil && w.state == StateActive {
		mood = observability.MoodHappy
	}
	if w.state != StateClosed {
		w.state = StateClosing
	}
	w.mu.Unlock()

	w.closeOnce.Do(func() { close(w.done) })
	w.teardown(mood)
	w.wg.Wait()
	w.setStateClosed()
	return nil
}

func (w *Wormhole) setStateClosed() {
	w.mu.Lock()
	w.state = StateClosed
	w.mu.Unlock()
}

func (w *Wormhole) teardown(mood observability.Mood) {
	w.tearOnce.Do(func() {
		ctx, cancel := contextutil.WithTimeout(context.Background(), w.cfg.CloseTimeout)
		defer cancel()
		// Ordered but never short-circuited: a failed release must not
		// keep the mailbox or the socket open.
		if err := w.rc.Release(ctx); err != nil {
			w.log.Debugf("release: %v", err)
		}
		if err := w.rc.CloseMailbox(ctx, mood); err != nil {
			w.log.Debugf("close mailbox: %v", err)
		}
		_ = w.rc.Close()
	})
}

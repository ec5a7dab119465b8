// Package transfer implements the offer/answer protocol for sending a text
// message or a single file through an established wormhole session.
//
// Text rides the mailbox alone. Files negotiate a transit channel: both
// sides exchange transit hints over numbered application phases, the
// receiver acks the offer, the payload streams over the winning candidate,
// and the receiver closes with a digest ack the sender verifies. The
// package never touches the filesystem; callers supply readers and writers.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/portkey-sh/portkey/crypto/wkey"
	"github.com/portkey-sh/portkey/internal/logging"
	"github.com/portkey-sh/portkey/transit"
	"github.com/portkey-sh/portkey/wormhole"
)

var (
	// ErrRejected indicates the receiver declined the offer.
	ErrRejected = errors.New("transfer: offer rejected")
	// ErrPeer carries an error message the peer sent instead of an answer.
	ErrPeer = errors.New("transfer: peer reported error")
	// ErrAck indicates the peer's answer or final ack was missing or negative.
	ErrAck = errors.New("transfer: missing or negative ack")
	// ErrChecksum indicates the received payload digest does not match.
	ErrChecksum = errors.New("transfer: checksum mismatch")
)

// Session is the subset of the wormhole API the transfer protocol needs.
type Session interface {
	SendPhase(ctx context.Context, phase string, body []byte) error
	RecvPhase(ctx context.Context) (wormhole.PhaseMessage, error)
	DeriveTransitKey(ctx context.Context, purpose string) ([wkey.KeySize]byte, error)
	Side() string
	AppID() string
}

// FileOffer describes the file being sent. Filesize is binding: exactly
// that many bytes cross the transit channel.
type FileOffer struct {
	Filename string
	Filesize int64
}

// Config tunes one transfer.
type Config struct {
	Transit transit.Config      // Transit negotiation settings.
	Relays  []transit.RelayHint // Relay endpoints offered to the peer.

	// Progress, if set, is called after every written chunk with the byte
	// counts. It must be fast; it runs on the transfer path.
	Progress func(done, total int64)

	Logging *logging.Backend
}

// sender-side phase numbering: each side numbers its own outbound phases
// independently, starting at zero.
type phaseSeq int

func (p *phaseSeq) next() string {
	s := strconv.Itoa(int(*p))
	*p++
	return s
}

func sendPeerMessage(ctx context.Context, s Session, seq *phaseSeq, pm peerMessage) error {
	body, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	return s.SendPhase(ctx, seq.next(), body)
}

func recvPeerMessage(ctx context.Context, s Session) (peerMessage, error) {
	m, err := s.RecvPhase(ctx)
	if err != nil {
		return peerMessage{}, err
	}
	var pm peerMessage
	if err := json.Unmarshal(m.Body, &pm); err != nil {
		return peerMessage{}, fmt.Errorf("transfer: undecodable peer message in phase %q: %w", m.Phase, err)
	}
	if pm.Error != "" {
		return peerMessage{}, fmt.Errorf("%w: %s", ErrPeer, pm.Error)
	}
	return pm, nil
}

// SendText offers a text message and waits for the receiver's ack.
func SendText(ctx context.Context, s Session, text string) error {
	var seq phaseSeq
	if err := sendPeerMessage(ctx, s, &seq, peerMessage{Offer: &offerMsg{Message: &text}}); err != nil {
		return err
	}
	pm, err := recvPeerMessage(ctx, s)
	if err != nil {
		return err
	}
	if pm.Answer == nil || pm.Answer.MessageAck != ackOK {
		return ErrAck
	}
	return nil
}

// ReceiveText waits for a text offer and acks it.
func ReceiveText(ctx context.Context, s Session) (string, error) {
	pm, err := recvPeerMessage(ctx, s)
	if err != nil {
		return "", err
	}
	if pm.Offer == nil || pm.Offer.Message == nil {
		return "", fmt.Errorf("%w: expected text offer", ErrAck)
	}
	var seq phaseSeq
	if err := sendPeerMessage(ctx, s, &seq, peerMessage{Answer: &answerMsg{MessageAck: ackOK}}); err != nil {
		return "", err
	}
	return *pm.Offer.Message, nil
}

// progressWriter invokes the callback as bytes pass through.
type progressWriter struct {
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.fn != nil {
		p.fn(p.done, p.total)
	}
	return len(b), nil
}

func newTransit(ctx context.Context, cfg *Config, s Session, leader bool) (*transit.Transit, transit.Hints, error) {
	key, err := s.DeriveTransitKey(ctx, s.AppID())
	if err != nil {
		return nil, transit.Hints{}, err
	}
	tr, err := transit.New(cfg.Transit, key, s.Side(), leader)
	if err != nil {
		return nil, transit.Hints{}, err
	}
	for _, r := range cfg.Relays {
		tr.AddRelay(r)
	}
	hints, err := tr.Listen(ctx)
	if err != nil {
		return nil, transit.Hints{}, err
	}
	return tr, hints, nil
}

// SendFile offers the file, exchanges transit hints, streams exactly
// offer.Filesize bytes from r over the winning channel, and verifies the
// receiver's digest ack. The file sender is always the transit leader.
func SendFile(ctx context.Context, cfg Config, s Session, offer FileOffer, r io.Reader) error {
	backend := cfg.Logging
	if backend == nil {
		backend = logging.Discard()
	}
	log := backend.Logger("transfer")

	tr, hints, err := newTransit(ctx, &cfg, s, true)
	if err != nil {
		return err
	}
	defer tr.Close()

	hintsJSON, err := hints.Marshal()
	if err != nil {
		return err
	}
	var seq phaseSeq
	if err := sendPeerMessage(ctx, s, &seq, peerMessage{Transit: hintsJSON}); err != nil {
		return err
	}
	if err := sendPeerMessage(ctx, s, &seq, peerMessage{Offer: &offerMsg{
		File: &fileOffer{Filename: offer.Filename, Filesize: offer.Filesize},
	}}); err != nil {
		return err
	}

	// The receiver's hints and its answer arrive as separate phases in
	// either order.
	var peerHints transit.Hints
	gotHints, gotAnswer := false, false
	for !gotHints || !gotAnswer {
		pm, err := recvPeerMessage(ctx, s)
		if err != nil {
			return err
		}
		switch {
		case pm.Transit != nil:
			peerHints, err = transit.ParseHints(pm.Transit)
			if err != nil {
				return err
			}
			gotHints = true
		case pm.Answer != nil:
			if pm.Answer.FileAck != ackOK {
				return ErrAck
			}
			gotAnswer = true
		}
	}

	conn, err := tr.Connect(ctx, peerHints)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Debugf("sending %q (%d bytes) to %s", offer.Filename, offer.Filesize, conn.RemoteAddr())

	hash := sha256.New()
	pw := &progressWriter{total: offer.Filesize, fn: cfg.Progress}
	if _, err := io.CopyN(io.MultiWriter(conn, hash, pw), r, offer.Filesize); err != nil {
		return fmt.Errorf("transfer: payload stream: %w", err)
	}

	var ack channelAck
	if err := json.NewDecoder(conn).Decode(&ack); err != nil {
		return fmt.Errorf("%w: %v", ErrAck, err)
	}
	if ack.Ack != ackOK {
		return ErrAck
	}
	if ack.SHA256 != hex.EncodeToString(hash.Sum(nil)) {
		return ErrChecksum
	}
	return nil
}

// ReceiveFile waits for a file offer, consults accept, and if accepted
// streams the payload into out, then sends the digest ack. The returned
// offer describes what was received.
func ReceiveFile(ctx context.Context, cfg Config, s Session, accept func(FileOffer) bool, out io.Writer) (FileOffer, error) {
	backend := cfg.Logging
	if backend == nil {
		backend = logging.Discard()
	}
	log := backend.Logger("transfer")

	// The sender's hints and offer arrive as separate phases in either
	// order.
	var peerHints transit.Hints
	var offer FileOffer
	gotHints, gotOffer := false, false
	for !gotHints || !gotOffer {
		pm, err := recvPeerMessage(ctx, s)
		if err != nil {
			return FileOffer{}, err
		}
		switch {
		case pm.Transit != nil:
			peerHints, err = transit.ParseHints(pm.Transit)
			if err != nil {
				return FileOffer{}, err
			}
			gotHints = true
		case pm.Offer != nil && pm.Offer.File != nil:
			offer = FileOffer{Filename: pm.Offer.File.Filename, Filesize: pm.Offer.File.Filesize}
			gotOffer = true
		}
	}

	var seq phaseSeq
	if accept != nil && !accept(offer) {
		_ = sendPeerMessage(ctx, s, &seq, peerMessage{Error: "transfer rejected"})
		return offer, ErrRejected
	}

	tr, hints, err := newTransit(ctx, &cfg, s, false)
	if err != nil {
		return offer, err
	}
	defer tr.Close()
	hintsJSON, err := hints.Marshal()
	if err != nil {
		return offer, err
	}
	if err := sendPeerMessage(ctx, s, &seq, peerMessage{Transit: hintsJSON}); err != nil {
		return offer, err
	}
	if err := sendPeerMessage(ctx, s, &seq, peerMessage{Answer: &answerMsg{FileAck: ackOK}}); err != nil {
		return offer, err
	}

	conn, err := tr.Connect(ctx, peerHints)
	if err != nil {
		return offer, err
	}
	defer conn.Close()
	log.Debugf("receiving %q (%d bytes) from %s", offer.Filename, offer.Filesize, conn.RemoteAddr())

	hash := sha256.New()
	pw := &progressWriter{total: offer.Filesize, fn: cfg.Progress}
	if _, err := io.CopyN(io.MultiWriter(out, hash, pw), conn, offer.Filesize); err != nil {
		return offer, fmt.Errorf("transfer: payload stream: %w", err)
	}

	ack := channelAck{Ack: ackOK, SHA256: hex.EncodeToString(hash.Sum(nil))}
	ackJSON, err := json.Marshal(ack)
	if err != nil {
		return offer, err
	}
	if _, err := conn.Write(ackJSON); err != nil {
		return offer, fmt.Errorf("%w: %v", ErrAck, err)
	}
	return offer, nil
}

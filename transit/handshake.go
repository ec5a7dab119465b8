package transit

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/portkey-sh/portkey/crypto/wkey"
)

// Derivation purposes for the handshake and record keys. Both sides derive
// from the same transit key, so the strings must match exactly.
const (
	purposeSenderHandshake   = "transit_sender"
	purposeReceiverHandshake = "transit_receiver"
	purposeRelayToken        = "transit_relay_token"
	purposeSenderRecordKey   = "transit_record_sender_key"
	purposeReceiverRecordKey = "transit_record_receiver_key"
)

// sessionKeys is everything derived from the 32-byte transit key. The
// handshake tokens prove knowledge of the key before any record flows; the
// record keys encrypt one direction each.
type sessionKeys struct {
	senderHS   []byte
	receiverHS []byte
	relayToken []byte

	senderRecord   [wkey.KeySize]byte
	receiverRecord [wkey.KeySize]byte
}

func deriveSessionKeys(transitKey [wkey.KeySize]byte) (sessionKeys, error) {
	var ks sessionKeys
	var err error
	if ks.senderHS, err = wkey.Derive(transitKey[:], []byte(purposeSenderHandshake), 32); err != nil {
		return ks, err
	}
	if ks.receiverHS, err = wkey.Derive(transitKey[:], []byte(purposeReceiverHandshake), 32); err != nil {
		return ks, err
	}
	if ks.relayToken, err = wkey.Derive(transitKey[:], []byte(purposeRelayToken), 32); err != nil {
		return ks, err
	}
	if ks.senderRecord, err = wkey.DeriveKey(transitKey[:], []byte(purposeSenderRecordKey)); err != nil {
		return ks, err
	}
	if ks.receiverRecord, err = wkey.DeriveKey(transitKey[:], []byte(purposeReceiverRecordKey)); err != nil {
		return ks, err
	}
	return ks, nil
}

func (ks sessionKeys) senderLine() []byte {
	return []byte(fmt.Sprintf("transit sender %s ready\n\n", hex.EncodeToString(ks.senderHS)))
}

func (ks sessionKeys) receiverLine() []byte {
	return []byte(fmt.Sprintf("transit receiver %s ready\n\n", hex.EncodeToString(ks.receiverHS)))
}

// RelayPrologue formats the line a client sends a relay before any
// handshake bytes. The token binds the splice to this session without
// revealing the transit key.
func (ks sessionKeys) relayPrologue(side string) []byte {
	return []byte(fmt.Sprintf("please relay %s for side %s\n", hex.EncodeToString(ks.relayToken), side))
}

var goLine = []byte("go\n")
var relayOK = []byte("ok\n")

// expectExact reads exactly len(want) bytes and compares. A handshake
// mismatch is indistinguishable from a broken pipe on purpose: candidates
// just fail.
func expectExact(r *bufio.Reader, want []byte) error {
	got := make([]byte, len(want))
	if _, err := readFull(r, got); err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("transit: handshake mismatch")
	}
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// relayConnect performs the relay prologue on a fresh connection to a relay
// endpoint. The relay answers ok only once a matching peer has arrived, so
// this blocks until pairing or deadline.
func relayConnect(conn net.Conn, br *bufio.Reader, ks sessionKeys, side string, deadline time.Time) error {
	if !deadline.IsZero() {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(ks.relayPrologue(side)); err != nil {
		return err
	}
	return expectExact(br, relayOK)
}

// leaderHandshake runs the sender half of the handshake up to the point of
// selection: our line out, peer line in. The winner additionally gets the
// go line; see Transit.Connect.
func leaderHandshake(conn net.Conn, br *bufio.Reader, ks sessionKeys, deadline time.Time) error {
	if !deadline.IsZero() {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(ks.senderLine()); err != nil {
		return err
	}
	return expectExact(br, ks.receiverLine())
}

// followerHandshake runs the receiver half including the final go wait. Only
// the candidate the leader selected ever receives go; the rest block here
// until closed.
func followerHandshake(conn net.Conn, br *bufio.Reader, ks sessionKeys, deadline time.Time) error {
	if !deadline.IsZero() {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(ks.receiverLine()); err != nil {
		return err
	}
	if err := expectExact(br, ks.senderLine()); err != nil {
		return err
	}
	return expectExact(br, goLine)
}

package transit

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/portkey-sh/portkey/crypto/wkey"
	"github.com/portkey-sh/portkey/internal/bin"
	"github.com/portkey-sh/portkey/observability"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrRecord indicates an encrypted record failed to authenticate or violated
// framing limits. The connection is unusable afterwards.
var ErrRecord = errors.New("transit: record authentication failed")

const (
	recordNonceSize = 24
	recordOverhead  = secretbox.Overhead
	lenPrefixSize   = 4
)

// Conn is the encrypted record stream over a won transit candidate. It
// implements net.Conn with byte-stream semantics: writes are chunked into
// length-prefixed secretbox records, reads reassemble them.
//
// Each direction has its own key and a strictly increasing record counter
// used as the nonce, so records cannot be reordered, replayed, or reflected.
// Any failed record poisons the connection for all subsequent operations.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader
	obs observability.TransitObserver

	maxRecord int

	writeMu  sync.Mutex
	writeKey [wkey.KeySize]byte
	writeSeq uint64
	writeErr error

	readMu   sync.Mutex
	readKey  [wkey.KeySize]byte
	readSeq  uint64
	readErr  error
	leftover []byte
}

// newConn wraps the winning candidate. br carries any bytes buffered past
// the handshake; sending=true means we are the handshake sender and write
// under the sender record key.
func newConn(raw net.Conn, br *bufio.Reader, ks sessionKeys, sending bool, maxRecord int, obs observability.TransitObserver) *Conn {
	c := &Conn{
		raw:       raw,
		br:        br,
		obs:       obs,
		maxRecord: maxRecord,
	}
	if sending {
		c.writeKey = ks.senderRecord
		c.readKey = ks.receiverRecord
	} else {
		c.writeKey = ks.receiverRecord
		c.readKey = ks.senderRecord
	}
	return c
}

func recordNonce(seq uint64) [recordNonceSize]byte {
	var n [recordNonceSize]byte
	bin.PutU64BE(n[16:24], seq)
	return n
}

// Write chunks p into records and writes them in order. A short write of
// the underlying stream poisons the connection.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > c.maxRecord {
			chunk = chunk[:c.maxRecord]
		}
		nonce := recordNonce(c.writeSeq)
		frame := make([]byte, lenPrefixSize, lenPrefixSize+len(chunk)+recordOverhead)
		frame = secretbox.Seal(frame, chunk, &nonce, &c.writeKey)
		bin.PutU32BE(frame[:lenPrefixSize], uint32(len(frame)-lenPrefixSize))
		if _, err := c.raw.Write(frame); err != nil {
			c.writeErr = err
			return written, err
		}
		c.writeSeq++
		written += len(chunk)
		p = p[len(chunk):]
	}
	c.obs.RecordBytes(written)
	return written, nil
}

// Read returns buffered plaintext first, then decrypts the next record.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	plain, err := c.readRecord()
	if err != nil {
		c.readErr = err
		return 0, err
	}
	n := copy(p, plain)
	c.leftover = plain[n:]
	return n, nil
}

func (c *Conn) readRecord() ([]byte, error) {
	var lenBuf [lenPrefixSize]byte
	if _, err := readFull(c.br, lenBuf[:]); err != nil {
		return nil, err
	}
	size := int(bin.U32BE(lenBuf[:]))
	if size < recordOverhead || size > c.maxRecord+recordOverhead {
		return nil, fmt.Errorf("%w: record length %d out of range", ErrRecord, size)
	}
	sealed := make([]byte, size)
	if _, err := readFull(c.br, sealed); err != nil {
		return nil, err
	}
	nonce := recordNonce(c.readSeq)
	plain, ok := secretbox.Open(nil, sealed, &nonce, &c.readKey)
	if !ok {
		return nil, ErrRecord
	}
	c.readSeq++
	c.obs.RecordBytes(len(plain))
	return plain, nil
}

// Close closes the underlying candidate connection.
func (c *Conn) Close() error { return c.raw.Close() }

func (c *Conn) LocalAddr() net.Addr  { return c.raw.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.raw.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }

package transit

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/portkey-sh/portkey/internal/bin"
)

// Minimal STUN binding request (RFC 5389), used only to learn a public
// address for a direct hint. Everything beyond XOR-MAPPED-ADDRESS parsing
// is out of scope; a failed query just means one fewer hint.

const (
	stunBindingRequest  = 0x0001
	stunBindingResponse = 0x0101
	stunMagicCookie     = 0x2112A442

	attrMappedAddress    = 0x0001
	attrXORMappedAddress = 0x0020

	stunHeaderSize = 20
)

var errSTUNResponse = errors.New("transit: malformed stun response")

// stunHint asks the server for our reflexive address and pairs it with the
// local listener port. The reflexive UDP port is not usable for the TCP
// listener behind most NATs, so only the address matters here.
func stunHint(ctx context.Context, server string, listenPort uint16) (DirectHint, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return DirectHint{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	}

	req := make([]byte, stunHeaderSize)
	bin.PutU16BE(req[0:2], stunBindingRequest)
	bin.PutU32BE(req[4:8], stunMagicCookie)
	if _, err := rand.Read(req[8:20]); err != nil {
		return DirectHint{}, err
	}
	if _, err := conn.Write(req); err != nil {
		return DirectHint{}, err
	}

	resp := make([]byte, 1500)
	n, err := conn.Read(resp)
	if err != nil {
		return DirectHint{}, err
	}
	resp = resp[:n]
	if n < stunHeaderSize || bin.U16BE(resp[0:2]) != stunBindingResponse {
		return DirectHint{}, errSTUNResponse
	}
	if !bytes.Equal(resp[8:20], req[8:20]) {
		return DirectHint{}, fmt.Errorf("%w: transaction id mismatch", errSTUNResponse)
	}

	ip, err := parseMappedAddress(resp[stunHeaderSize:])
	if err != nil {
		return DirectHint{}, err
	}
	return DirectHint{Hostname: ip.String(), Port: listenPort, Priority: 10}, nil
}

func parseMappedAddress(attrs []byte) (net.IP, error) {
	for len(attrs) >= 4 {
		typ := bin.U16BE(attrs[0:2])
		length := int(bin.U16BE(attrs[2:4]))
		attrs = attrs[4:]
		if length > len(attrs) {
			return nil, errSTUNResponse
		}
		value := attrs[:length]
		// Attributes are padded to 4-byte boundaries.
		pad := (4 - length%4) % 4
		if length+pad > len(attrs) {
			attrs = nil
		} else {
			attrs = attrs[length+pad:]
		}

		switch typ {
		case attrXORMappedAddress:
			return decodeXORAddress(value)
		case attrMappedAddress:
			return decodeAddress(value)
		}
	}
	return nil, fmt.Errorf("%w: no mapped address", errSTUNResponse)
}

func decodeAddress(v []byte) (net.IP, error) {
	if len(v) < 8 || v[1] != 0x01 {
		return nil, errSTUNResponse
	}
	return net.IPv4(v[4], v[5], v[6], v[7]), nil
}

func decodeXORAddress(v []byte) (net.IP, error) {
	if len(v) < 8 || v[1] != 0x01 {
		return nil, errSTUNResponse
	}
	var cookie [4]byte
	bin.PutU32BE(cookie[:], stunMagicCookie)
	return net.IPv4(v[4]^cookie[0], v[5]^cookie[1], v[6]^cookie[2], v[7]^cookie[3]), nil
}

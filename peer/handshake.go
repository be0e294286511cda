package peer

import (
	"bytes"
	"fmt"
)

const (
	protocolName = "BitTorrent protocol"
	HandshakeLen = 1 + len(protocolName) + 8 + 20 + 20 // 68 bytes, spec.md §8 scenario 4
)

// Handshake is the first message exchanged on a peer connection, per
// spec.md §4.5. Serialize/Read are kept as separate functions (rather than
// the teacher's single binary.Write of a fixed-size struct) because
// spec.md requires rejecting on protocol-string or info-hash mismatch
// before the peer is ever recorded, which reads more clearly against plain
// byte slices; grounded on
// niyazisuleymanov-alice/alice/handshake.go's serializeHandshake/
// readHandshake split.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Serialize writes the 68-byte wire form: pstrlen, pstr, 8 zero reserved
// bytes, info hash, peer id.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolName))
	n := 1
	n += copy(buf[n:], protocolName)
	n += 8 // reserved, already zero
	n += copy(buf[n:], h.InfoHash[:])
	copy(buf[n:], h.PeerID[:])
	return buf
}

// ParseHandshake validates and decodes a 68-byte handshake read from the
// wire. It does not itself compare against our info hash; callers do that
// so they control whether the failure is "drop silently" or "record as
// protocol violation".
func ParseHandshake(buf []byte) (Handshake, error) {
	if len(buf) != HandshakeLen {
		return Handshake{}, fmt.Errorf("peer: handshake wrong length %d", len(buf))
	}
	pstrLen := int(buf[0])
	if pstrLen != len(protocolName) {
		return Handshake{}, fmt.Errorf("peer: unexpected pstrlen %d", pstrLen)
	}
	if !bytes.Equal(buf[1:1+pstrLen], []byte(protocolName)) {
		return Handshake{}, fmt.Errorf("peer: unexpected protocol string %q", buf[1:1+pstrLen])
	}

	var h Handshake
	off := 1 + pstrLen + 8
	copy(h.InfoHash[:], buf[off:off+20])
	copy(h.PeerID[:], buf[off+20:off+40])
	return h, nil
}

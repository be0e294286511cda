package peer

import (
	"encoding/binary"
	"fmt"
)

// MessageID enumerates the peer-wire message types, per spec.md §4.5.
// Naming carried over from lvbealr-BitTorrent/torrent/p2p.go's MessageID
// block (Choke..Cancel).
type MessageID uint8

const (
	MsgChoke MessageID = iota
	MsgUnchoke
	MsgInterested
	MsgNotInterested
	MsgHave
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgCancel
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a single framed peer-wire message. A nil *Message represents
// the zero-length keep-alive, matching
// niyazisuleymanov-alice/message/message.go's convention.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize encodes msg (or, if msg is nil, a keep-alive) as
// <4-byte length><id><payload>.
func Serialize(msg *Message) []byte {
	if msg == nil {
		return make([]byte, 4)
	}
	length := uint32(len(msg.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(msg.ID)
	copy(buf[5:], msg.Payload)
	return buf
}

// ParseMessage decodes a message body (everything after the 4-byte length
// prefix, which the caller has already stripped and used to size body).
// A zero-length body means keep-alive and ParseMessage is not called for
// it; callers check length == 0 first.
func ParseMessage(body []byte) *Message {
	return &Message{ID: MessageID(body[0]), Payload: body[1:]}
}

func RequestPayload(index, begin, length int) []byte {
	p := make([]byte, 12)
	binary.BigEndian.PutUint32(p[0:4], uint32(index))
	binary.BigEndian.PutUint32(p[4:8], uint32(begin))
	binary.BigEndian.PutUint32(p[8:12], uint32(length))
	return p
}

func HavePayload(index int) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, uint32(index))
	return p
}

// ReadHave extracts the piece index from a HAVE message.
func ReadHave(msg *Message) (int, error) {
	if msg.ID != MsgHave {
		return 0, fmt.Errorf("peer: expected have, got %v", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("peer: have payload length %d, want 4", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// ParsedRequest is a decoded request/cancel payload.
type ParsedRequest struct {
	Index, Begin, Length int
}

func ReadRequest(msg *Message) (ParsedRequest, error) {
	if len(msg.Payload) != 12 {
		return ParsedRequest{}, fmt.Errorf("peer: request payload length %d, want 12", len(msg.Payload))
	}
	return ParsedRequest{
		Index:  int(binary.BigEndian.Uint32(msg.Payload[0:4])),
		Begin:  int(binary.BigEndian.Uint32(msg.Payload[4:8])),
		Length: int(binary.BigEndian.Uint32(msg.Payload[8:12])),
	}, nil
}

// ReadPiece extracts the index, begin offset, and block bytes from a PIECE
// message.
func ReadPiece(msg *Message) (index, begin int, block []byte, err error) {
	if msg.ID != MsgPiece {
		return 0, 0, nil, fmt.Errorf("peer: expected piece, got %v", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peer: piece payload too short: %d", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	block = msg.Payload[8:]
	return index, begin, block, nil
}

package peer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"gotorrent/internal/netpoll"
)

// State is a peer connection's position in the state machine from
// spec.md §4.5: Dialing -> Handshaking -> BitfieldExchange -> Ready ->
// Closed.
type State int

const (
	Dialing State = iota
	Handshaking
	BitfieldExchange
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Dialing:
		return "dialing"
	case Handshaking:
		return "handshaking"
	case BitfieldExchange:
		return "bitfield_exchange"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Key identifies a peer by its dial address, matching store.PeerKey so
// hash-mismatch blacklisting and reservation bookkeeping can key off the
// same value.
type Key string

func AddrKey(ip net.IP, port uint16) Key {
	return Key(fmt.Sprintf("%s:%d", ip.String(), port))
}

// Reservation is an outstanding (piece, block offset) request, tracked so
// it can be released on choke or peer loss per spec.md §4.6.
type Reservation struct {
	Piece  int
	Offset int
	Length int
}

// Conn drives one peer connection through the state machine above without
// blocking: the session calls OnReadable/OnWritable when internal/netpoll
// reports the fd ready, and Idle periodically for idle-timeout detection.
// Restructured from lvbealr-BitTorrent/torrent/p2p.go's DownloadFromPeer
// (a blocking per-goroutine loop) into explicit entry points so one
// goroutine can drive the whole peer fleet, per spec.md §5.
type Conn struct {
	Key    Key
	fd     int
	IP     net.IP
	Port   uint16
	poller *netpoll.Poller

	state State

	ourInfoHash [20]byte
	ourPeerID   [20]byte
	remotePeer  [20]byte

	readBuf  []byte
	writeBuf []byte

	peerChoking    bool // they are choking us
	amChoking      bool // we are choking them
	peerInterested bool
	amInterested   bool

	numPieces int
	bitfield  Bitfield

	reservations map[string]Reservation // key "piece:offset" -> reservation

	lastActivity time.Time

	closeErr error
}

// NewConn begins dialing ip:port. The caller registers the returned fd with
// a netpoll.Poller for Writable interest; once writable, call
// CompleteDial.
func NewConn(ip net.IP, port uint16, infoHash, peerID [20]byte, poller *netpoll.Poller, now time.Time) (*Conn, error) {
	fd, err := netpoll.DialNonblock(ip, port)
	if err != nil && err != netpoll.ErrConnectInProgress {
		return nil, err
	}
	c := &Conn{
		Key:          AddrKey(ip, port),
		fd:           fd,
		IP:           ip,
		Port:         port,
		poller:       poller,
		state:        Dialing,
		ourInfoHash:  infoHash,
		ourPeerID:    peerID,
		amChoking:    true,
		peerChoking:  true,
		reservations: make(map[string]Reservation),
		lastActivity: now,
	}
	poller.Add(fd, netpoll.Writable)
	return c, nil
}

func (c *Conn) Fd() int               { return c.fd }
func (c *Conn) State() State          { return c.state }
func (c *Conn) PeerChoking() bool     { return c.peerChoking }
func (c *Conn) AmInterested() bool    { return c.amInterested }
func (c *Conn) Bitfield() Bitfield    { return c.bitfield }
func (c *Conn) ReservationCount() int { return len(c.reservations) }

// CompleteDial is called once the poller reports the dialing fd writable,
// confirming (or failing) the non-blocking connect.
func (c *Conn) CompleteDial(numPieces int, now time.Time) error {
	if err := netpoll.ConnectError(c.fd); err != nil {
		c.fail(err)
		return err
	}
	c.numPieces = numPieces
	c.state = Handshaking
	hs := Handshake{InfoHash: c.ourInfoHash, PeerID: c.ourPeerID}
	c.writeBuf = append(c.writeBuf, hs.Serialize()...)
	c.poller.Modify(c.fd, netpoll.Readable|netpoll.Writable)
	c.lastActivity = now
	return nil
}

// Event describes something the session must act on after a read.
type Event struct {
	Kind        EventKind
	PieceIndex  int
	Begin       int
	Block       []byte
	Req         ParsedRequest
}

type EventKind int

const (
	EventNone EventKind = iota
	EventBecameReady
	EventBitfieldChanged
	EventChokedByPeer  // release our reservations
	EventPieceData     // a block arrived
	EventPeerRequest   // peer wants a block from us
	EventClosed
)

// OnReadable drains available bytes from the socket and returns any events
// the session should act on. It never blocks.
func (c *Conn) OnReadable(now time.Time) ([]Event, error) {
	var events []Event
	buf := make([]byte, 64*1024)
	for {
		n, err := netpoll.Read(c.fd, buf)
		if err == netpoll.ErrWouldBlock {
			break
		}
		if err != nil {
			c.fail(err)
			return events, err
		}
		if n == 0 {
			c.fail(fmt.Errorf("peer: connection closed by remote"))
			return append(events, Event{Kind: EventClosed}), c.closeErr
		}
		c.lastActivity = now
		c.readBuf = append(c.readBuf, buf[:n]...)

		for {
			ev, consumed, ok, err := c.consumeOne()
			if err != nil {
				c.fail(err)
				return events, err
			}
			if !ok {
				break
			}
			c.readBuf = c.readBuf[consumed:]
			if ev.Kind != EventNone {
				events = append(events, ev)
			}
		}

		if n < len(buf) {
			break
		}
	}
	return events, nil
}

// consumeOne attempts to parse a single unit (handshake or length-prefixed
// message) from the front of c.readBuf.
func (c *Conn) consumeOne() (Event, int, bool, error) {
	switch c.state {
	case Handshaking:
		if len(c.readBuf) < HandshakeLen {
			return Event{}, 0, false, nil
		}
		hs, err := ParseHandshake(c.readBuf[:HandshakeLen])
		if err != nil {
			return Event{}, 0, false, fmt.Errorf("peer: handshake: %w", err)
		}
		if !bytes.Equal(hs.InfoHash[:], c.ourInfoHash[:]) {
			return Event{}, 0, false, fmt.Errorf("peer: info hash mismatch")
		}
		c.remotePeer = hs.PeerID
		c.state = BitfieldExchange
		c.bitfield = NewBitfield(c.numPieces)
		return Event{}, HandshakeLen, true, nil

	default:
		if len(c.readBuf) < 4 {
			return Event{}, 0, false, nil
		}
		length := binary.BigEndian.Uint32(c.readBuf[0:4])
		if length == 0 {
			return Event{}, 4, true, nil // keep-alive
		}
		total := 4 + int(length)
		if len(c.readBuf) < total {
			return Event{}, 0, false, nil
		}
		msg := ParseMessage(c.readBuf[4:total])
		ev, err := c.handleMessage(msg)
		return ev, total, true, err
	}
}

func (c *Conn) handleMessage(msg *Message) (Event, error) {
	switch msg.ID {
	case MsgBitfield:
		if c.state != BitfieldExchange {
			// A bitfield arriving once haves have already been processed is
			// ignored, per spec.md §4.5.
			return Event{}, nil
		}
		c.bitfield = Bitfield(append([]byte(nil), msg.Payload...))
		return c.maybeEnterReady()

	case MsgHave:
		index, err := ReadHave(msg)
		if err != nil {
			return Event{}, err
		}
		if index < 0 || index >= c.numPieces {
			return Event{}, fmt.Errorf("peer: have(%d) out of range [0,%d)", index, c.numPieces)
		}
		if c.state == BitfieldExchange {
			// No MsgBitfield has arrived yet; spec.md §4.5 requires bitfield
			// before any have, so a premature have is ignored outright.
			return Event{}, nil
		}
		alreadyHad := c.bitfield.Has(index)
		c.bitfield.Set(index)
		if !alreadyHad {
			return Event{Kind: EventBitfieldChanged}, nil
		}
		return Event{}, nil

	case MsgChoke:
		// Reservations are left in place here; the session releases them via
		// ReleaseReservations() when it handles EventChokedByPeer, so the
		// scheduler's reservedBy bookkeeping and this map clear together.
		c.peerChoking = true
		return Event{Kind: EventChokedByPeer}, nil

	case MsgUnchoke:
		c.peerChoking = false
		return Event{}, nil

	case MsgInterested:
		c.peerInterested = true
		return Event{}, nil

	case MsgNotInterested:
		c.peerInterested = false
		return Event{}, nil

	case MsgRequest:
		req, err := ReadRequest(msg)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventPeerRequest, Req: req}, nil

	case MsgPiece:
		index, begin, block, err := ReadPiece(msg)
		if err != nil {
			return Event{}, err
		}
		delete(c.reservations, reservationKey(index, begin))
		return Event{Kind: EventPieceData, PieceIndex: index, Begin: begin, Block: block}, nil

	case MsgCancel:
		return Event{}, nil

	default:
		return Event{}, nil // unknown ids silently dropped, spec.md §4.5
	}
}

func (c *Conn) maybeEnterReady() (Event, error) {
	if c.state != BitfieldExchange {
		return Event{}, nil
	}
	c.state = Ready
	return Event{Kind: EventBecameReady}, nil
}

// SetInterested marks us as interested and queues the message.
func (c *Conn) SetInterested(interested bool) {
	if interested == c.amInterested {
		return
	}
	c.amInterested = interested
	id := MsgNotInterested
	if interested {
		id = MsgInterested
	}
	c.enqueue(&Message{ID: id})
}

// Reserve records a new outstanding request and queues the wire message.
func (c *Conn) Reserve(piece, offset, length int) {
	c.reservations[reservationKey(piece, offset)] = Reservation{Piece: piece, Offset: offset, Length: length}
	c.enqueue(&Message{ID: MsgRequest, Payload: RequestPayload(piece, offset, length)})
}

// SendHave announces piece to this peer.
func (c *Conn) SendHave(piece int) {
	c.enqueue(&Message{ID: MsgHave, Payload: HavePayload(piece)})
}

// SendPiece serves a requested block.
func (c *Conn) SendPiece(index, begin int, block []byte) {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	c.enqueue(&Message{ID: MsgPiece, Payload: payload})
}

func (c *Conn) enqueue(msg *Message) {
	c.writeBuf = append(c.writeBuf, Serialize(msg)...)
	c.poller.Modify(c.fd, netpoll.Readable|netpoll.Writable)
}

// OnWritable flushes as much of the pending write buffer as the socket will
// accept.
func (c *Conn) OnWritable(now time.Time) error {
	if c.state == Dialing {
		c.closeErr = fmt.Errorf("peer: unreachable: CompleteDial not yet called")
		return nil
	}
	for len(c.writeBuf) > 0 {
		n, err := netpoll.Write(c.fd, c.writeBuf)
		if err == netpoll.ErrWouldBlock {
			return nil
		}
		if err != nil {
			c.fail(err)
			return err
		}
		c.writeBuf = c.writeBuf[n:]
		c.lastActivity = now
	}
	if len(c.writeBuf) == 0 {
		c.poller.Modify(c.fd, netpoll.Readable)
	}
	return nil
}

// Idle reports whether this connection has exceeded the T_idle timeout.
func (c *Conn) Idle(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(c.lastActivity) > idleTimeout
}

// ReleaseReservations returns and clears this peer's in-flight reservations,
// e.g. when the connection is being torn down.
func (c *Conn) ReleaseReservations() []Reservation {
	out := make([]Reservation, 0, len(c.reservations))
	for _, r := range c.reservations {
		out = append(out, r)
	}
	c.reservations = make(map[string]Reservation)
	return out
}

// ExpireReservation drops a single stale reservation once the scheduler has
// decided it exceeded T_block, freeing a pipeline slot for a fresh request.
// No Cancel message is sent; the original request may still be answered
// late, and MsgPiece's delete(c.reservations, ...) is a no-op in that case.
func (c *Conn) ExpireReservation(piece, offset int) {
	delete(c.reservations, reservationKey(piece, offset))
}

func (c *Conn) fail(err error) {
	if c.state == Closed {
		return
	}
	c.closeErr = err
	c.state = Closed
}

// Close tears down the socket and unregisters it from the poller.
func (c *Conn) Close() error {
	if c.state == Closed && c.closeErr == nil {
		c.closeErr = fmt.Errorf("peer: closed")
	}
	c.state = Closed
	c.poller.Remove(c.fd)
	return netpoll.Close(c.fd)
}

// Err returns the reason this connection closed, if any.
func (c *Conn) Err() error { return c.closeErr }

func reservationKey(piece, offset int) string {
	return fmt.Sprintf("%d:%d", piece, offset)
}

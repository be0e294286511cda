// Package scheduler implements the piece/block selection policy from
// spec.md §4.6: maintain the Needed set, track per-piece peer availability,
// and cap outstanding requests per peer at the configured pipeline depth.
// Grounded on lvbealr-BitTorrent/torrent/p2p.go's DownloadFromPeer
// piece-picking loop ("for i, downloaded := range Torrent.Downloaded ...
// HasPiece"), generalized from "first needed piece this peer has" to
// "random needed piece this peer has" (spec.md explicitly rejects
// rarest-first) and lifted out of per-peer private state into a
// session-shared scheduler so reservations survive peer loss.
package scheduler

import (
	"math/rand"
	"time"

	"gotorrent/metainfo"
	"gotorrent/peer"
)

// Request is a single block to fetch, ready to hand to peer.Conn.Reserve.
type Request struct {
	Piece  int
	Offset int
	Length int
}

type pieceProgress struct {
	numBlocks  int
	pieceLen   int64
	received   []bool
	reservedBy []peer.Key  // "" means unreserved
	reservedAt []time.Time // valid only where reservedBy[i] != ""
}

// Scheduler owns the Needed set and per-piece block bookkeeping. It is not
// safe for concurrent use: spec.md §5 intends one goroutine to drive it.
type Scheduler struct {
	torrent   *metainfo.Torrent
	blockSize int

	needed    map[int]*pieceProgress
	blacklist map[int]map[peer.Key]bool // piece -> peer -> blacklisted
}

// New builds a scheduler with every piece index in alreadyVerified excluded
// from Needed (e.g. on resume).
func New(t *metainfo.Torrent, blockSize int, alreadyVerified map[int]bool) *Scheduler {
	s := &Scheduler{
		torrent:   t,
		blockSize: blockSize,
		needed:    make(map[int]*pieceProgress),
		blacklist: make(map[int]map[peer.Key]bool),
	}
	for i := 0; i < t.NumPieces(); i++ {
		if alreadyVerified[i] {
			continue
		}
		s.needed[i] = newPieceProgress(t.PieceLen(i), blockSize)
	}
	return s
}

func newPieceProgress(pieceLen int64, blockSize int) *pieceProgress {
	n := int((pieceLen + int64(blockSize) - 1) / int64(blockSize))
	return &pieceProgress{
		numBlocks:  n,
		pieceLen:   pieceLen,
		received:   make([]bool, n),
		reservedBy: make([]peer.Key, n),
		reservedAt: make([]time.Time, n),
	}
}

// NeededCount reports |Needed|.
func (s *Scheduler) NeededCount() int { return len(s.needed) }

// HasNeeded reports whether bf has any piece still in Needed, per spec.md
// §4.5's "if the remote bitfield contains any piece we still need, send
// interested".
func (s *Scheduler) HasNeeded(bf peer.Bitfield) bool {
	for piece := range s.needed {
		if bf.Has(piece) {
			return true
		}
	}
	return false
}

// Done reports whether every piece has verified.
func (s *Scheduler) Done() bool { return len(s.needed) == 0 }

// MarkVerified removes piece from Needed, e.g. after store.AcceptBlock
// returns PieceCompleteOK.
func (s *Scheduler) MarkVerified(piece int) {
	delete(s.needed, piece)
	delete(s.blacklist, piece)
}

// ResetPiece re-arms piece for re-download, e.g. after a HashMismatch, and
// blacklists the contributing peers for it per spec.md §7.
func (s *Scheduler) ResetPiece(piece int, blacklisted []peer.Key) {
	s.needed[piece] = newPieceProgress(s.torrent.PieceLen(piece), s.blockSize)
	bl := s.blacklist[piece]
	if bl == nil {
		bl = make(map[peer.Key]bool)
		s.blacklist[piece] = bl
	}
	for _, k := range blacklisted {
		bl[k] = true
	}
}

// OnBlockReceived marks the block at (piece, offset) as received so it is
// not re-requested while the piece is in progress. If the piece later fails
// verification, ResetPiece re-arms every block of it, this one included.
func (s *Scheduler) OnBlockReceived(piece, offset int) {
	pp, ok := s.needed[piece]
	if !ok {
		return
	}
	idx := offset / s.blockSize
	if idx < 0 || idx >= pp.numBlocks {
		return
	}
	pp.received[idx] = true
	pp.reservedBy[idx] = ""
}

// ReleaseReservations clears reservations held by key, e.g. on choke or
// peer loss, so other peers can claim those blocks.
func (s *Scheduler) ReleaseReservations(key peer.Key, reservations []peer.Reservation) {
	for _, r := range reservations {
		pp, ok := s.needed[r.Piece]
		if !ok {
			continue
		}
		idx := r.Offset / s.blockSize
		if idx < 0 || idx >= pp.numBlocks {
			continue
		}
		if pp.reservedBy[idx] == key {
			pp.reservedBy[idx] = ""
		}
	}
}

// StaleReservation identifies a block that was reserved by Key but has sat
// unreceived past T_block, per spec.md §5 "Cancellation and timeouts".
type StaleReservation struct {
	Key    peer.Key
	Piece  int
	Offset int
}

// ReapStaleReservations frees every reservation older than timeout so
// NextRequests can re-offer those blocks to a different peer, and reports
// which (peer, piece, offset) triples were freed so the caller can also drop
// the matching reservation on that peer.Conn.
func (s *Scheduler) ReapStaleReservations(now time.Time, timeout time.Duration) []StaleReservation {
	var out []StaleReservation
	for piece, pp := range s.needed {
		for idx, key := range pp.reservedBy {
			if key == "" || pp.received[idx] {
				continue
			}
			if now.Sub(pp.reservedAt[idx]) <= timeout {
				continue
			}
			out = append(out, StaleReservation{Key: key, Piece: piece, Offset: idx * s.blockSize})
			pp.reservedBy[idx] = ""
		}
	}
	return out
}

// NextRequests picks up to capacity blocks for conn to request next: a
// random needed piece that conn's bitfield has and conn is not blacklisted
// for, then the lowest-offset unreserved, unreceived block(s) within it.
// Ties are broken randomly per spec.md §4.6. now is stamped onto each new
// reservation so ReapStaleReservations can later detect a stalled T_block.
func (s *Scheduler) NextRequests(key peer.Key, bitfield peer.Bitfield, capacity int, now time.Time) []Request {
	if capacity <= 0 || len(s.needed) == 0 {
		return nil
	}

	candidates := make([]int, 0, len(s.needed))
	for piece := range s.needed {
		if !bitfield.Has(piece) {
			continue
		}
		if s.blacklist[piece][key] {
			continue
		}
		candidates = append(candidates, piece)
	}
	if len(candidates) == 0 {
		return nil
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	var out []Request
	for _, piece := range candidates {
		if len(out) >= capacity {
			break
		}
		pp := s.needed[piece]
		for idx := 0; idx < pp.numBlocks && len(out) < capacity; idx++ {
			if pp.received[idx] || pp.reservedBy[idx] != "" {
				continue
			}
			offset := idx * s.blockSize
			length := s.blockSize
			if remaining := pp.pieceLen - int64(offset); int64(length) > remaining {
				length = int(remaining)
			}
			pp.reservedBy[idx] = key
			pp.reservedAt[idx] = now
			out = append(out, Request{Piece: piece, Offset: offset, Length: length})
		}
	}
	return out
}

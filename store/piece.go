package store

// PieceState mirrors spec.md §3's per-piece state machine. The names are
// spec.md §3's; the states correspond to original_source/pythorrent/pieces.py's
// PieceState-like states (see SPEC_FULL.md "Supplemented features").
type PieceState int

const (
	Missing PieceState = iota
	InFlight
	Complete
	Verified
)

func (s PieceState) String() string {
	switch s {
	case Missing:
		return "Missing"
	case InFlight:
		return "InFlight"
	case Complete:
		return "Complete"
	case Verified:
		return "Verified"
	default:
		return "Unknown"
	}
}

// Result is the outcome of PieceStore.AcceptBlock, per spec.md §4.3.
type Result int

const (
	Accepted Result = iota
	PieceCompleteOK
	PieceCompleteBad
	Duplicate
	OutOfRange
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case PieceCompleteOK:
		return "PieceCompleteOK"
	case PieceCompleteBad:
		return "PieceCompleteBad"
	case Duplicate:
		return "Duplicate"
	case OutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

// PeerKey identifies the peer connection that contributed a block, so that
// on a hash mismatch the store can report which peers to blacklist for that
// piece (spec.md §7).
type PeerKey string

// pendingPiece is the in-memory buffer for a piece under construction. Only
// one buffer per piece exists at a time, per spec.md §4.3's buffering
// policy; it is allocated lazily on first block receipt.
type pendingPiece struct {
	data        []byte
	numBlocks   int
	received    []bool
	receivedCnt int
	contributor []PeerKey // per-block contributor, parallel to received
}

func newPendingPiece(pieceLen int64, blockSize int) *pendingPiece {
	numBlocks := int((pieceLen + int64(blockSize) - 1) / int64(blockSize))
	return &pendingPiece{
		data:        make([]byte, pieceLen),
		numBlocks:   numBlocks,
		received:    make([]bool, numBlocks),
		contributor: make([]PeerKey, numBlocks),
	}
}

func (p *pendingPiece) reset() {
	for i := range p.received {
		p.received[i] = false
	}
	p.receivedCnt = 0
}

// Package store maps torrent pieces to file byte-ranges, buffers pieces
// under construction in memory, verifies them against their expected SHA-1
// digest, and persists only verified bytes to disk (spec.md §4.3).
package store

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gotorrent/metainfo"
)

// PieceStore is the single shared mutable state of a session (spec.md §5):
// because the session drives a single-threaded loop, access does not need
// to be synchronized against peer handling, but AcceptBlock/ReadBlock/
// Progress are still safe to call from more than one goroutine (e.g. the
// driver's progress reporter) thanks to the mutex.
type PieceStore struct {
	torrent *metainfo.Torrent

	mu       sync.Mutex
	files    []fileEntry
	handles  []*os.File
	spans    [][]span
	states   []PieceState
	pending  map[int]*pendingPiece
	verified int
}

// Open prepares a piece store for t, writing into destDir. File handles are
// not opened until the first write touches them (spec.md §4.3 "Layout").
func Open(t *metainfo.Torrent, destDir string) (*PieceStore, error) {
	files := buildFileLayout(t, destDir)
	spans := buildPieceSpans(t, files)

	return &PieceStore{
		torrent: t,
		files:   files,
		handles: make([]*os.File, len(files)),
		spans:   spans,
		states:  make([]PieceState, t.NumPieces()),
		pending: make(map[int]*pendingPiece),
	}, nil
}

// Close releases every open file handle.
func (s *PieceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, h := range s.handles {
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// State returns the current PieceState of piece i.
func (s *PieceStore) State(i int) PieceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[i]
}

// HasPiece reports whether piece i has been Verified, satisfying spec.md
// §3 invariant I4: only Verified pieces are ever reported as owned.
func (s *PieceStore) HasPiece(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[i] == Verified
}

// Progress returns the count of verified pieces, total pieces, verified
// bytes, and total bytes, per spec.md §4.3.
func (s *PieceStore) Progress() (verifiedPieces, totalPieces int, verifiedBytes, totalBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, st := range s.states {
		if st == Verified {
			verifiedBytes += s.torrent.PieceLen(i)
		}
	}
	return s.verified, len(s.states), verifiedBytes, s.torrent.TotalLength
}

// Done reports whether every piece has verified (spec.md §4.6 "Completion").
func (s *PieceStore) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified == len(s.states)
}

// AcceptBlock buffers a received block until its piece is complete, then
// hashes and either commits it to disk (Verified) or discards the buffer
// and re-marks the piece Missing, per spec.md §4.3. from identifies the
// contributing peer; on PieceCompleteBad the full set of peers who
// contributed a block to this piece is returned so the caller can
// blacklist them for this piece (spec.md §7).
func (s *PieceStore) AcceptBlock(piece int, offset int64, data []byte, from PeerKey) (Result, []PeerKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if piece < 0 || piece >= len(s.states) {
		return OutOfRange, nil, nil
	}
	if s.states[piece] == Verified {
		return Duplicate, nil, nil
	}

	pieceLen := s.torrent.PieceLen(piece)
	if offset < 0 || offset+int64(len(data)) > pieceLen {
		return OutOfRange, nil, nil
	}

	pp, ok := s.pending[piece]
	if !ok {
		pp = newPendingPiece(pieceLen, metainfo.BlockSize)
		s.pending[piece] = pp
		s.states[piece] = InFlight
	}

	blockIndex := int(offset / metainfo.BlockSize)
	if blockIndex >= pp.numBlocks {
		return OutOfRange, nil, nil
	}
	if pp.received[blockIndex] {
		return Duplicate, nil, nil
	}

	copy(pp.data[offset:], data)
	pp.received[blockIndex] = true
	pp.contributor[blockIndex] = from
	pp.receivedCnt++

	if pp.receivedCnt < pp.numBlocks {
		return Accepted, nil, nil
	}

	// Piece is complete; hash it inline (spec.md §5: acceptable up to ~4MiB
	// pieces; larger pieces are a non-goal here).
	s.states[piece] = Complete
	hash := sha1.Sum(pp.data)

	if !bytes.Equal(hash[:], s.torrent.Pieces[piece][:]) {
		contributors := uniqueContributors(pp)
		pp.reset()
		s.states[piece] = Missing
		return PieceCompleteBad, contributors, nil
	}

	if err := s.commit(piece, pp.data); err != nil {
		// The buffer is kept and the piece stays Complete; nothing here
		// retries the write, and later blocks for this piece are reported
		// as Duplicate. The error goes to the caller, which treats it as
		// a fatal StorageIO error (spec.md §7).
		s.states[piece] = Complete
		return Accepted, nil, fmt.Errorf("store: writing piece %d: %w", piece, err)
	}

	delete(s.pending, piece)
	s.states[piece] = Verified
	s.verified++
	return PieceCompleteOK, nil, nil
}

func uniqueContributors(pp *pendingPiece) []PeerKey {
	seen := make(map[PeerKey]bool)
	var out []PeerKey
	for _, c := range pp.contributor {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// commit writes a fully-assembled, hash-verified piece to every file span
// it touches.
func (s *PieceStore) commit(piece int, data []byte) error {
	pieceStart := int64(piece) * s.torrent.PieceLength

	for _, sp := range s.spans[piece] {
		f, err := s.fileHandle(sp.fileIndex)
		if err != nil {
			return err
		}

		fileEntry := s.files[sp.fileIndex]
		pieceRelStart := (fileEntry.offset + sp.fileOff) - pieceStart

		if _, err := f.WriteAt(data[pieceRelStart:pieceRelStart+sp.length], sp.fileOff); err != nil {
			return err
		}
	}
	return nil
}

// ReadBlock reads length bytes at offset from piece, which must already be
// Verified (spec.md §4.3 "only valid on Verified pieces").
func (s *PieceStore) ReadBlock(piece int, offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if piece < 0 || piece >= len(s.states) {
		return nil, fmt.Errorf("store: piece %d out of range", piece)
	}
	if s.states[piece] != Verified {
		return nil, fmt.Errorf("store: piece %d is not verified", piece)
	}

	out := make([]byte, length)
	pieceStart := int64(piece) * s.torrent.PieceLength
	remaining := out

	for _, sp := range s.spans[piece] {
		spanStartInPiece := sp.fileOff + s.files[sp.fileIndex].offset - pieceStart
		spanEndInPiece := spanStartInPiece + sp.length

		readStart := maxInt64(offset, spanStartInPiece)
		readEnd := minInt64(offset+int64(length), spanEndInPiece)
		if readStart >= readEnd {
			continue
		}

		f, err := s.fileHandle(sp.fileIndex)
		if err != nil {
			return nil, err
		}
		fileOff := sp.fileOff + (readStart - spanStartInPiece)
		n := readEnd - readStart
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, fileOff); err != nil {
			return nil, fmt.Errorf("store: reading piece %d: %w", piece, err)
		}
		copy(remaining[readStart-offset:], buf)
	}

	return out, nil
}

// fileHandle returns the open handle for files[i], creating the file
// (truncated to its declared length, sparse where the platform supports
// it) on first use.
func (s *PieceStore) fileHandle(i int) (*os.File, error) {
	if s.handles[i] != nil {
		return s.handles[i], nil
	}

	entry := s.files[i]
	if err := os.MkdirAll(filepath.Dir(entry.path), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", entry.path, err)
	}

	f, err := os.OpenFile(entry.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", entry.path, err)
	}
	if err := f.Truncate(entry.length); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: truncating %s: %w", entry.path, err)
	}

	s.handles[i] = f
	return f, nil
}

package store_test

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"gotorrent/metainfo"
	"gotorrent/store"
)

func buildTorrent(t *testing.T, pieceLen int64, data []byte, name string) *metainfo.Torrent {
	t.Helper()
	numPieces := (int64(len(data)) + pieceLen - 1) / pieceLen
	pieces := make([][20]byte, numPieces)
	for i := int64(0); i < numPieces; i++ {
		start := i * pieceLen
		end := start + pieceLen
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		pieces[i] = sha1.Sum(data[start:end])
	}
	return &metainfo.Torrent{
		Name:        name,
		PieceLength: pieceLen,
		Pieces:      pieces,
		Files:       []metainfo.FileEntry{{Path: []string{name}, Length: int64(len(data))}},
		TotalLength: int64(len(data)),
	}
}

func TestAcceptBlockSinglePieceVerifies(t *testing.T) {
	dir := t.TempDir()
	data := []byte("hello world!!!!") // 15 bytes, 1 piece
	tor := buildTorrent(t, 16384, data, "out.bin")

	s, err := store.Open(tor, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	res, bad, err := s.AcceptBlock(0, 0, data, "peerA")
	if err != nil {
		t.Fatalf("AcceptBlock: %v", err)
	}
	if res != store.PieceCompleteOK {
		t.Fatalf("expected PieceCompleteOK, got %v (bad=%v)", res, bad)
	}
	if !s.HasPiece(0) {
		t.Fatal("expected piece 0 verified")
	}

	got, err := s.ReadBlock(0, 0, len(data))
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read mismatch: got %q want %q", got, data)
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Fatalf("on-disk mismatch: got %q want %q", onDisk, data)
	}
}

func TestAcceptBlockMultiBlockPiece(t *testing.T) {
	dir := t.TempDir()
	blockSize := metainfo.BlockSize
	data := bytes.Repeat([]byte{0xAB}, blockSize*2+100)
	tor := buildTorrent(t, int64(len(data)), data, "out.bin")

	s, err := store.Open(tor, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	res, _, err := s.AcceptBlock(0, 0, data[0:blockSize], "peerA")
	if err != nil || res != store.Accepted {
		t.Fatalf("block 0: res=%v err=%v", res, err)
	}
	res, _, err = s.AcceptBlock(0, int64(blockSize), data[blockSize:2*blockSize], "peerA")
	if err != nil || res != store.Accepted {
		t.Fatalf("block 1: res=%v err=%v", res, err)
	}
	res, _, err = s.AcceptBlock(0, int64(2*blockSize), data[2*blockSize:], "peerA")
	if err != nil || res != store.PieceCompleteOK {
		t.Fatalf("block 2: res=%v err=%v", res, err)
	}
	if !s.HasPiece(0) {
		t.Fatal("expected piece verified")
	}
}

func TestHashMismatchResetsAndBlacklists(t *testing.T) {
	dir := t.TempDir()
	data := []byte("correct bytes!!!")
	tor := buildTorrent(t, int64(len(data)), data, "out.bin")

	s, err := store.Open(tor, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	tampered := []byte("WRONG bytes!!!!!")
	res, bad, err := s.AcceptBlock(0, 0, tampered, "peerBad")
	if err != nil {
		t.Fatalf("AcceptBlock: %v", err)
	}
	if res != store.PieceCompleteBad {
		t.Fatalf("expected PieceCompleteBad, got %v", res)
	}
	if len(bad) != 1 || bad[0] != "peerBad" {
		t.Fatalf("expected [peerBad] blacklisted, got %v", bad)
	}
	if s.State(0) != store.Missing {
		t.Fatalf("expected piece reset to Missing, got %v", s.State(0))
	}

	// No bytes should have been written to disk for a failed piece.
	path := filepath.Join(dir, "out.bin")
	if _, err := os.Stat(path); err == nil {
		onDisk, _ := os.ReadFile(path)
		if bytes.Equal(onDisk, tampered) {
			t.Fatal("tampered bytes were written to disk")
		}
	}

	// A correct retry should still succeed.
	res, _, err = s.AcceptBlock(0, 0, data, "peerGood")
	if err != nil || res != store.PieceCompleteOK {
		t.Fatalf("retry: res=%v err=%v", res, err)
	}
}

func TestOutOfRangeAndDuplicate(t *testing.T) {
	dir := t.TempDir()
	data := []byte("0123456789")
	tor := buildTorrent(t, int64(len(data)), data, "out.bin")

	s, err := store.Open(tor, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if res, _, _ := s.AcceptBlock(5, 0, data, "p"); res != store.OutOfRange {
		t.Fatalf("expected OutOfRange for bad piece index, got %v", res)
	}
	if res, _, _ := s.AcceptBlock(0, 0, make([]byte, 1000), "p"); res != store.OutOfRange {
		t.Fatalf("expected OutOfRange for oversized block, got %v", res)
	}

	if res, _, _ := s.AcceptBlock(0, 0, data, "p"); res != store.PieceCompleteOK {
		t.Fatalf("expected completion, got %v", res)
	}
	if res, _, _ := s.AcceptBlock(0, 0, data, "p"); res != store.Duplicate {
		t.Fatalf("expected Duplicate after verified, got %v", res)
	}
}

func TestMultiFileLayout(t *testing.T) {
	dir := t.TempDir()
	dataA := []byte("AAAA")
	dataB := []byte("BBBBBBBB")
	full := append(append([]byte{}, dataA...), dataB...)

	pieceLen := int64(6)
	tor := buildTorrent(t, pieceLen, full, "multi")
	tor.Files = []metainfo.FileEntry{
		{Path: []string{"a.txt"}, Length: int64(len(dataA))},
		{Path: []string{"sub", "b.txt"}, Length: int64(len(dataB))},
	}

	s, err := store.Open(tor, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < tor.NumPieces(); i++ {
		start := int64(i) * pieceLen
		end := start + tor.PieceLen(i)
		res, _, err := s.AcceptBlock(i, 0, full[start:end], "p")
		if err != nil {
			t.Fatalf("piece %d: %v", i, err)
		}
		if res != store.PieceCompleteOK {
			t.Fatalf("piece %d: expected PieceCompleteOK, got %v", i, res)
		}
	}

	gotA, err := os.ReadFile(filepath.Join(dir, "multi", "a.txt"))
	if err != nil || !bytes.Equal(gotA, dataA) {
		t.Fatalf("a.txt mismatch: %v %q", err, gotA)
	}
	gotB, err := os.ReadFile(filepath.Join(dir, "multi", "sub", "b.txt"))
	if err != nil || !bytes.Equal(gotB, dataB) {
		t.Fatalf("b.txt mismatch: %v %q", err, gotB)
	}
}

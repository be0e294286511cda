package scheduler_test

import (
	"fmt"
	"testing"
	"time"

	"gotorrent/metainfo"
	"gotorrent/peer"
	"gotorrent/scheduler"
)

func buildTorrent(numPieces int, pieceLen int64) *metainfo.Torrent {
	return &metainfo.Torrent{
		Name:        "t",
		PieceLength: pieceLen,
		Pieces:      make([][20]byte, numPieces),
		TotalLength: pieceLen * int64(numPieces),
		Files:       []metainfo.FileEntry{{Path: []string{"t"}, Length: pieceLen * int64(numPieces)}},
	}
}

func fullBitfield(n int) peer.Bitfield {
	bf := peer.NewBitfield(n)
	for i := 0; i < n; i++ {
		bf.Set(i)
	}
	return bf
}

func TestNextRequestsRespectsCapacityAndAvoidsDuplicates(t *testing.T) {
	tr := buildTorrent(4, metainfo.BlockSize*2) // 2 blocks per piece
	s := scheduler.New(tr, metainfo.BlockSize, nil)

	bf := fullBitfield(4)
	now := time.Now()
	reqs := s.NextRequests("peerA", bf, 3, now)
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}

	seen := make(map[string]bool)
	for _, r := range reqs {
		key := requestKey(r)
		if seen[key] {
			t.Fatalf("duplicate request %+v", r)
		}
		seen[key] = true
	}

	// A second peer must not be handed already-reserved blocks.
	moreReqs := s.NextRequests("peerB", bf, 8, now)
	for _, r := range moreReqs {
		if seen[requestKey(r)] {
			t.Fatalf("peerB was handed an already-reserved block: %+v", r)
		}
	}
}

func requestKey(r scheduler.Request) string {
	return fmt.Sprintf("%d:%d", r.Piece, r.Offset)
}

func TestMarkVerifiedRemovesFromNeeded(t *testing.T) {
	tr := buildTorrent(2, metainfo.BlockSize)
	s := scheduler.New(tr, metainfo.BlockSize, nil)
	if s.NeededCount() != 2 {
		t.Fatalf("NeededCount = %d, want 2", s.NeededCount())
	}
	s.MarkVerified(0)
	if s.NeededCount() != 1 {
		t.Fatalf("NeededCount after MarkVerified = %d, want 1", s.NeededCount())
	}
	if s.Done() {
		t.Fatalf("Done() should be false with one piece left")
	}
	s.MarkVerified(1)
	if !s.Done() {
		t.Fatalf("Done() should be true once every piece verifies")
	}
}

func TestResetPieceReArmsAndBlacklists(t *testing.T) {
	tr := buildTorrent(1, metainfo.BlockSize)
	s := scheduler.New(tr, metainfo.BlockSize, nil)
	bf := fullBitfield(1)
	now := time.Now()

	reqs := s.NextRequests("bad-peer", bf, 1, now)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request")
	}

	s.ResetPiece(0, []peer.Key{"bad-peer"})

	// bad-peer is blacklisted for piece 0 and should get nothing.
	if reqs := s.NextRequests("bad-peer", bf, 1, now); len(reqs) != 0 {
		t.Fatalf("blacklisted peer got requests: %+v", reqs)
	}
	// a different peer can still claim the re-armed piece.
	if reqs := s.NextRequests("good-peer", bf, 1, now); len(reqs) != 1 {
		t.Fatalf("expected good-peer to get the re-armed block")
	}
}

func TestReleaseReservationsFreesBlocksForOthers(t *testing.T) {
	tr := buildTorrent(1, metainfo.BlockSize)
	s := scheduler.New(tr, metainfo.BlockSize, nil)
	bf := fullBitfield(1)
	now := time.Now()

	reqs := s.NextRequests("peerA", bf, 1, now)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request")
	}
	if more := s.NextRequests("peerB", bf, 1, now); len(more) != 0 {
		t.Fatalf("peerB should not get the block peerA is holding")
	}

	s.ReleaseReservations("peerA", []peer.Reservation{{Piece: reqs[0].Piece, Offset: reqs[0].Offset, Length: reqs[0].Length}})

	if freed := s.NextRequests("peerB", bf, 1, now); len(freed) != 1 {
		t.Fatalf("expected peerB to get the freed block")
	}
}

func TestReapStaleReservationsFreesBlockAfterTimeout(t *testing.T) {
	tr := buildTorrent(1, metainfo.BlockSize)
	s := scheduler.New(tr, metainfo.BlockSize, nil)
	bf := fullBitfield(1)
	start := time.Now()

	reqs := s.NextRequests("peerA", bf, 1, start)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request")
	}

	// Well within T_block: nothing is reaped, peerB still can't claim it.
	stale := s.ReapStaleReservations(start.Add(10*time.Second), 60*time.Second)
	if len(stale) != 0 {
		t.Fatalf("expected no stale reservations yet, got %v", stale)
	}
	if more := s.NextRequests("peerB", bf, 1, start); len(more) != 0 {
		t.Fatalf("peerB should not get the block before the timeout")
	}

	// Past T_block: the block is reaped and reassignable.
	stale = s.ReapStaleReservations(start.Add(61*time.Second), 60*time.Second)
	if len(stale) != 1 || stale[0].Key != "peerA" || stale[0].Piece != reqs[0].Piece || stale[0].Offset != reqs[0].Offset {
		t.Fatalf("expected peerA's reservation to be reaped, got %v", stale)
	}

	if freed := s.NextRequests("peerB", bf, 1, start); len(freed) != 1 {
		t.Fatalf("expected peerB to get the reaped block")
	}
}

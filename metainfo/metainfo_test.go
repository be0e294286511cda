package metainfo_test

import (
	"crypto/sha1"
	"testing"

	"gotorrent/bencode"
	"gotorrent/metainfo"
)

func buildSingleFileTorrent(t *testing.T) []byte {
	t.Helper()
	// 2 pieces of 4 bytes each, single file "a.bin" of length 7 (last
	// piece short).
	pieceHashes := sha1.Sum([]byte("abcd")) // piece 0
	lastHash := sha1.Sum([]byte("efg"))     // piece 1 (3 bytes)

	info := "d6:lengthi7e4:name5:a.bin12:piece lengthi4e6:pieces40:" +
		string(pieceHashes[:]) + string(lastHash[:]) + "e"
	top := "d8:announce20:http://tracker.test/4:info" + info + "e"
	return []byte(top)
}

func TestParseSingleFile(t *testing.T) {
	raw := buildSingleFileTorrent(t)
	tor, err := metainfo.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if tor.Announce != "http://tracker.test/" {
		t.Fatalf("announce = %q", tor.Announce)
	}
	if tor.Name != "a.bin" {
		t.Fatalf("name = %q", tor.Name)
	}
	if tor.TotalLength != 7 {
		t.Fatalf("total length = %d", tor.TotalLength)
	}
	if tor.NumPieces() != 2 {
		t.Fatalf("num pieces = %d", tor.NumPieces())
	}
	if tor.PieceLen(0) != 4 || tor.PieceLen(1) != 3 {
		t.Fatalf("piece lengths = %d, %d", tor.PieceLen(0), tor.PieceLen(1))
	}
	if tor.MultiFile() {
		t.Fatalf("expected single-file torrent")
	}
}

func TestInfoHashStableAcrossReencode(t *testing.T) {
	// spec.md §8: info-hash computed from the raw info slice must equal the
	// hash of the info value after any number of encode/decode cycles.
	raw := buildSingleFileTorrent(t)
	tor, err := metainfo.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	top, err := bencode.DecodeStrict(raw)
	if err != nil {
		t.Fatalf("DecodeStrict: %v", err)
	}
	info, ok := top.Dict("info")
	if !ok {
		t.Fatalf("info key missing")
	}
	for cycle := 0; cycle < 3; cycle++ {
		encoded := bencode.Encode(info)
		if got := sha1.Sum(encoded); got != tor.InfoHash {
			t.Fatalf("cycle %d: info hash not stable: %x vs %x", cycle, got, tor.InfoHash)
		}
		info, err = bencode.DecodeStrict(encoded)
		if err != nil {
			t.Fatalf("cycle %d: DecodeStrict: %v", cycle, err)
		}
	}
}

func TestRejectsBadPieceLength(t *testing.T) {
	raw := []byte("d8:announce4:http4:infod6:lengthi1e4:name1:a12:piece lengthi0e6:pieces0:ee")
	if _, err := metainfo.Parse(raw); err == nil {
		t.Fatal("expected error for zero piece length")
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	h := sha1.Sum([]byte("x"))
	raw := []byte("d4:infod5:filesld6:lengthi1e4:pathl2:..eee4:name1:a12:piece lengthi1e6:pieces20:" + string(h[:]) + "ee")
	if _, err := metainfo.Parse(raw); err == nil {
		t.Fatal("expected error for \"..\" path segment")
	}
}

// Package metainfo parses .torrent files into a Torrent: the decoded
// announce URL, piece hashes, and the flattened file layout the piece store
// needs to map piece indices onto byte ranges across one or many files.
package metainfo

import (
	"crypto/sha1"
	"fmt"

	"gotorrent/bencode"
)

const (
	// HashSize is the length in bytes of a SHA-1 digest: an info-hash or a
	// single piece hash.
	HashSize = 20
	// BlockSize is the fixed sub-unit of a piece requested over the peer
	// wire, per spec.md §3.
	BlockSize = 16384
)

// FileEntry is one file of a multi-file torrent, or the single file of a
// single-file torrent expressed the same way.
type FileEntry struct {
	Path   []string // path segments, relative to the torrent's name directory
	Length int64
}

// Torrent is the parsed form of a .torrent file, per spec.md §3.
type Torrent struct {
	Announce     string
	AnnounceList [][]string

	InfoHash [HashSize]byte

	Name        string
	PieceLength int64
	Pieces      [][HashSize]byte

	// Files holds the file list even for single-file torrents, with a
	// single entry whose Path is {Name}. FileEntry.Path for a multi-file
	// torrent does not include Name; callers join Name as the top directory.
	Files []FileEntry

	TotalLength int64
}

func (t *Torrent) NumPieces() int { return len(t.Pieces) }

// PieceLen returns the byte length of piece i: PieceLength for every piece
// except the last, which is whatever remains of TotalLength.
func (t *Torrent) PieceLen(i int) int64 {
	if i < 0 || i >= t.NumPieces() {
		panic("metainfo: piece index out of range")
	}
	if i == t.NumPieces()-1 {
		last := t.TotalLength - int64(t.NumPieces()-1)*t.PieceLength
		if last <= 0 {
			last = t.PieceLength
		}
		return last
	}
	return t.PieceLength
}

// MultiFile reports whether this torrent declares info.files (multi-file
// mode) rather than info.length (single-file mode).
func (t *Torrent) MultiFile() bool {
	return len(t.Files) != 1 || len(t.Files[0].Path) != 1 || t.Files[0].Path[0] != t.Name
}

// Parse decodes raw .torrent bytes into a Torrent, validating the required
// keys from spec.md §6 and computing the info-hash from the exact source
// bytes of the info dictionary (never a re-encoding), per spec.md §4.2.
func Parse(raw []byte) (*Torrent, error) {
	top, err := bencode.DecodeStrict(raw)
	if err != nil {
		return nil, fmt.Errorf("metainfo: decoding top-level dict: %w", err)
	}
	if top.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("metainfo: top-level value is not a dictionary")
	}

	infoRaw, err := extractInfoSlice(raw)
	if err != nil {
		return nil, fmt.Errorf("metainfo: locating info dict: %w", err)
	}
	infoHash := sha1.Sum(infoRaw)

	infoVal, ok := top.Dict("info")
	if !ok || infoVal.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("metainfo: missing or malformed \"info\" dictionary")
	}

	t := &Torrent{InfoHash: infoHash}

	if announce, ok := top.Dict("announce"); ok && announce.Kind() == bencode.KindString {
		t.Announce = string(announce.Str())
	}
	if al, ok := top.Dict("announce-list"); ok && al.Kind() == bencode.KindList {
		for _, tier := range al.List() {
			if tier.Kind() != bencode.KindList {
				continue
			}
			var urls []string
			for _, u := range tier.List() {
				if u.Kind() == bencode.KindString {
					urls = append(urls, string(u.Str()))
				}
			}
			t.AnnounceList = append(t.AnnounceList, urls)
		}
	}

	nameVal, ok := infoVal.Dict("name")
	if !ok || nameVal.Kind() != bencode.KindString {
		return nil, fmt.Errorf("metainfo: info.name missing")
	}
	t.Name = string(nameVal.Str())

	plVal, ok := infoVal.Dict("piece length")
	if !ok || plVal.Kind() != bencode.KindInt || plVal.Int() <= 0 {
		return nil, fmt.Errorf("metainfo: info.piece_length must be a positive integer")
	}
	t.PieceLength = plVal.Int()

	piecesVal, ok := infoVal.Dict("pieces")
	if !ok || piecesVal.Kind() != bencode.KindString {
		return nil, fmt.Errorf("metainfo: info.pieces missing")
	}
	piecesRaw := piecesVal.Str()
	if len(piecesRaw)%HashSize != 0 {
		return nil, fmt.Errorf("metainfo: info.pieces length %d is not a multiple of %d", len(piecesRaw), HashSize)
	}
	t.Pieces = make([][HashSize]byte, len(piecesRaw)/HashSize)
	for i := range t.Pieces {
		copy(t.Pieces[i][:], piecesRaw[i*HashSize:(i+1)*HashSize])
	}

	filesVal, hasFiles := infoVal.Dict("files")
	lengthVal, hasLength := infoVal.Dict("length")

	switch {
	case hasFiles:
		if filesVal.Kind() != bencode.KindList || len(filesVal.List()) == 0 {
			return nil, fmt.Errorf("metainfo: info.files must be a non-empty list in multi-file mode")
		}
		for _, fv := range filesVal.List() {
			entry, err := parseFileEntry(fv)
			if err != nil {
				return nil, err
			}
			t.Files = append(t.Files, entry)
			t.TotalLength += entry.Length
		}
	case hasLength:
		if lengthVal.Kind() != bencode.KindInt || lengthVal.Int() <= 0 {
			return nil, fmt.Errorf("metainfo: info.length must be a positive integer")
		}
		t.Files = []FileEntry{{Path: []string{t.Name}, Length: lengthVal.Int()}}
		t.TotalLength = lengthVal.Int()
	default:
		return nil, fmt.Errorf("metainfo: info must have either \"length\" or \"files\"")
	}

	expectedPieces := (t.TotalLength + t.PieceLength - 1) / t.PieceLength
	if expectedPieces != int64(len(t.Pieces)) {
		return nil, fmt.Errorf("metainfo: pieces count %d does not match expected %d for total length %d",
			len(t.Pieces), expectedPieces, t.TotalLength)
	}

	if t.Announce == "" {
		return nil, fmt.Errorf("metainfo: announce missing")
	}

	return t, nil
}

func parseFileEntry(fv bencode.Value) (FileEntry, error) {
	if fv.Kind() != bencode.KindDict {
		return FileEntry{}, fmt.Errorf("metainfo: file entry is not a dictionary")
	}
	lengthVal, ok := fv.Dict("length")
	if !ok || lengthVal.Kind() != bencode.KindInt || lengthVal.Int() < 0 {
		return FileEntry{}, fmt.Errorf("metainfo: file entry missing valid length")
	}
	pathVal, ok := fv.Dict("path")
	if !ok || pathVal.Kind() != bencode.KindList || len(pathVal.List()) == 0 {
		return FileEntry{}, fmt.Errorf("metainfo: file entry missing non-empty path")
	}

	segments := make([]string, 0, len(pathVal.List()))
	for _, seg := range pathVal.List() {
		if seg.Kind() != bencode.KindString {
			return FileEntry{}, fmt.Errorf("metainfo: path segment is not a string")
		}
		s := string(seg.Str())
		if s == "" || s == ".." || containsSeparator(s) {
			return FileEntry{}, fmt.Errorf("metainfo: illegal path segment %q", s)
		}
		segments = append(segments, s)
	}

	return FileEntry{Path: segments, Length: lengthVal.Int()}, nil
}

func containsSeparator(s string) bool {
	for _, c := range s {
		if c == '/' || c == '\\' || c == 0 {
			return true
		}
	}
	return false
}

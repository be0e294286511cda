package store

import (
	"path/filepath"

	"gotorrent/metainfo"
)

// fileEntry is one destination file: its full on-disk path and its length,
// plus its starting offset within the logical concatenation of all files
// (spec.md §3 "Derived" section, files ordered as declared).
type fileEntry struct {
	path   string
	length int64
	offset int64
}

// span is one contiguous byte range of a single destination file that a
// piece write touches.
type span struct {
	fileIndex int
	fileOff   int64
	length    int64
}

// buildFileLayout mirrors lvbealr-BitTorrent/torrent/utils.go's
// BuildFileInfo: single-file torrents write directly to destDir/Name;
// multi-file torrents write under destDir/Name/<path...>.
func buildFileLayout(t *metainfo.Torrent, destDir string) []fileEntry {
	entries := make([]fileEntry, 0, len(t.Files))
	var offset int64

	if !t.MultiFile() {
		entries = append(entries, fileEntry{
			path:   filepath.Join(destDir, t.Name),
			length: t.Files[0].Length,
			offset: 0,
		})
		return entries
	}

	baseDir := filepath.Join(destDir, t.Name)
	for _, f := range t.Files {
		parts := append([]string{baseDir}, f.Path...)
		entries = append(entries, fileEntry{
			path:   filepath.Join(parts...),
			length: f.Length,
			offset: offset,
		})
		offset += f.Length
	}
	return entries
}

// buildPieceSpans precomputes, for every piece index, the ordered list of
// file spans a write of that piece touches, per spec.md §4.3.
func buildPieceSpans(t *metainfo.Torrent, files []fileEntry) [][]span {
	spans := make([][]span, t.NumPieces())

	for i := 0; i < t.NumPieces(); i++ {
		pieceStart := int64(i) * t.PieceLength
		pieceEnd := pieceStart + t.PieceLen(i)

		var pieceSpans []span
		for fi, f := range files {
			fileStart := f.offset
			fileEnd := f.offset + f.length

			start := maxInt64(pieceStart, fileStart)
			end := minInt64(pieceEnd, fileEnd)
			if start >= end {
				continue
			}

			pieceSpans = append(pieceSpans, span{
				fileIndex: fi,
				fileOff:   start - fileStart,
				length:    end - start,
			})
		}
		spans[i] = pieceSpans
	}
	return spans
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

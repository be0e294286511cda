package metainfo

import (
	"bytes"
	"fmt"
)

// extractInfoSlice locates the exact source bytes of the top-level
// dictionary's "info" value, so the info-hash can be computed from the
// bytes as they appeared in the file rather than from a re-encoding.
// spec.md §4.2 requires this: info_hash must be stable across any number of
// bencode round trips performed on other parts of the file.
//
// This walks the raw bytes directly (not through bencode.Decode, which
// builds a Value tree and does not retain source spans) using the same
// balanced d/l/e scan the grammar implies.
func extractInfoSlice(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" key found")
	}
	start := idx + len("4:info")
	if start >= len(data) {
		return nil, fmt.Errorf("info key has no value")
	}

	end, err := scanValue(data, start)
	if err != nil {
		return nil, err
	}
	return data[start:end], nil
}

// scanValue returns the offset just past the single bencoded value
// beginning at start.
func scanValue(data []byte, start int) (int, error) {
	if start >= len(data) {
		return 0, fmt.Errorf("unexpected end of input at %d", start)
	}

	switch c := data[start]; {
	case c == 'i':
		i := start + 1
		for i < len(data) && data[i] != 'e' {
			i++
		}
		if i >= len(data) {
			return 0, fmt.Errorf("unterminated integer at %d", start)
		}
		return i + 1, nil

	case c == 'l' || c == 'd':
		i := start + 1
		for {
			if i >= len(data) {
				return 0, fmt.Errorf("unterminated list/dict at %d", start)
			}
			if data[i] == 'e' {
				return i + 1, nil
			}
			next, err := scanValue(data, i)
			if err != nil {
				return 0, err
			}
			i = next
		}

	case c >= '0' && c <= '9':
		j := start
		for j < len(data) && data[j] >= '0' && data[j] <= '9' {
			j++
		}
		if j >= len(data) || data[j] != ':' {
			return 0, fmt.Errorf("malformed string length at %d", start)
		}
		length := 0
		for _, d := range data[start:j] {
			length = length*10 + int(d-'0')
		}
		dataStart := j + 1
		dataEnd := dataStart + length
		if dataEnd > len(data) {
			return 0, fmt.Errorf("truncated string at %d", start)
		}
		return dataEnd, nil

	default:
		return 0, fmt.Errorf("unknown type byte %q at %d", c, start)
	}
}

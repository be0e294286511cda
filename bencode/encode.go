package bencode

import (
	"sort"
	"strconv"
)

// Encode serializes v to its canonical bencoded form. Dictionary keys are
// always emitted in sorted order regardless of the order Value was built
// in, so that encoding a value produced by Decode reproduces the original
// bytes (spec.md §3: "re-encoding MUST produce byte-for-byte identical
// output for any value that originated from a decoding").
func Encode(v Value) []byte {
	buf := make([]byte, 0, 64)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.kind {
	case KindString:
		buf = strconv.AppendInt(buf, int64(len(v.str)), 10)
		buf = append(buf, ':')
		buf = append(buf, v.str...)
		return buf
	case KindInt:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, v.i, 10)
		buf = append(buf, 'e')
		return buf
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.list {
			buf = appendValue(buf, item)
		}
		buf = append(buf, 'e')
		return buf
	case KindDict:
		buf = append(buf, 'd')
		for _, k := range sortedKeys(v.dict) {
			buf = appendValue(buf, NewString([]byte(k)))
			buf = appendValue(buf, v.dict[k])
		}
		buf = append(buf, 'e')
		return buf
	default:
		return buf
	}
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package bencode implements the bencoding used by .torrent metainfo files
// and tracker responses: a tagged union of byte strings, integers, lists and
// dictionaries.
package bencode

import "fmt"

// Kind identifies which of the four bencoded types a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindList
	KindDict
)

// Value is a decoded (or to-be-encoded) bencoded value. Exactly one of the
// accessor fields is meaningful, selected by Kind. Values are built by the
// New* constructors or returned by Decode; zero Values are not valid.
type Value struct {
	kind Kind
	str  []byte
	i    int64
	list []Value
	dict map[string]Value
	// keys preserves dictionary key order as seen on decode; Encode ignores
	// it and always emits sorted order, but callers that want to inspect a
	// decoded dict in source order can use Keys().
	keys []string
}

func NewString(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindString, str: cp}
}

func NewInt(i int64) Value {
	return Value{kind: KindInt, i: i}
}

func NewList(items []Value) Value {
	return Value{kind: KindList, list: items}
}

func NewDict(m map[string]Value) Value {
	v := Value{kind: KindDict, dict: map[string]Value{}}
	for k, val := range m {
		v.dict[k] = val
	}
	v.keys = sortedKeys(v.dict)
	return v
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the raw bytes of a byte-string Value. Panics if Kind is not
// KindString: callers are expected to check Kind first, matching the rest of
// this package's "decode then assert shape" style.
func (v Value) Str() []byte {
	if v.kind != KindString {
		panic(fmt.Sprintf("bencode: Str called on %v", v.kind))
	}
	return v.str
}

func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic(fmt.Sprintf("bencode: Int called on %v", v.kind))
	}
	return v.i
}

func (v Value) List() []Value {
	if v.kind != KindList {
		panic(fmt.Sprintf("bencode: List called on %v", v.kind))
	}
	return v.list
}

// Dict returns the dictionary entry for key, and whether it was present.
func (v Value) Dict(key string) (Value, bool) {
	if v.kind != KindDict {
		panic(fmt.Sprintf("bencode: Dict called on %v", v.kind))
	}
	val, ok := v.dict[key]
	return val, ok
}

// Keys returns the dictionary's keys in the order they were decoded, or in
// sorted order for a dictionary built by NewDict.
func (v Value) Keys() []string {
	if v.kind != KindDict {
		panic(fmt.Sprintf("bencode: Keys called on %v", v.kind))
	}
	return v.keys
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return "unknown"
	}
}

// Package doc implements the document arena and combiner of spec.md
// section 4.2: documents grouped by key are accumulated in memory, spilled
// to on-disk compressed segments once a byte threshold is crossed, and
// merged back together on drain while applying JSON-Schema reduce
// annotations.
package doc

import (
	"encoding/json"
	"fmt"
)

// Meta packs the 24-bit binding index and flag bits that every document
// carries, per spec.md section 3.
type Meta uint32

const (
	metaBindingShift = 8
	metaBindingMask  = 0x00FFFFFF

	// FlagFront marks a document as a complete, root-most reduction -- the
	// "FRONT" bit of spec.md section 3/4.2.
	FlagFront Meta = 1 << 0
	// FlagNotAssociative marks that this document's reduction depended on
	// RHS ordering, per spec.md section 8's commutativity property.
	FlagNotAssociative Meta = 1 << 1
	// FlagDeleted marks a tombstone: a document whose presence records a
	// deletion of its key rather than a value.
	FlagDeleted Meta = 1 << 2
)

// NewMeta packs a binding index and flags into a Meta.
func NewMeta(binding int, flags Meta) Meta {
	if binding < 0 || binding > metaBindingMask {
		panic(fmt.Sprintf("binding %d out of range for 24-bit meta", binding))
	}
	return Meta(binding<<metaBindingShift) | (flags &^ Meta(metaBindingMask<<metaBindingShift))
}

// Binding returns the binding index packed into m.
func (m Meta) Binding() int { return int(uint32(m) >> metaBindingShift) }

// Front reports whether FlagFront is set.
func (m Meta) Front() bool { return m&FlagFront != 0 }

// NotAssociative reports whether FlagNotAssociative is set.
func (m Meta) NotAssociative() bool { return m&FlagNotAssociative != 0 }

// Deleted reports whether FlagDeleted is set.
func (m Meta) Deleted() bool { return m&FlagDeleted != 0 }

// WithFront returns m with FlagFront set or cleared.
func (m Meta) WithFront(v bool) Meta { return m.withFlag(FlagFront, v) }

// WithDeleted returns m with FlagDeleted set or cleared.
func (m Meta) WithDeleted(v bool) Meta { return m.withFlag(FlagDeleted, v) }

// WithNotAssociative returns m with FlagNotAssociative set or cleared.
func (m Meta) WithNotAssociative(v bool) Meta { return m.withFlag(FlagNotAssociative, v) }

func (m Meta) withFlag(flag Meta, v bool) Meta {
	if v {
		return m | flag
	}
	return m &^ flag
}

// HeapDoc is the compact heap representation of a document: its decoded
// JSON value plus the packed Meta tag and extracted key. In the teacher's
// Rust original these are arena-allocated nodes with pointer-only children;
// here they're plain Go values, since Go's garbage collector -- not an
// arena with manual lifetime scoping -- is the idiomatic way to manage
// this memory, matching how the teacher's own Go code (not its cgo-FFI
// bridge) always represents in-process values.
type HeapDoc struct {
	Meta  Meta
	Key   []any
	Value any
}

// Key is a document's extracted, ordered group-by key, compared
// lexicographically by (binding, key) per spec.md section 4.2/5.
type Key = []any

// CompareKeys orders two extracted keys lexicographically. Values must be
// of comparable dynamic types (bool, float64, string, nil); a type
// mismatch between corresponding elements is treated as an ordering
// failure and panics, since keys within one binding must share a schema.
func CompareKeys(a, b Key) int {
	var n = len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareScalar(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareScalar(a, b any) int {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case bool:
		bv, _ := b.(bool)
		if av == bv {
			return 0
		} else if !av {
			return -1
		}
		return 1
	case float64:
		bv, ok := b.(float64)
		if !ok {
			panic(fmt.Sprintf("incomparable key types: %#v vs %#v", a, b))
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			panic(fmt.Sprintf("incomparable key types: %#v vs %#v", a, b))
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		panic(fmt.Sprintf("unsupported key element type: %#v", a))
	}
}

// ExtractKey walks the given JSON-pointer-style extractors (e.g. "/k") over
// a decoded JSON value, returning the ordered tuple of extracted values.
// A missing location extracts as nil, matching JSON Schema's treatment of
// absent properties as null for reduction purposes.
func ExtractKey(ptrs []string, value any) Key {
	var out = make(Key, len(ptrs))
	for i, ptr := range ptrs {
		out[i] = resolvePointer(ptr, value)
	}
	return out
}

func resolvePointer(ptr string, value any) any {
	if ptr == "" || ptr == "/" {
		return value
	}
	var tokens = splitPointer(ptr)
	var cur = value
	for _, tok := range tokens {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			idx, ok := parseArrayIndex(tok)
			if !ok || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

func splitPointer(ptr string) []string {
	if len(ptr) > 0 && ptr[0] == '/' {
		ptr = ptr[1:]
	}
	if ptr == "" {
		return nil
	}
	var out []string
	var start = 0
	for i := 0; i <= len(ptr); i++ {
		if i == len(ptr) || ptr[i] == '/' {
			var tok = ptr[start:i]
			tok = unescapeToken(tok)
			out = append(out, tok)
			start = i + 1
		}
	}
	return out
}

func unescapeToken(tok string) string {
	var out []byte
	for i := 0; i < len(tok); i++ {
		if tok[i] == '~' && i+1 < len(tok) {
			switch tok[i+1] {
			case '0':
				out = append(out, '~')
				i++
				continue
			case '1':
				out = append(out, '/')
				i++
				continue
			}
		}
		out = append(out, tok[i])
	}
	return string(out)
}

func parseArrayIndex(tok string) (int, bool) {
	if tok == "" {
		return 0, false
	}
	var n int
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// PackKey serializes an extracted Key to the same byte form the combiner
// uses internally for spilled segments, so a session's emit loop can attach
// it to outgoing Captured/Published/Store messages as the "packed"
// key/partition extraction of spec.md section 4.5.1.
func PackKey(k Key) []byte { return packKey(k) }

// ParseJSON decodes a JSON document into its generic Go representation
// (map[string]any / []any / float64 / string / bool / nil), as used
// throughout the combiner and reduce package.
func ParseJSON(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parsing document JSON: %w", err)
	}
	return v, nil
}

// SetAtPointer writes value at the given JSON pointer within doc, creating
// intermediate objects as needed, and returns the (possibly new) root. It's
// used to stamp the document-UUID placeholder into a parsed document, per
// spec.md section 4.5.1.
func SetAtPointer(ptr string, doc any, value any) any {
	if ptr == "" || ptr == "/" {
		return value
	}
	var tokens = splitPointer(ptr)
	return setAtTokens(tokens, doc, value)
}

func setAtTokens(tokens []string, doc any, value any) any {
	if len(tokens) == 0 {
		return value
	}
	var obj map[string]any
	if m, ok := doc.(map[string]any); ok {
		obj = m
	} else {
		obj = map[string]any{}
	}
	var head, tail = tokens[0], tokens[1:]
	if len(tail) == 0 {
		obj[head] = value
	} else {
		obj[head] = setAtTokens(tail, obj[head], value)
	}
	return obj
}

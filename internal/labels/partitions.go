package labels

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	pb "go.gazette.dev/core/broker/protocol"
)

// EncodeFieldValue appends the encoding of a partition value to |b|,
// returning the result. Only the scalar types permitted by spec.md
// section 4.1 are accepted: nil, bool, int, int64, uint64, string. Any other
// dynamic type (arrays, floats, byte strings, objects) is invalid as a
// partition value and panics, mirroring the teacher's EncodePartitionValue.
//
//   - null|true|false map to the literal tokens %_null|%_true|%_false.
//   - Integers map to their base-10 encoding with a `%_` prefix.
//   - Strings are percent-encoded, passing through [A-Za-z0-9._-] only.
//
// The shared `%_` prefix can never be produced by a percent-encoded string,
// so DecodeFieldValue can unambiguously recover the original JSON type.
func EncodeFieldValue(b []byte, value any) []byte {
	switch v := value.(type) {
	case nil:
		return append(b, "%_null"...)
	case bool:
		if v {
			return append(b, "%_true"...)
		}
		return append(b, "%_false"...)
	case uint64:
		return strconv.AppendUint(append(b, "%_"...), v, 10)
	case int64:
		return strconv.AppendInt(append(b, "%_"...), v, 10)
	case int:
		return strconv.AppendInt(append(b, "%_"...), int64(v), 10)
	case string:
		return appendPercentEncoded(b, v)
	default:
		panic(fmt.Sprintf("invalid partition value type: %#v", value))
	}
}

// appendPercentEncoded appends value's percent-encoding to b, passing
// alphanumerics and `-_.` through unescaped and percent-encoding every
// other byte as an upper-case %XX triple -- the Go equivalent of
// original_source/crates/labels/src/lib.rs's `percent_encoding`, which
// uses the `percent_encoding` crate's NON_ALPHANUMERIC set with `-`, `_`,
// and `.` removed. This is deliberately not net/url's query-escaping:
// url.QueryEscape also leaves `~` unescaped, which would diverge from
// the on-disk journal-name format for any partition value containing it.
func appendPercentEncoded(b []byte, value string) []byte {
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(value); i++ {
		var c = value[i]
		if isUnreservedPartitionByte(c) {
			b = append(b, c)
			continue
		}
		b = append(b, '%', hex[c>>4], hex[c&0x0f])
	}
	return b
}

func isUnreservedPartitionByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.':
		return true
	default:
		return false
	}
}

// DecodeFieldValue maps an encoding produced by EncodeFieldValue back into
// a dynamic type: nil, bool, int64 for negative integers, uint64 for
// non-negative integers, or string. A non-negative int or int64 therefore
// decodes as a uint64.
func DecodeFieldValue(value string) (any, error) {
	switch {
	case value == "%_null":
		return nil, nil
	case value == "%_true":
		return true, nil
	case value == "%_false":
		return false, nil
	case strings.HasPrefix(value, "%_-"):
		return strconv.ParseInt(value[2:], 10, 64)
	case strings.HasPrefix(value, "%_"):
		return strconv.ParseUint(value[2:], 10, 64)
	default:
		return url.QueryUnescape(value)
	}
}

// EncodeFieldRange adds the encoded |fields| and corresponding |values| into
// |set|, alongside the shard's key range. |fields| must already be sorted
// and of the same length as |values|, or EncodeFieldRange panics -- the
// caller is expected to have validated this at catalog build time.
func EncodeFieldRange(keyBegin, keyEnd uint32, fields []string, values []any, set pb.LabelSet) pb.LabelSet {
	if len(fields) != len(values) {
		panic("fields and values have different lengths")
	}
	for i := range fields {
		if i > 0 && fields[i] <= fields[i-1] {
			panic("fields are not in sorted order")
		}
		set.AddValue(FieldPrefix+fields[i], string(EncodeFieldValue(nil, values[i])))
	}
	set = EncodeHexU32Label(KeyBegin, keyBegin, set)
	set = EncodeHexU32Label(KeyEnd, keyEnd, set)
	return set
}

// DecodeFieldRange decodes |fields| from |set|, returning their values in
// the same order as |fields|, along with the key range.
func DecodeFieldRange(fields []string, set pb.LabelSet) (values []any, keyBegin, keyEnd uint32, err error) {
	for _, field := range fields {
		var raw string
		if raw, err = valueOf(set, FieldPrefix+field); err != nil {
			return nil, 0, 0, err
		}
		var elem any
		if elem, err = DecodeFieldValue(raw); err != nil {
			return nil, 0, 0, fmt.Errorf("decoding field %s value %q: %w", field, raw, err)
		}
		values = append(values, elem)
	}
	if keyBegin, err = ParseHexU32Label(KeyBegin, set); err != nil {
		return nil, 0, 0, err
	}
	if keyEnd, err = ParseHexU32Label(KeyEnd, set); err != nil {
		return nil, 0, 0, err
	}
	return values, keyBegin, keyEnd, nil
}

// NameSuffix returns the journal name suffix implied by |set|: sorted
// `field=value/` segments followed by `pivot=<key-begin>`.
//
// As a prettified special case preserved for on-disk compatibility, the
// all-zeros KeyBeginMin value is rendered as "00" rather than "00000000" --
// "00" still sorts before every other 8-hex split.
func NameSuffix(set pb.LabelSet) (string, error) {
	var name strings.Builder

	// Labels within a pb.LabelSet are always maintained in sorted order.
	for _, l := range set.Labels {
		if !strings.HasPrefix(l.Name, FieldPrefix) {
			continue
		}
		name.WriteString(l.Name[len(FieldPrefix):])
		name.WriteByte('=')
		name.WriteString(l.Value)
		name.WriteByte('/')
	}
	name.WriteString("pivot=")

	var keyBegin, err = valueOf(set, KeyBegin)
	if err != nil {
		return "", err
	}
	if keyBegin == KeyBeginMin {
		name.WriteString("00")
	} else {
		name.WriteString(keyBegin)
	}
	return name.String(), nil
}

// NamePrefix returns the portion of NameSuffix preceding the final
// `pivot=<begin>` component: the sorted `field=value/` segments only.
// It's used to enumerate all journals of a logical partition regardless
// of their current key split.
func NamePrefix(set pb.LabelSet) string {
	var name strings.Builder
	for _, l := range set.Labels {
		if !strings.HasPrefix(l.Name, FieldPrefix) {
			continue
		}
		name.WriteString(l.Name[len(FieldPrefix):])
		name.WriteByte('=')
		name.WriteString(l.Value)
		name.WriteByte('/')
	}
	return name.String()
}

// IDSuffix returns the shard ID suffix implied by |set|: `<key-begin-hex>-<rclock-begin-hex>`.
func IDSuffix(set pb.LabelSet) (string, error) {
	var keyBegin, err1 = valueOf(set, KeyBegin)
	var rclockBegin, err2 = valueOf(set, RClockBegin)
	for _, err := range []error{err1, err2} {
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s-%s", keyBegin, rclockBegin), nil
}

// IDPrefix is the empty prefix shared by all shard IDs of a task: shard
// IDs carry no partition fields, only the task base name plus IDSuffix.
func IDPrefix(pb.LabelSet) string { return "" }

func valueOf(set pb.LabelSet, name string) (string, error) {
	var v = set.ValuesOf(name)
	if len(v) != 1 {
		return "", fmt.Errorf("expected exactly one label %q (got %v)", name, v)
	}
	return v[0], nil
}

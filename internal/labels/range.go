package labels

import (
	"fmt"
	"strconv"

	pb "go.gazette.dev/core/broker/protocol"
)

// RangeSpec is a shard's owned key and r-clock range.
type RangeSpec struct {
	KeyBegin, KeyEnd       uint32
	RClockBegin, RClockEnd uint32
}

// Validate returns an error if the RangeSpec is malformed: each begin must
// be strictly less than its paired end.
func (r RangeSpec) Validate() error {
	if r.KeyBegin >= r.KeyEnd {
		return fmt.Errorf("expected KeyBegin < KeyEnd (%x vs %x)", r.KeyBegin, r.KeyEnd)
	}
	if r.RClockBegin >= r.RClockEnd {
		return fmt.Errorf("expected RClockBegin < RClockEnd (%x vs %x)", r.RClockBegin, r.RClockEnd)
	}
	return nil
}

// EncodeKeyRange encodes a key range into |set|, which is returned.
func EncodeKeyRange(begin, end uint32, set pb.LabelSet) pb.LabelSet {
	set = EncodeHexU32Label(KeyBegin, begin, set)
	set = EncodeHexU32Label(KeyEnd, end, set)
	return set
}

// DecodeKeyRange extracts a key range from |set|.
func DecodeKeyRange(set pb.LabelSet) (begin, end uint32, err error) {
	if begin, err = ParseHexU32Label(KeyBegin, set); err != nil {
		return 0, 0, err
	}
	if end, err = ParseHexU32Label(KeyEnd, set); err != nil {
		return 0, 0, err
	}
	return begin, end, nil
}

// EncodeRClockRange encodes an r-clock range into |set|, which is returned.
func EncodeRClockRange(begin, end uint32, set pb.LabelSet) pb.LabelSet {
	set = EncodeHexU32Label(RClockBegin, begin, set)
	set = EncodeHexU32Label(RClockEnd, end, set)
	return set
}

// DecodeRClockRange extracts an r-clock range from |set|.
func DecodeRClockRange(set pb.LabelSet) (begin, end uint32, err error) {
	if begin, err = ParseHexU32Label(RClockBegin, set); err != nil {
		return 0, 0, err
	}
	if end, err = ParseHexU32Label(RClockEnd, set); err != nil {
		return 0, 0, err
	}
	return begin, end, nil
}

// EncodeHexU32Label encodes |value| as an 8-char lowercase-hex label |name|
// within |set|, which is returned.
func EncodeHexU32Label(name string, value uint32, set pb.LabelSet) pb.LabelSet {
	set.SetValue(name, fmt.Sprintf("%08x", value))
	return set
}

// ParseHexU32Label parses the 8-char lowercase-hex label |name| from |set|.
func ParseHexU32Label(name string, set pb.LabelSet) (uint32, error) {
	var l, err = ExpectOne(set, name)
	if err != nil {
		return 0, err
	}
	if len(l) != 8 {
		return 0, fmt.Errorf("expected %s to be an 8-char hex-encoded integer; got %q", name, l)
	}
	for _, c := range l {
		if 'A' <= c && c <= 'F' {
			return 0, fmt.Errorf("expected %s to be lowercase hex; got %q", name, l)
		}
	}
	var v, perr = strconv.ParseUint(l, 16, 32)
	if perr != nil {
		return 0, fmt.Errorf("decoding hex-encoded label %s: %w", name, perr)
	}
	return uint32(v), nil
}

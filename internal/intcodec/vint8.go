package intcodec

import "math"

// MaxVInt8Len is the longest encoding of a non-negative int32.
const MaxVInt8Len = 5

// VInt8Len returns the number of bytes AppendVInt8 writes for v.
func VInt8Len(v int32) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	default:
		return 5
	}
}

// AppendVInt8 appends v as base-128 groups, most significant group first.
// Every byte except the last has its high bit set. v must be non-negative.
func AppendVInt8(dst []byte, v int32) []byte {
	u := uint32(v)
	for shift := 7 * (VInt8Len(v) - 1); shift > 0; shift -= 7 {
		dst = append(dst, byte(0x80|(u>>shift)&0x7F))
	}
	return append(dst, byte(u&0x7F))
}

// ReadVInt8 decodes one value from buf starting at pos and returns it with
// the position of the next value.
func ReadVInt8(buf []byte, pos int) (int32, int, error) {
	var v uint64
	for n := 0; ; n++ {
		if n == MaxVInt8Len {
			return 0, pos, corrupt("vint8 longer than %d bytes at offset %d", MaxVInt8Len, pos-n)
		}
		if pos >= len(buf) {
			return 0, pos, corrupt("truncated vint8 at offset %d", pos-n)
		}
		b := buf[pos]
		pos++
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 == 0 {
			break
		}
	}
	if v > math.MaxInt32 {
		return 0, pos, corrupt("vint8 value %d overflows int32", v)
	}
	return int32(v), pos, nil
}

// VInt8 writes each value as-is.
type VInt8 struct{}

func (VInt8) Encode(dst []byte, values []int32) ([]byte, error) {
	for _, v := range values {
		if v < 0 {
			return dst, invalidInput("negative value %d", v)
		}
		dst = AppendVInt8(dst, v)
	}
	return dst, nil
}

func (VInt8) Decoder() Decoder { return VInt8Decoder{} }

func (VInt8) String() string { return "VInt8" }

// VInt8Decoder reverses VInt8.
type VInt8Decoder struct{}

func (VInt8Decoder) Decode(dst []int32, buf []byte) ([]int32, error) {
	for pos := 0; pos < len(buf); {
		v, next, err := ReadVInt8(buf, pos)
		if err != nil {
			return dst, err
		}
		dst = append(dst, v)
		pos = next
	}
	return dst, nil
}

func (VInt8Decoder) String() string { return "VInt8" }

// DGapVInt8 fuses gap encoding with VInt8 in a single pass. Input must be
// strictly increasing and non-negative.
type DGapVInt8 struct{}

func (DGapVInt8) Encode(dst []byte, values []int32) ([]byte, error) {
	var prev int32
	for i, v := range values {
		if v < 0 {
			return dst, invalidInput("negative value %d", v)
		}
		if i > 0 && v <= prev {
			return dst, invalidInput("value %d at index %d not greater than %d", v, i, prev)
		}
		dst = AppendVInt8(dst, v-prev)
		prev = v
	}
	return dst, nil
}

func (DGapVInt8) Decoder() Decoder { return DGapVInt8Decoder{} }

func (DGapVInt8) String() string { return "DGapVInt8" }

// DGapVInt8Decoder reverses DGapVInt8.
type DGapVInt8Decoder struct{}

func (DGapVInt8Decoder) Decode(dst []int32, buf []byte) ([]int32, error) {
	var prev int64
	for pos := 0; pos < len(buf); {
		gap, next, err := ReadVInt8(buf, pos)
		if err != nil {
			return dst, err
		}
		prev += int64(gap)
		if prev > math.MaxInt32 {
			return dst, corrupt("accumulated value %d overflows int32", prev)
		}
		dst = append(dst, int32(prev))
		pos = next
	}
	return dst, nil
}

func (DGapVInt8Decoder) String() string { return "DGapVInt8" }

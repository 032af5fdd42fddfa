package intcodec

import (
	"math"
	"slices"
)

// Sorting sorts a copy of its input ascending before delegating.
type Sorting struct {
	next Encoder
}

func NewSorting(next Encoder) *Sorting { return &Sorting{next: next} }

func (s *Sorting) Encode(dst []byte, values []int32) ([]byte, error) {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return s.next.Encode(dst, sorted)
}

func (s *Sorting) Decoder() Decoder { return s.next.Decoder() }

func (s *Sorting) String() string { return "Sorting(" + s.next.String() + ")" }

// Unique drops adjacent duplicates before delegating. Input is expected to
// be sorted, so it is normally wrapped by Sorting.
type Unique struct {
	next Encoder
}

func NewUnique(next Encoder) *Unique { return &Unique{next: next} }

func (u *Unique) Encode(dst []byte, values []int32) ([]byte, error) {
	out := make([]int32, 0, len(values))
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			out = append(out, v)
		}
	}
	return u.next.Encode(dst, out)
}

func (u *Unique) Decoder() Decoder { return u.next.Decoder() }

func (u *Unique) String() string { return "Unique(" + u.next.String() + ")" }

// DGap replaces each value with its difference from the previous one, the
// first value being taken relative to 0. Input must be strictly increasing
// and non-negative.
type DGap struct {
	next Encoder
}

func NewDGap(next Encoder) *DGap { return &DGap{next: next} }

func (d *DGap) Encode(dst []byte, values []int32) ([]byte, error) {
	gaps := make([]int32, len(values))
	var prev int32
	for i, v := range values {
		if v < 0 {
			return dst, invalidInput("negative value %d", v)
		}
		if i > 0 && v <= prev {
			return dst, invalidInput("value %d at index %d not greater than %d", v, i, prev)
		}
		gaps[i] = v - prev
		prev = v
	}
	return d.next.Encode(dst, gaps)
}

func (d *DGap) Decoder() Decoder { return &DGapDecoder{next: d.next.Decoder()} }

func (d *DGap) String() string { return "DGap(" + d.next.String() + ")" }

// DGapDecoder restores absolute values from the gaps its inner decoder
// produces.
type DGapDecoder struct {
	next Decoder
}

func (d *DGapDecoder) Decode(dst []int32, buf []byte) ([]int32, error) {
	start := len(dst)
	dst, err := d.next.Decode(dst, buf)
	if err != nil {
		return dst, err
	}
	var prev int64
	for i := start; i < len(dst); i++ {
		prev += int64(dst[i])
		if prev > math.MaxInt32 {
			return dst, corrupt("accumulated value %d overflows int32", prev)
		}
		dst[i] = int32(prev)
	}
	return dst, nil
}

func (d *DGapDecoder) String() string { return "DGap(" + d.next.String() + ")" }

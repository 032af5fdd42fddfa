// Package intcodec encodes sets of non-negative ordinals into compact byte
// payloads and decodes them back.
//
// Encoders compose as filters: Sorting and Unique reshape the input before
// handing it to the next encoder, and DGap replaces values with their gaps.
// The usual chain is Sorting(Unique(DGapVInt8)), which is what Default
// returns. Every encoder knows the decoder that reverses it.
package intcodec

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// Encoder appends the encoding of values to dst.
type Encoder interface {
	Encode(dst []byte, values []int32) ([]byte, error)
	Decoder() Decoder
	String() string
}

// Decoder appends the values decoded from buf to dst. It never reads past
// len(buf) and fails with ErrCorruptData on malformed input.
type Decoder interface {
	Decode(dst []int32, buf []byte) ([]int32, error)
	String() string
}

// Default returns the sorting, deduplicating, gap-encoding varint chain.
func Default() Encoder {
	return NewSorting(NewUnique(DGapVInt8{}))
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrCorruptData, fmt.Sprintf(format, args...))
}

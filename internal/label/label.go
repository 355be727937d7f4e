// Package label encodes display names into the fixed 32-byte slots used by
// stream and treasury records.
package label

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Size is the byte width of an encoded name.
const Size = 32

// ErrTooLong is returned when a name needs more than Size bytes.
var ErrTooLong = errors.New("the string length is larger than 32 bytes")

// Encode NFC-normalizes name and right-pads it with spaces.
func Encode(name string) ([Size]byte, error) {
	var out [Size]byte
	normalized := norm.NFC.String(name)
	if len(normalized) > Size {
		return out, ErrTooLong
	}
	for i := range out {
		out[i] = ' '
	}
	copy(out[:], normalized)
	return out, nil
}

// Decode trims the padding added by Encode.
func Decode(b [Size]byte) string {
	return strings.TrimRight(string(b[:]), " \x00")
}

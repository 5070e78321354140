package mappings

import "fmt"

// Base64 alphabet used for VLQ digits in the mappings field.
const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// charToInt maps an ASCII character to its 6-bit digit, or -1 if the
// character is not part of the alphabet.
var charToInt [128]int8

func init() {
	for i := range charToInt {
		charToInt[i] = -1
	}
	for i := 0; i < len(base64Alphabet); i++ {
		charToInt[base64Alphabet[i]] = int8(i)
	}
}

const (
	vlqBaseShift       = 5
	vlqBase            = 1 << vlqBaseShift // 32
	vlqBaseMask        = vlqBase - 1       // 31
	vlqContinuationBit = vlqBase           // 32
	vlqSignBit         = 1

	// A 32-bit value needs at most 7 digits.
	vlqMaxShift = 35
	vlqMaxValue = 1<<32 - 1
)

// EncodeVLQ appends the Base64-VLQ representation of value to buf.
//
// The sign is stored in the lowest bit of the first digit, the magnitude in
// the remaining bits, least significant group first.
func EncodeVLQ(buf []byte, value int) []byte {
	var vlq uint64
	if value < 0 {
		vlq = uint64(-value)<<1 | vlqSignBit
	} else {
		vlq = uint64(value) << 1
	}

	for {
		digit := vlq & vlqBaseMask
		vlq >>= vlqBaseShift
		if vlq > 0 {
			digit |= vlqContinuationBit
		}
		buf = append(buf, base64Alphabet[digit])
		if vlq == 0 {
			return buf
		}
	}
}

// DecodeVLQ decodes one Base64-VLQ integer starting at s[pos] and returns the
// value along with the position right after it.
func DecodeVLQ(s string, pos int) (value int, next int, err error) {
	var vlq uint64
	var shift uint
	start := pos
	for {
		if pos >= len(s) {
			return 0, pos, &MalformedMappingError{Offset: start, Reason: "unterminated VLQ sequence"}
		}
		c := s[pos]
		if c >= 128 || charToInt[c] < 0 {
			return 0, pos, &MalformedMappingError{Offset: pos, Char: rune(c), Reason: fmt.Sprintf("invalid base64 character %q", c)}
		}
		digit := uint64(charToInt[c])
		pos++

		vlq |= (digit & vlqBaseMask) << shift
		shift += vlqBaseShift
		if digit&vlqContinuationBit == 0 {
			break
		}
		if shift >= vlqMaxShift {
			return 0, pos, &MalformedMappingError{Offset: start, Reason: "VLQ value overflows 32 bits"}
		}
	}
	if vlq > vlqMaxValue {
		return 0, pos, &MalformedMappingError{Offset: start, Reason: "VLQ value overflows 32 bits"}
	}

	negative := vlq&vlqSignBit != 0
	value = int(vlq >> 1)
	if negative {
		value = -value
	}
	return value, pos, nil
}

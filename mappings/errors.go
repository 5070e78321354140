package mappings

import "fmt"

// MalformedMappingError is returned when a mappings string can't be decoded:
// a character outside the Base64 alphabet, a continuation digit without a
// terminating digit, a segment with a field count other than 1, 4 or 5, or a
// value that doesn't fit into 32 bits.
type MalformedMappingError struct {
	Offset int    // Byte offset into the mappings string.
	Char   rune   // Offending character, zero if not applicable.
	Reason string // Human readable description.
}

func (e *MalformedMappingError) Error() string {
	return fmt.Sprintf("malformed mappings at offset %d: %s", e.Offset, e.Reason)
}

package sourcemapx

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// A magic byte in the generated code output that indicates a beginning of a
// source map hint.
const HintMagic byte = '\b'

// Payload type flags.
const (
	flagPosition   byte = 1
	flagIdentifier byte = 2
	flagUnmapped   byte = 3
)

// Position is a location in an original source. Line is 1-based, Column is
// 0-based, matching genmapping.Position.
type Position struct {
	Source string
	Line   int
	Column int
}

// EncodeHint returns the position encoded as an inline hint.
func (p Position) EncodeHint() string { return encodeHint(p) }

// Identifier is a generated identifier standing for an original one, such as
// a template expression `msg` compiled to `_ctx.msg`.
type Identifier struct {
	Name         string   // Identifier in the generated code.
	OriginalName string   // Identifier in the original source.
	Original     Position // Where the original identifier is.
}

// String returns the generated identifier.
func (i Identifier) String() string {
	return i.Name
}

// EncodeHint returns the identifier encoded as an inline hint, for use right
// before the generated name.
func (i Identifier) EncodeHint() string { return encodeHint(i) }

// Unmapped marks generated code that has no original location, such as
// runtime helper calls.
type Unmapped struct{}

// EncodeHint returns the marker encoded as an inline hint.
func (u Unmapped) EncodeHint() string { return encodeHint(u) }

func encodeHint(value any) string {
	buf := &strings.Builder{}
	h := Hint{}
	if err := h.Pack(value); err != nil {
		panic(fmt.Errorf("failed to pack source map hint: %w", err))
	}
	if _, err := h.WriteTo(buf); err != nil {
		panic(fmt.Errorf("failed to write source map hint into a buffer: %w", err))
	}
	return buf.String()
}

// Hint is a container for a source map hint that can be embedded into the
// generated code stream.
//
// Within the stream, the hint is encoded in the following binary format:
//   - magic: 0x08, ASCII backspace;
//   - size: 16 bit, big endian unsigned int, the size of the payload;
//   - payload: [size]byte, a type flag followed by the gob encoded value.
type Hint struct {
	Payload []byte
}

// FindHint returns the lowest index in the byte slice where a Hint is
// embedded or -1 if it isn't found. If FindHint(b) != -1 then
// b[FindHint(b)] == '\b'.
func FindHint(b []byte) int {
	return bytes.IndexByte(b, HintMagic)
}

// ReadHint reads the Hint from the beginning of the byte slice and returns
// the hint and the number of bytes in the slice it occupies. The caller is
// expected to find the location of the hint using FindHint first.
//
// Returned hint payload does not share backing array with b.
//
// Function panics if:
//   - b[0] != '\b'
//   - len(b) < size + 3
func ReadHint(b []byte) (h Hint, length int) {
	if len(b) < 3 {
		panic(fmt.Errorf("byte slice too short to contain hint header: len(b) = %d", len(b)))
	}
	if b[0] != HintMagic {
		panic(fmt.Errorf("byte slice doesn't start with magic 0x%x: b[0] = 0x%x", HintMagic, b[0]))
	}
	size := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < size+3 {
		panic(fmt.Errorf("byte slice too short to contain hint payload: len(b) = %d, expected hint size: %d", len(b), size+3))
	}

	h.Payload = make([]byte, size)
	copy(h.Payload, b[3:])
	return h, size + 3
}

// WriteTo writes the encoded hint into the output stream. Panics if payload is
// longer than 0xFFFF bytes.
func (h *Hint) WriteTo(w io.Writer) (int64, error) {
	if len(h.Payload) > 0xFFFF {
		panic(fmt.Errorf("hint payload may not be longer than %d bytes, got: %d", 0xFFFF, len(h.Payload)))
	}
	encoded := []byte{HintMagic}
	encoded = binary.BigEndian.AppendUint16(encoded, uint16(len(h.Payload)))
	encoded = append(encoded, h.Payload...)

	n, err := w.Write(encoded)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write hint: %w", err)
	}
	return int64(n), nil
}

// Pack the given value into hint's payload. Supported types are Position,
// Identifier and Unmapped.
func (h *Hint) Pack(value any) error {
	payload := &bytes.Buffer{}
	switch value.(type) {
	case Position:
		payload.WriteByte(flagPosition)
	case Identifier:
		payload.WriteByte(flagIdentifier)
	case Unmapped:
		// Nothing to encode beyond the flag.
		h.Payload = []byte{flagUnmapped}
		return nil
	default:
		return fmt.Errorf("unsupported hint payload type %T", value)
	}

	if err := gob.NewEncoder(payload).Encode(value); err != nil {
		return fmt.Errorf("failed to encode hint payload: %w", err)
	}
	h.Payload = payload.Bytes()
	return nil
}

// Unpack and return hint's payload, previously packed by Pack().
func (h *Hint) Unpack() (any, error) {
	if len(h.Payload) < 1 {
		return nil, fmt.Errorf("payload is too short to contain type flag")
	}
	var value any
	switch h.Payload[0] {
	case flagPosition:
		value = &Position{}
	case flagIdentifier:
		value = &Identifier{}
	case flagUnmapped:
		return Unmapped{}, nil
	default:
		return nil, fmt.Errorf("unsupported hint payload type flag: %d", h.Payload[0])
	}
	if err := gob.NewDecoder(bytes.NewReader(h.Payload[1:])).Decode(value); err != nil {
		return nil, fmt.Errorf("failed to decode hint payload as %T: %w", value, err)
	}
	return reflect.ValueOf(value).Elem().Interface(), nil
}

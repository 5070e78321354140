package sourcemapx

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/sfcmap/sfcmap/genmapping"
)

// MappingCallback receives a hint found at a generated position. Line is
// 1-based and column is 0-based. For Unmapped hints original is the zero
// Position.
type MappingCallback func(generatedLine, generatedColumn int, original Position, name string) error

// Filter implements io.Writer which extracts source map hints from the written
// stream and passes them to the MappingCallback if it's not nil. Encoded hints
// are always filtered out of the output stream.
//
// A hint must not be split between two Write calls.
type Filter struct {
	Writer          io.Writer
	MappingCallback MappingCallback

	line   int
	column int
}

func (f *Filter) Write(p []byte) (n int, err error) {
	var n2 int
	for {
		i := FindHint(p)
		w := p
		if i != -1 {
			w = p[:i]
		}

		n2, err = f.Writer.Write(w)
		n += n2
		f.advance(w)

		if err != nil || i == -1 {
			return n, err
		}
		h, length := ReadHint(p[i:])
		if f.MappingCallback != nil {
			if err := f.report(h); err != nil {
				return n, err
			}
		}
		p = p[i+length:]
		n += length
	}
}

func (f *Filter) advance(w []byte) {
	for {
		i := bytes.IndexByte(w, '\n')
		if i == -1 {
			f.column += len(w)
			return
		}
		f.line++
		f.column = 0
		w = w[i+1:]
	}
}

func (f *Filter) report(h Hint) error {
	value, err := h.Unpack()
	if err != nil {
		return fmt.Errorf("failed to unpack source map hint at %d:%d: %w", f.line+1, f.column, err)
	}
	switch value := value.(type) {
	case Position:
		return f.MappingCallback(f.line+1, f.column, value, "")
	case Identifier:
		return f.MappingCallback(f.line+1, f.column, value.Original, value.OriginalName)
	case Unmapped:
		return f.MappingCallback(f.line+1, f.column, Position{}, "")
	default:
		return fmt.Errorf("unexpected source map hint type: %T", value)
	}
}

// Recorder returns a MappingCallback that adds every reported hint to g.
// Unmapped hints and positions without a source become sourceless segments.
func Recorder(g *genmapping.GenMapping) MappingCallback {
	return func(generatedLine, generatedColumn int, original Position, name string) error {
		m := genmapping.Mapping{
			Generated: genmapping.Position{Line: generatedLine, Column: generatedColumn},
		}
		if original.Source != "" {
			m.Source = original.Source
			m.Original = genmapping.Position{Line: original.Line, Column: original.Column}
			m.Name = name
		}
		return g.AddMapping(m)
	}
}

// Extract removes the hints from code, recording them into g, and returns the
// plain code.
func Extract(code string, g *genmapping.GenMapping) (plain string, err error) {
	defer func() {
		// ReadHint panics on a truncated hint.
		if r := recover(); r != nil {
			plain, err = "", fmt.Errorf("malformed source map hint: %v", r)
		}
	}()
	out := &bytes.Buffer{}
	f := &Filter{Writer: out, MappingCallback: Recorder(g)}
	if _, err := io.WriteString(f, code); err != nil {
		return "", err
	}
	return out.String(), nil
}

// HasHints reports whether code carries any inline hints.
func HasHints(code string) bool {
	return strings.IndexByte(code, HintMagic) != -1
}

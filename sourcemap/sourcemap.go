// Package sourcemap defines the Source Map v3 document in its two shapes: with
// Base64-VLQ encoded mappings (the wire format) and with decoded mappings.
//
// See https://sourcemaps.info/spec.html
package sourcemap

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sfcmap/sfcmap/mappings"
)

// Version is the only source map version this package produces.
const Version = 3

// Header holds the fields shared by the encoded and the decoded forms.
//
// Sources entries may be null in JSON, they are read as empty strings.
// SourcesContent entries are nil when the content of that source is unknown.
type Header struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
}

// Meta returns the header itself, which makes both map shapes satisfy
// SourceMap.
func (h *Header) Meta() *Header { return h }

// Content returns the content of the i-th source, if known.
func (h *Header) Content(i int) (string, bool) {
	if i < 0 || i >= len(h.SourcesContent) || h.SourcesContent[i] == nil {
		return "", false
	}
	return *h.SourcesContent[i], true
}

// SourceMap is implemented by *Map and *DecodedMap.
type SourceMap interface {
	Meta() *Header
}

// Map is a source map with encoded mappings, as stored in .map files.
type Map struct {
	Header
	Mappings string `json:"mappings"`
}

// DecodedMap is a source map with mappings in the decoded form.
type DecodedMap struct {
	Header
	Mappings mappings.Table `json:"mappings"`
}

var (
	_ SourceMap = (*Map)(nil)
	_ SourceMap = (*DecodedMap)(nil)
)

// String returns a pointer to s, for use in SourcesContent.
func String(s string) *string { return &s }

// JSON returns the map serialized as JSON.
func (m *Map) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// DataURL returns the map as a base64 data URL for inline embedding.
func (m *Map) DataURL() (string, error) {
	data, err := m.JSON()
	if err != nil {
		return "", err
	}
	return "data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Comment returns the sourceMappingURL comment to append to generated code.
func Comment(url string) string {
	return "//# sourceMappingURL=" + url
}

// Validate checks that the fields required to interpret a map are present.
// For a *DecodedMap it also checks the shape of every segment and that its
// source and name indices are in range.
func Validate(m SourceMap) error {
	h := m.Meta()
	if h.Version == 0 {
		return &InvalidSourceMapError{Field: "version", Reason: "missing"}
	}
	if h.Sources == nil {
		return &InvalidSourceMapError{Field: "sources", Reason: "missing"}
	}
	if d, ok := m.(*DecodedMap); ok {
		if d.Mappings == nil {
			return &InvalidSourceMapError{Field: "mappings", Reason: "missing"}
		}
		return validateTable(d.Mappings, len(h.Sources), len(h.Names))
	}
	return nil
}

func validateTable(table mappings.Table, sources, names int) error {
	for i, line := range table {
		for j, seg := range line {
			at := fmt.Sprintf("segment %d of line %d", j+1, i+1)
			if n := len(seg); n != 1 && n != 4 && n != 5 {
				return &InvalidSourceMapError{Field: "mappings", Reason: fmt.Sprintf("%s has %d fields, want 1, 4 or 5", at, n)}
			}
			if seg.HasSource() {
				if k := seg[mappings.SourceIndex]; k < 0 || k >= sources {
					return &InvalidSourceMapError{Field: "mappings", Reason: fmt.Sprintf("%s: source index %d out of range", at, k)}
				}
			}
			if seg.HasName() {
				if k := seg[mappings.NameIndex]; k < 0 || k >= names {
					return &InvalidSourceMapError{Field: "mappings", Reason: fmt.Sprintf("%s: name index %d out of range", at, k)}
				}
			}
		}
	}
	return nil
}

// rawMap tracks field presence while parsing JSON text.
type rawMap struct {
	Version        json.RawMessage `json:"version"`
	File           string          `json:"file"`
	SourceRoot     string          `json:"sourceRoot"`
	Sources        *[]string       `json:"sources"`
	SourcesContent []*string       `json:"sourcesContent"`
	Names          []string        `json:"names"`
	Mappings       json.RawMessage `json:"mappings"`
}

// Parse decodes a source map from JSON text. The result is a *Map when the
// mappings field is a string and a *DecodedMap when it is an array of lines.
func Parse(data []byte) (SourceMap, error) {
	var raw rawMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse source map JSON: %w", err)
	}

	version, err := parseVersion(raw.Version)
	if err != nil {
		return nil, err
	}
	if raw.Sources == nil {
		return nil, &InvalidSourceMapError{Field: "sources", Reason: "missing"}
	}
	names := raw.Names
	if names == nil {
		names = []string{}
	}
	header := Header{
		Version:        version,
		File:           raw.File,
		SourceRoot:     raw.SourceRoot,
		Sources:        *raw.Sources,
		SourcesContent: raw.SourcesContent,
		Names:          names,
	}

	mappingsJSON := bytes.TrimSpace(raw.Mappings)
	switch {
	case len(mappingsJSON) == 0 || bytes.Equal(mappingsJSON, []byte("null")):
		return nil, &InvalidSourceMapError{Field: "mappings", Reason: "missing"}
	case mappingsJSON[0] == '"':
		m := &Map{Header: header}
		if err := json.Unmarshal(mappingsJSON, &m.Mappings); err != nil {
			return nil, &InvalidSourceMapError{Field: "mappings", Reason: err.Error()}
		}
		return m, nil
	case mappingsJSON[0] == '[':
		m := &DecodedMap{Header: header}
		if err := json.Unmarshal(mappingsJSON, &m.Mappings); err != nil {
			return nil, &InvalidSourceMapError{Field: "mappings", Reason: err.Error()}
		}
		if m.Mappings == nil {
			m.Mappings = mappings.Table{}
		}
		return m, nil
	default:
		return nil, &InvalidSourceMapError{Field: "mappings", Reason: "must be a string or an array"}
	}
}

// parseVersion accepts both 3 and "3": some compilers declare the version
// as a string.
func parseVersion(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, &InvalidSourceMapError{Field: "version", Reason: "missing"}
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, &InvalidSourceMapError{Field: "version", Reason: err.Error()}
		}
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, &InvalidSourceMapError{Field: "version", Reason: fmt.Sprintf("not a number: %s", raw)}
	}
	return v, nil
}

// InvalidSourceMapError is returned when a source map lacks a required field
// or a field has the wrong type.
type InvalidSourceMapError struct {
	Field  string
	Reason string
}

func (e *InvalidSourceMapError) Error() string {
	return fmt.Sprintf("invalid source map: %s: %s", e.Field, e.Reason)
}

// Package tracemap provides a read-only view of an existing source map with
// sources resolved to their final locations and lazily decoded mappings.
package tracemap

import (
	"fmt"

	"github.com/sfcmap/sfcmap/mappings"
	"github.com/sfcmap/sfcmap/sourcemap"
	"github.com/sfcmap/sfcmap/urlresolve"
)

// TraceMap is a parsed source map.
//
// A TraceMap is not safe for concurrent use: decoding and lookups memoize
// state on the instance.
type TraceMap struct {
	Version        int
	File           string
	SourceRoot     string
	Sources        []string
	SourcesContent []*string
	Names          []string

	// ResolvedSources[i] is Sources[i] resolved against the source root and
	// the directory of the map URL.
	ResolvedSources []string

	encoded   string
	decoded   mappings.Table
	decodeErr error
	isDecoded bool

	memo lookupMemo
}

// New creates a TraceMap from one of:
//
//   - *TraceMap, returned unchanged;
//   - *sourcemap.Map or *sourcemap.DecodedMap;
//   - string or []byte with the JSON text of a map.
//
// mapURL is the location of the map file; relative sources are resolved
// against its directory. It may be empty.
func New(input any, mapURL string) (*TraceMap, error) {
	var (
		m     sourcemap.SourceMap
		owned bool
		err   error
	)
	switch v := input.(type) {
	case *TraceMap:
		return v, nil
	case string:
		m, err = sourcemap.Parse([]byte(v))
		owned = true
	case []byte:
		m, err = sourcemap.Parse(v)
		owned = true
	case *sourcemap.Map:
		m = v
	case *sourcemap.DecodedMap:
		m = v
	default:
		return nil, fmt.Errorf("unsupported source map input type %T", input)
	}
	if err != nil {
		return nil, err
	}
	if err := sourcemap.Validate(m); err != nil {
		return nil, err
	}

	h := m.Meta()
	t := &TraceMap{
		Version:         h.Version,
		File:            h.File,
		SourceRoot:      h.SourceRoot,
		Sources:         h.Sources,
		SourcesContent:  h.SourcesContent,
		Names:           h.Names,
		ResolvedSources: make([]string, len(h.Sources)),
	}

	from := urlresolve.ResolveDir(h.SourceRoot, urlresolve.StripFilename(mapURL))
	for i, s := range h.Sources {
		t.ResolvedSources[i] = urlresolve.ResolveDir(s, from)
	}

	switch v := m.(type) {
	case *sourcemap.Map:
		t.encoded = v.Mappings
	case *sourcemap.DecodedMap:
		// Nothing else would catch unsorted lines in an already decoded
		// table. Caller-owned tables are copied before sorting.
		t.decoded = mappings.Sort(v.Mappings, owned)
		t.isDecoded = true
	}
	t.memo = newLookupMemo()
	return t, nil
}

// Parse is a shorthand for New with JSON text.
func Parse(data []byte, mapURL string) (*TraceMap, error) {
	return New(data, mapURL)
}

// DecodedMappings returns the decoded mappings table, decoding the encoded
// form on the first call. The returned table is owned by the TraceMap.
func (t *TraceMap) DecodedMappings() (mappings.Table, error) {
	if !t.isDecoded {
		t.decoded, t.decodeErr = mappings.Decode(t.encoded)
		t.isDecoded = true
	}
	return t.decoded, t.decodeErr
}

// EncodedMappings returns the mappings string, encoding the decoded form if
// the map was constructed from one.
func (t *TraceMap) EncodedMappings() (string, error) {
	if t.encoded != "" || !t.isDecoded {
		return t.encoded, nil
	}
	if t.decodeErr != nil {
		return "", t.decodeErr
	}
	return mappings.Encode(t.decoded), nil
}

// Mapping is one segment of the map in the form used by the source-map
// library ecosystem: 1-based lines, 0-based columns, resolved source paths.
//
// When HasSource is false the segment is generated code without an origin,
// and the original position fields are zero.
type Mapping struct {
	GeneratedLine   int
	GeneratedColumn int
	HasSource       bool
	Source          string
	OriginalLine    int
	OriginalColumn  int
	Name            string
}

// EachMapping calls fn for every segment in generated position order.
func (t *TraceMap) EachMapping(fn func(Mapping)) error {
	decoded, err := t.DecodedMappings()
	if err != nil {
		return err
	}
	for i, line := range decoded {
		for _, seg := range line {
			m := Mapping{
				GeneratedLine:   i + 1,
				GeneratedColumn: seg[mappings.Column],
			}
			if seg.HasSource() {
				m.HasSource = true
				m.Source = t.source(seg[mappings.SourceIndex])
				m.OriginalLine = seg[mappings.SourceLine] + 1
				m.OriginalColumn = seg[mappings.SourceColumn]
			}
			if seg.HasName() {
				m.Name = t.name(seg[mappings.NameIndex])
			}
			fn(m)
		}
	}
	return nil
}

func (t *TraceMap) source(i int) string {
	if i < 0 || i >= len(t.ResolvedSources) {
		return ""
	}
	return t.ResolvedSources[i]
}

func (t *TraceMap) name(i int) string {
	if i < 0 || i >= len(t.Names) {
		return ""
	}
	return t.Names[i]
}

// Content returns the content for a resolved source path, if the map carries
// it.
func (t *TraceMap) Content(resolved string) (string, bool) {
	for i, s := range t.ResolvedSources {
		if s == resolved {
			h := sourcemap.Header{SourcesContent: t.SourcesContent}
			return h.Content(i)
		}
	}
	return "", false
}

// Package genmapping builds source maps incrementally: mappings may be added in
// any order and the builder keeps every generated line sorted by column.
package genmapping

import (
	"fmt"

	"github.com/sfcmap/sfcmap/internal/setarray"
	"github.com/sfcmap/sfcmap/mappings"
	"github.com/sfcmap/sfcmap/sourcemap"
	"github.com/sfcmap/sfcmap/tracemap"
)

// NoName is the name index used when comparing an unnamed segment.
const NoName = -1

// Position is a location in a file. Line is 1-based, Column is 0-based.
type Position struct {
	Line   int
	Column int
}

// Mapping relates a generated position to an original one.
//
// An empty Source describes generated code with no origin; Original and Name
// are ignored then. Content is the source's content, recorded the first time
// the source is seen.
type Mapping struct {
	Generated Position
	Source    string
	Original  Position
	Name      string
	Content   *string
}

// Options configures a new GenMapping.
type Options struct {
	File       string
	SourceRoot string
}

// GenMapping is a source map under construction. It's not safe for concurrent
// use.
type GenMapping struct {
	file       string
	sourceRoot string

	names          setarray.SetArray
	sources        setarray.SetArray
	sourcesContent []*string
	mappings       mappings.Table
}

// New returns an empty builder.
func New(opts Options) *GenMapping {
	return &GenMapping{
		file:       opts.File,
		sourceRoot: opts.SourceRoot,
	}
}

// FromMap returns a builder seeded with the contents of an existing map. The
// input is anything tracemap.New accepts. Sources and names keep their
// indexes, and the mappings are copied so that later additions never touch
// the input.
func FromMap(input any) (*GenMapping, error) {
	tm, err := tracemap.New(input, "")
	if err != nil {
		return nil, err
	}
	decoded, err := tm.DecodedMappings()
	if err != nil {
		return nil, fmt.Errorf("failed to decode mappings of %q: %w", tm.File, err)
	}

	g := New(Options{File: tm.File, SourceRoot: tm.SourceRoot})
	g.names.Reset(tm.Names)
	g.sources.Reset(tm.Sources)
	g.sourcesContent = make([]*string, len(tm.Sources))
	copy(g.sourcesContent, tm.SourcesContent)
	g.mappings = decoded.Clone()
	return g, nil
}

// AddMapping records m.
func (g *GenMapping) AddMapping(m Mapping) error {
	return g.add(false, m)
}

// MaybeAddMapping records m unless it adds no information: a sourceless
// segment at the start of a line or right after another sourceless segment,
// or a segment identical in source, original position and name to the one
// before it.
func (g *GenMapping) MaybeAddMapping(m Mapping) error {
	return g.add(true, m)
}

func (g *GenMapping) add(skippable bool, m Mapping) error {
	if m.Generated.Line < 1 || m.Generated.Column < 0 {
		return fmt.Errorf("invalid generated position %d:%d", m.Generated.Line, m.Generated.Column)
	}
	if m.Source != "" && (m.Original.Line < 1 || m.Original.Column < 0) {
		return fmt.Errorf("invalid original position %d:%d in %q", m.Original.Line, m.Original.Column, m.Source)
	}

	lineIdx := m.Generated.Line - 1
	for len(g.mappings) <= lineIdx {
		g.mappings = append(g.mappings, mappings.Line{})
	}
	line := g.mappings[lineIdx]
	column := m.Generated.Column
	index := columnIndex(line, column)

	if m.Source == "" {
		if skippable && skipSourceless(line, index) {
			return nil
		}
		g.mappings[lineIdx] = insert(line, index, mappings.Segment{column})
		return nil
	}

	sourceIdx := g.sources.Put(m.Source)
	nameIdx := NoName
	if m.Name != "" {
		nameIdx = g.names.Put(m.Name)
	}
	if sourceIdx == len(g.sourcesContent) {
		g.sourcesContent = append(g.sourcesContent, m.Content)
	}

	origLine, origColumn := m.Original.Line-1, m.Original.Column
	if skippable && skipSource(line, index, sourceIdx, origLine, origColumn, nameIdx) {
		return nil
	}
	seg := mappings.Segment{column, sourceIdx, origLine, origColumn}
	if nameIdx != NoName {
		seg = append(seg, nameIdx)
	}
	g.mappings[lineIdx] = insert(line, index, seg)
	return nil
}

// columnIndex scans backwards for the insert position of column. Mappings
// usually arrive in order, so the scan stops at the first step. Equal columns
// insert after the existing ones.
func columnIndex(line mappings.Line, column int) int {
	index := len(line)
	for index > 0 && column < line[index-1][mappings.Column] {
		index--
	}
	return index
}

func insert(line mappings.Line, index int, seg mappings.Segment) mappings.Line {
	line = append(line, nil)
	copy(line[index+1:], line[index:])
	line[index] = seg
	return line
}

func skipSourceless(line mappings.Line, index int) bool {
	if index == 0 {
		return true
	}
	return len(line[index-1]) == 1
}

func skipSource(line mappings.Line, index, sourceIdx, origLine, origColumn, nameIdx int) bool {
	if index == 0 {
		return false
	}
	prev := line[index-1]
	if !prev.HasSource() {
		return false
	}
	prevName := NoName
	if prev.HasName() {
		prevName = prev[mappings.NameIndex]
	}
	return sourceIdx == prev[mappings.SourceIndex] &&
		origLine == prev[mappings.SourceLine] &&
		origColumn == prev[mappings.SourceColumn] &&
		nameIdx == prevName
}

// HasSource reports whether source is registered.
func (g *GenMapping) HasSource(source string) bool {
	_, ok := g.sources.Get(source)
	return ok
}

// SetSourceContent records the content of source, registering the source if
// it's new.
func (g *GenMapping) SetSourceContent(source string, content *string) {
	i := g.sources.Put(source)
	for len(g.sourcesContent) <= i {
		g.sourcesContent = append(g.sourcesContent, nil)
	}
	g.sourcesContent[i] = content
}

// ToDecodedMap returns the map with decoded mappings. Trailing empty lines
// are dropped. The result shares the mappings table with the builder.
func (g *GenMapping) ToDecodedMap() *sourcemap.DecodedMap {
	g.mappings = g.mappings.TrimTrailing()
	content := make([]*string, g.sources.Len())
	copy(content, g.sourcesContent)
	return &sourcemap.DecodedMap{
		Header: sourcemap.Header{
			Version:        sourcemap.Version,
			File:           g.file,
			SourceRoot:     g.sourceRoot,
			Sources:        g.sources.Values(),
			SourcesContent: content,
			Names:          g.names.Values(),
		},
		Mappings: g.mappings,
	}
}

// ToEncodedMap returns the map with VLQ encoded mappings.
func (g *GenMapping) ToEncodedMap() *sourcemap.Map {
	d := g.ToDecodedMap()
	return &sourcemap.Map{
		Header:   d.Header,
		Mappings: mappings.Encode(d.Mappings),
	}
}

// AllMappings returns every recorded mapping in generated order. Sources are
// reported as registered, without resolution against the source root.
func (g *GenMapping) AllMappings() []Mapping {
	sources := g.sources.Values()
	names := g.names.Values()
	var out []Mapping
	for i, line := range g.mappings {
		for _, seg := range line {
			m := Mapping{Generated: Position{Line: i + 1, Column: seg[mappings.Column]}}
			if seg.HasSource() {
				m.Source = at(sources, seg[mappings.SourceIndex])
				m.Original = Position{Line: seg[mappings.SourceLine] + 1, Column: seg[mappings.SourceColumn]}
				if seg.HasName() {
					m.Name = at(names, seg[mappings.NameIndex])
				}
			}
			out = append(out, m)
		}
	}
	return out
}

func at(values []string, i int) string {
	if i < 0 || i >= len(values) {
		return ""
	}
	return values[i]
}

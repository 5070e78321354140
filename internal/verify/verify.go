// Package verify cross-checks this module's mappings decoder against
// github.com/neelance/sourcemap, an independent implementation.
package verify

import (
	"fmt"
	"sort"

	nsm "github.com/neelance/sourcemap"

	"github.com/sfcmap/sfcmap/genmapping"
	"github.com/sfcmap/sfcmap/sourcemap"
)

// Segment is one decoded mapping in the shape both decoders can produce.
// Lines are 1-based, columns 0-based, Source is the raw sources entry.
type Segment struct {
	GeneratedLine   int
	GeneratedColumn int
	Source          string
	OriginalLine    int
	OriginalColumn  int
	Name            string
}

func (s Segment) String() string {
	if s.Source == "" {
		return fmt.Sprintf("%d:%d", s.GeneratedLine, s.GeneratedColumn)
	}
	str := fmt.Sprintf("%d:%d -> %s:%d:%d", s.GeneratedLine, s.GeneratedColumn, s.Source, s.OriginalLine, s.OriginalColumn)
	if s.Name != "" {
		str += " (" + s.Name + ")"
	}
	return str
}

// Mismatch is a position where the decoders disagree. A zero Segment stands
// for a segment missing on that side.
type Mismatch struct {
	Index  int
	Ours   Segment
	Theirs Segment
}

// Report summarizes a comparison.
type Report struct {
	Segments   int
	Mismatches []Mismatch
}

// OK reports whether both decoders agree on every segment.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

// Compare decodes m with both decoders and reports disagreements. An error
// is returned when either decoder rejects the map.
func Compare(m *sourcemap.Map) (*Report, error) {
	ours, err := decodeOurs(m)
	if err != nil {
		return nil, err
	}
	theirs, err := decodeTheirs(m)
	if err != nil {
		return nil, err
	}

	r := &Report{Segments: len(ours)}
	for i := 0; i < len(ours) || i < len(theirs); i++ {
		var a, b Segment
		if i < len(ours) {
			a = ours[i]
		}
		if i < len(theirs) {
			b = theirs[i]
		}
		if a != b {
			r.Mismatches = append(r.Mismatches, Mismatch{Index: i, Ours: a, Theirs: b})
		}
	}
	return r, nil
}

func decodeOurs(m *sourcemap.Map) ([]Segment, error) {
	g, err := genmapping.FromMap(m)
	if err != nil {
		return nil, err
	}
	all := g.AllMappings()
	out := make([]Segment, len(all))
	for i, mp := range all {
		out[i] = Segment{
			GeneratedLine:   mp.Generated.Line,
			GeneratedColumn: mp.Generated.Column,
			Source:          mp.Source,
			Name:            mp.Name,
		}
		if mp.Source != "" {
			out[i].OriginalLine = mp.Original.Line
			out[i].OriginalColumn = mp.Original.Column
		}
	}
	return out, nil
}

func decodeTheirs(m *sourcemap.Map) (segs []Segment, err error) {
	defer func() {
		// The reference decoder indexes sources and names without bounds
		// checks.
		if r := recover(); r != nil {
			segs, err = nil, fmt.Errorf("reference decoder failed: %v", r)
		}
	}()

	ref := &nsm.Map{
		Version:    m.Version,
		File:       m.File,
		SourceRoot: m.SourceRoot,
		Sources:    m.Sources,
		Names:      m.Names,
		Mappings:   m.Mappings,
	}
	decoded := ref.DecodedMappings()
	// The reference decoder keeps segments in stream order, ours sorts each
	// line by column.
	sort.SliceStable(decoded, func(i, j int) bool {
		a, b := decoded[i], decoded[j]
		return a.GeneratedLine < b.GeneratedLine ||
			(a.GeneratedLine == b.GeneratedLine && a.GeneratedColumn < b.GeneratedColumn)
	})
	segs = make([]Segment, len(decoded))
	for i, d := range decoded {
		segs[i] = Segment{
			GeneratedLine:   d.GeneratedLine,
			GeneratedColumn: d.GeneratedColumn,
			Source:          d.OriginalFile,
			OriginalLine:    d.OriginalLine,
			OriginalColumn:  d.OriginalColumn,
			Name:            d.OriginalName,
		}
	}
	return segs, nil
}

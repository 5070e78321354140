package tracemap

import (
	"sort"

	"github.com/sfcmap/sfcmap/mappings"
)

// Bias selects which segment a lookup returns when no segment starts exactly
// at the requested column.
type Bias int

const (
	// GreatestLowerBound picks the closest segment at or before the column.
	GreatestLowerBound Bias = iota
	// LeastUpperBound picks the closest segment at or after the column.
	LeastUpperBound
)

// lookupMemo remembers the last search so that walking a line left to right
// only searches the remaining segments.
type lookupMemo struct {
	line   int
	column int
	index  int
}

func newLookupMemo() lookupMemo {
	return lookupMemo{line: -1, column: -1, index: -1}
}

// OriginalPosition is the result of a lookup. Line is 1-based, Column is
// 0-based.
type OriginalPosition struct {
	Source string
	Line   int
	Column int
	Name   string
}

// OriginalPositionFor returns the original position of the generated position
// (line is 1-based, column is 0-based). ok is false when the position is out
// of range, no segment matches under bias, or the matching segment has no
// source.
func (t *TraceMap) OriginalPositionFor(line, column int, bias Bias) (pos OriginalPosition, ok bool, err error) {
	decoded, err := t.DecodedMappings()
	if err != nil {
		return OriginalPosition{}, false, err
	}
	line--
	if line < 0 || column < 0 || line >= len(decoded) {
		return OriginalPosition{}, false, nil
	}

	segs := decoded[line]
	index := t.search(segs, line, column, bias)
	if index < 0 {
		return OriginalPosition{}, false, nil
	}
	seg := segs[index]
	if !seg.HasSource() {
		return OriginalPosition{}, false, nil
	}
	pos = OriginalPosition{
		Source: t.source(seg[mappings.SourceIndex]),
		Line:   seg[mappings.SourceLine] + 1,
		Column: seg[mappings.SourceColumn],
	}
	if seg.HasName() {
		pos.Name = t.name(seg[mappings.NameIndex])
	}
	return pos, true, nil
}

// search returns the index of the segment matching column under bias, or -1.
// Among segments sharing the column, GreatestLowerBound picks the first and
// LeastUpperBound the last.
func (t *TraceMap) search(segs mappings.Line, line, column int, bias Bias) int {
	low := 0
	if t.memo.line == line && column >= t.memo.column && t.memo.index > 0 {
		low = t.memo.index
	}
	// last is the last segment starting at or before column.
	last := low + sort.Search(len(segs)-low, func(i int) bool {
		return segs[low+i][mappings.Column] > column
	}) - 1
	t.memo = lookupMemo{line: line, column: column, index: last}

	found := last >= 0 && segs[last][mappings.Column] == column
	switch {
	case found && bias == GreatestLowerBound:
		for last > 0 && segs[last-1][mappings.Column] == column {
			last--
		}
		return last
	case found:
		return last
	case bias == LeastUpperBound:
		last++
		if last == len(segs) {
			return -1
		}
		return last
	default:
		return last
	}
}

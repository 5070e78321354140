// Package mappings implements the decoded representation of the source map
// "mappings" field and its Base64-VLQ text encoding.
//
// The decoded form is a table of generated lines, each an ordered list of
// segments. A segment is one of:
//
//	[generatedColumn]
//	[generatedColumn, sourceIndex, sourceLine, sourceColumn]
//	[generatedColumn, sourceIndex, sourceLine, sourceColumn, nameIndex]
//
// All positions inside a segment are 0-based. In the text form every field is
// a delta against a running value: the generated column restarts at zero on
// every line, the other four fields carry over for the whole map.
package mappings

import (
	"sort"
	"strings"
)

// Segment field indices.
const (
	Column = iota
	SourceIndex
	SourceLine
	SourceColumn
	NameIndex
)

// Segment is a single position correspondence within a generated line.
type Segment []int

// HasSource reports whether the segment points into an original source.
func (s Segment) HasSource() bool { return len(s) >= 4 }

// HasName reports whether the segment carries a name index.
func (s Segment) HasName() bool { return len(s) >= 5 }

// Line is the list of segments of one generated line.
type Line []Segment

// Table is the decoded mappings, indexed by 0-based generated line.
type Table []Line

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for i, line := range t {
		out[i] = line.clone()
	}
	return out
}

func (l Line) clone() Line {
	out := make(Line, len(l))
	for j, seg := range l {
		out[j] = append(Segment(nil), seg...)
	}
	return out
}

// TrimTrailing drops empty lines at the end of the table.
func (t Table) TrimTrailing() Table {
	n := len(t)
	for n > 0 && len(t[n-1]) == 0 {
		n--
	}
	return t[:n]
}

// Decode parses a mappings string.
//
// Lines whose segments are not ordered by generated column are stable-sorted
// after decoding. An empty string decodes into a table with a single empty
// line, the same way each ';' separates two lines.
func Decode(text string) (Table, error) {
	var state [5]int
	table := make(Table, 0, strings.Count(text, ";")+1)

	for index := 0; index <= len(text); {
		semi := strings.IndexByte(text[index:], ';')
		if semi < 0 {
			semi = len(text)
		} else {
			semi += index
		}

		line := Line{}
		sorted := true
		lastCol := 0
		state[Column] = 0

		for i := index; i < semi; {
			if text[i] == ',' {
				i++
				continue
			}
			start := i
			fields := 0
			var values [5]int
			for i < semi && text[i] != ',' {
				if fields == len(values) {
					return nil, &MalformedMappingError{Offset: start, Reason: "segment has more than 5 fields"}
				}
				v, next, err := DecodeVLQ(text[:semi], i)
				if err != nil {
					return nil, err
				}
				state[fields] += v
				values[fields] = state[fields]
				fields++
				i = next
			}

			var seg Segment
			switch fields {
			case 1, 4, 5:
				seg = append(make(Segment, 0, fields), values[:fields]...)
			default:
				return nil, &MalformedMappingError{Offset: start, Reason: "segment must have 1, 4 or 5 fields"}
			}

			if seg[Column] < lastCol {
				sorted = false
			}
			lastCol = seg[Column]
			line = append(line, seg)
		}

		if !sorted {
			sortLine(line)
		}
		table = append(table, line)
		index = semi + 1
	}
	return table, nil
}

// Encode produces the mappings string for a table.
//
// Segments shorter than 4 fields are encoded as sourceless, fields past the
// fifth are ignored.
func Encode(table Table) string {
	var state [5]int
	var buf []byte

	for i, line := range table {
		if i > 0 {
			buf = append(buf, ';')
		}
		if len(line) == 0 {
			continue
		}
		state[Column] = 0
		for j, seg := range line {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = encodeField(buf, &state, seg, Column)
			if len(seg) < 4 {
				continue
			}
			buf = encodeField(buf, &state, seg, SourceIndex)
			buf = encodeField(buf, &state, seg, SourceLine)
			buf = encodeField(buf, &state, seg, SourceColumn)
			if len(seg) == 4 {
				continue
			}
			buf = encodeField(buf, &state, seg, NameIndex)
		}
	}
	return string(buf)
}

func encodeField(buf []byte, state *[5]int, seg Segment, field int) []byte {
	next := seg[field]
	delta := next - state[field]
	state[field] = next
	return EncodeVLQ(buf, delta)
}

// Sort repairs lines that are not ordered by generated column.
//
// When owned is false the table and any modified line are copied first, so
// that the caller's value is never mutated. Tables that are already sorted are
// returned as is.
func Sort(table Table, owned bool) Table {
	unsorted := nextUnsortedLine(table, 0)
	if unsorted == len(table) {
		return table
	}
	if !owned {
		table = append(Table(nil), table...)
	}
	for i := unsorted; i < len(table); i = nextUnsortedLine(table, i+1) {
		if !owned {
			table[i] = append(Line(nil), table[i]...)
		}
		sortLine(table[i])
	}
	return table
}

func nextUnsortedLine(table Table, start int) int {
	for i := start; i < len(table); i++ {
		if !isSorted(table[i]) {
			return i
		}
	}
	return len(table)
}

func isSorted(line Line) bool {
	for j := 1; j < len(line); j++ {
		if line[j][Column] < line[j-1][Column] {
			return false
		}
	}
	return true
}

func sortLine(line Line) {
	sort.SliceStable(line, func(a, b int) bool {
		return line[a][Column] < line[b][Column]
	})
}

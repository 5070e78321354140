package tracemap

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sfcmap/sfcmap/mappings"
	"github.com/sfcmap/sfcmap/sourcemap"
)

const testMapURL = "https://example.com/js/app.js.map"

// Generated line 1: col 0 -> a.ts 1:0, col 4 -> a.ts 1:4 "foo", col 9 sourceless.
// Generated line 2: col 0 -> b.ts 3:0, col 6 -> b.ts 3:6, col 6 -> a.ts 1:1.
const testMapJSON = `{
	"version": 3,
	"file": "app.js",
	"sourceRoot": "src",
	"sources": ["a.ts", "../b.ts"],
	"sourcesContent": ["let foo", null],
	"names": ["foo"],
	"mappings": "AAAA,IAAIA,K;ACEJ,MAAM,ADFL"
}`

func newTestMap(t *testing.T) *TraceMap {
	t.Helper()
	tm, err := New(testMapJSON, testMapURL)
	if err != nil {
		t.Fatalf("Got: New() returned error: %s. Want: no error.", err)
	}
	return tm
}

func TestNew(t *testing.T) {
	tm := newTestMap(t)
	want := []string{"https://example.com/js/src/a.ts", "https://example.com/js/b.ts"}
	if diff := cmp.Diff(want, tm.ResolvedSources); diff != "" {
		t.Errorf("ResolvedSources returned diff (-want,+got):\n%s", diff)
	}
	if tm.File != "app.js" || tm.SourceRoot != "src" {
		t.Errorf("Got: File %q, SourceRoot %q. Want: app.js, src.", tm.File, tm.SourceRoot)
	}
	if got, ok := tm.Content("https://example.com/js/src/a.ts"); !ok || got != "let foo" {
		t.Errorf("Got: Content() = %q, %v. Want: \"let foo\", true.", got, ok)
	}
	if _, ok := tm.Content("https://example.com/js/b.ts"); ok {
		t.Errorf("Got: content for b.ts. Want: unknown content.")
	}
}

func TestNewIdentity(t *testing.T) {
	tm := newTestMap(t)
	got, err := New(tm, "other.map")
	if err != nil {
		t.Fatalf("Got: New() returned error: %s. Want: no error.", err)
	}
	if got != tm {
		t.Errorf("Got: a new TraceMap. Want: the input returned unchanged.")
	}
}

func TestNewResolution(t *testing.T) {
	tests := []struct {
		descr  string
		root   string
		mapURL string
		source string
		want   string
	}{
		{descr: "no root no url", source: "a.ts", want: "a.ts"},
		{descr: "relative url", mapURL: "dist/app.js.map", source: "../src/a.ts", want: "src/a.ts"},
		{descr: "root without slash", root: "lib", mapURL: "/out/app.js.map", source: "a.ts", want: "/out/lib/a.ts"},
		{descr: "absolute source", root: "lib", mapURL: "/out/app.js.map", source: "/x/a.ts", want: "/x/a.ts"},
		{descr: "null source", source: "", want: ""},
		{descr: "null source with url", mapURL: "/out/app.js.map", source: "", want: "/out/"},
	}

	for _, test := range tests {
		t.Run(test.descr, func(t *testing.T) {
			m := &sourcemap.Map{
				Header: sourcemap.Header{
					Version:    3,
					SourceRoot: test.root,
					Sources:    []string{test.source},
					Names:      []string{},
				},
			}
			tm, err := New(m, test.mapURL)
			if err != nil {
				t.Fatalf("Got: New() returned error: %s. Want: no error.", err)
			}
			if got := tm.ResolvedSources[0]; got != test.want {
				t.Errorf("Got: resolved source %q. Want: %q.", got, test.want)
			}
		})
	}
}

func TestNewInvalid(t *testing.T) {
	var iErr *sourcemap.InvalidSourceMapError
	if _, err := New(`{"version":3,"mappings":""}`, ""); !errors.As(err, &iErr) {
		t.Errorf("Got: New() error %v. Want: *InvalidSourceMapError.", err)
	}
	if _, err := New(&sourcemap.DecodedMap{Header: sourcemap.Header{Version: 3, Sources: []string{}}}, ""); !errors.As(err, &iErr) {
		t.Errorf("Got: New() error %v. Want: *InvalidSourceMapError.", err)
	}
	if _, err := New(`{"version":3,"sources":["a.js"],"names":[],"mappings":[[[]]]}`, ""); !errors.As(err, &iErr) {
		t.Errorf("Got: New() error %v for an empty decoded segment. Want: *InvalidSourceMapError.", err)
	}
	if _, err := New(`{"version":3,"sources":["a.js"],"names":[],"mappings":[[[0,3,0,0]]]}`, ""); !errors.As(err, &iErr) {
		t.Errorf("Got: New() error %v for a dangling source index. Want: *InvalidSourceMapError.", err)
	}
	if _, err := New(42, ""); err == nil {
		t.Errorf("Got: no error for an int input. Want: an error.")
	}
}

func TestDecodedMappings(t *testing.T) {
	tm := newTestMap(t)
	want := mappings.Table{
		{{0, 0, 0, 0}, {4, 0, 0, 4, 0}, {9}},
		{{0, 1, 2, 0}, {6, 1, 2, 6}, {6, 0, 0, 1}},
	}
	got, err := tm.DecodedMappings()
	if err != nil {
		t.Fatalf("Got: DecodedMappings() returned error: %s. Want: no error.", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodedMappings() returned diff (-want,+got):\n%s", diff)
	}
	again, _ := tm.DecodedMappings()
	if &again[0] != &got[0] {
		t.Errorf("Got: mappings decoded twice. Want: the memoized table.")
	}
}

func TestDecodedMappingsMalformed(t *testing.T) {
	tm, err := New(`{"version":3,"sources":[],"mappings":"AA*A"}`, "")
	if err != nil {
		t.Fatalf("Got: New() returned error: %s. Want: decoding to be deferred.", err)
	}
	var mErr *mappings.MalformedMappingError
	if _, err := tm.DecodedMappings(); !errors.As(err, &mErr) {
		t.Errorf("Got: DecodedMappings() error %v. Want: *MalformedMappingError.", err)
	}
	if err := tm.EachMapping(func(Mapping) {}); !errors.As(err, &mErr) {
		t.Errorf("Got: EachMapping() error %v. Want: *MalformedMappingError.", err)
	}
}

func TestDecodedInputIsSorted(t *testing.T) {
	input := &sourcemap.DecodedMap{
		Header:   sourcemap.Header{Version: 3, Sources: []string{"a.ts"}, Names: []string{}},
		Mappings: mappings.Table{{{8, 0, 0, 8}, {2, 0, 0, 2}}},
	}
	tm, err := New(input, "")
	if err != nil {
		t.Fatalf("Got: New() returned error: %s. Want: no error.", err)
	}
	got, _ := tm.DecodedMappings()
	if diff := cmp.Diff(mappings.Table{{{2, 0, 0, 2}, {8, 0, 0, 8}}}, got); diff != "" {
		t.Errorf("DecodedMappings() returned diff (-want,+got):\n%s", diff)
	}
	if input.Mappings[0][0][0] != 8 {
		t.Errorf("Got: the caller's table was sorted in place. Want: it left untouched.")
	}

	text, err := tm.EncodedMappings()
	if err != nil || text != "EAAE,MAAM" {
		t.Errorf("Got: EncodedMappings() = %q, %v. Want: \"EAAE,MAAM\".", text, err)
	}
}

func TestEachMapping(t *testing.T) {
	tm := newTestMap(t)
	var got []Mapping
	if err := tm.EachMapping(func(m Mapping) { got = append(got, m) }); err != nil {
		t.Fatalf("Got: EachMapping() returned error: %s. Want: no error.", err)
	}
	a, b := "https://example.com/js/src/a.ts", "https://example.com/js/b.ts"
	want := []Mapping{
		{GeneratedLine: 1, GeneratedColumn: 0, HasSource: true, Source: a, OriginalLine: 1, OriginalColumn: 0},
		{GeneratedLine: 1, GeneratedColumn: 4, HasSource: true, Source: a, OriginalLine: 1, OriginalColumn: 4, Name: "foo"},
		{GeneratedLine: 1, GeneratedColumn: 9},
		{GeneratedLine: 2, GeneratedColumn: 0, HasSource: true, Source: b, OriginalLine: 3, OriginalColumn: 0},
		{GeneratedLine: 2, GeneratedColumn: 6, HasSource: true, Source: b, OriginalLine: 3, OriginalColumn: 6},
		{GeneratedLine: 2, GeneratedColumn: 6, HasSource: true, Source: a, OriginalLine: 1, OriginalColumn: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EachMapping() returned diff (-want,+got):\n%s", diff)
	}
}

type lookupTest struct {
	descr  string
	line   int
	column int
	bias   Bias
	want   OriginalPosition
	ok     bool
}

var lookupTests = []lookupTest{
	{descr: "exact", line: 1, column: 0, want: OriginalPosition{Source: "https://example.com/js/src/a.ts", Line: 1, Column: 0}, ok: true},
	{descr: "lower bound with name", line: 1, column: 5, want: OriginalPosition{Source: "https://example.com/js/src/a.ts", Line: 1, Column: 4, Name: "foo"}, ok: true},
	{descr: "upper bound", line: 1, column: 2, bias: LeastUpperBound, want: OriginalPosition{Source: "https://example.com/js/src/a.ts", Line: 1, Column: 4, Name: "foo"}, ok: true},
	{descr: "upper bound hits sourceless", line: 1, column: 5, bias: LeastUpperBound},
	{descr: "sourceless", line: 1, column: 9},
	{descr: "past the end", line: 1, column: 40},
	{descr: "duplicate column lower bound", line: 2, column: 6, want: OriginalPosition{Source: "https://example.com/js/b.ts", Line: 3, Column: 6}, ok: true},
	{descr: "duplicate column upper bound", line: 2, column: 6, bias: LeastUpperBound, want: OriginalPosition{Source: "https://example.com/js/src/a.ts", Line: 1, Column: 1}, ok: true},
	{descr: "between segments", line: 2, column: 3, want: OriginalPosition{Source: "https://example.com/js/b.ts", Line: 3, Column: 0}, ok: true},
	{descr: "upper bound past the end", line: 2, column: 7, bias: LeastUpperBound},
	{descr: "line out of range", line: 3, column: 0},
	{descr: "line zero", line: 0, column: 0},
}

func TestOriginalPositionFor(t *testing.T) {
	for _, test := range lookupTests {
		t.Run(test.descr, func(t *testing.T) {
			tm := newTestMap(t)
			checkLookup(t, tm, test)
		})
	}
}

// Lookups in any order on a shared map give the same answers as fresh maps.
func TestOriginalPositionForMemo(t *testing.T) {
	tm := newTestMap(t)
	for _, test := range lookupTests {
		checkLookup(t, tm, test)
	}
	for i := len(lookupTests) - 1; i >= 0; i-- {
		checkLookup(t, tm, lookupTests[i])
	}
	for _, col := range []int{0, 2, 4, 6, 8, 9, 12, 3, 1} {
		fresh := newTestMap(t)
		want, wantOK, _ := fresh.OriginalPositionFor(1, col, GreatestLowerBound)
		got, gotOK, _ := tm.OriginalPositionFor(1, col, GreatestLowerBound)
		if diff := cmp.Diff(want, got); diff != "" || wantOK != gotOK {
			t.Errorf("Column %d: memoized lookup returned diff (-want,+got):\n%s", col, diff)
		}
	}
}

func checkLookup(t *testing.T, tm *TraceMap, test lookupTest) {
	t.Helper()
	got, ok, err := tm.OriginalPositionFor(test.line, test.column, test.bias)
	if err != nil {
		t.Fatalf("Got: OriginalPositionFor() returned error: %s. Want: no error.", err)
	}
	if ok != test.ok {
		t.Errorf("%s: got ok=%v. Want: %v.", test.descr, ok, test.ok)
	}
	if diff := cmp.Diff(test.want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("%s: OriginalPositionFor() returned diff (-want,+got):\n%s", test.descr, diff)
	}
}

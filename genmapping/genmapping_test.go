package genmapping

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sfcmap/sfcmap/mappings"
	"github.com/sfcmap/sfcmap/sourcemap"
)

func TestAddMapping(t *testing.T) {
	g := New(Options{File: "out.js", SourceRoot: "src"})
	adds := []Mapping{
		{Generated: Position{Line: 1, Column: 4}, Source: "a.ts", Original: Position{Line: 1, Column: 4}, Name: "foo"},
		{Generated: Position{Line: 1, Column: 0}, Source: "a.ts", Original: Position{Line: 1, Column: 0}, Content: sourcemap.String("let foo")},
		{Generated: Position{Line: 3, Column: 2}, Source: "b.ts", Original: Position{Line: 7, Column: 1}},
		{Generated: Position{Line: 3, Column: 9}},
	}
	for _, m := range adds {
		if err := g.AddMapping(m); err != nil {
			t.Fatalf("Got: AddMapping(%+v) returned error: %s. Want: no error.", m, err)
		}
	}

	want := &sourcemap.DecodedMap{
		Header: sourcemap.Header{
			Version:        3,
			File:           "out.js",
			SourceRoot:     "src",
			Sources:        []string{"a.ts", "b.ts"},
			SourcesContent: []*string{nil, nil},
			Names:          []string{"foo"},
		},
		Mappings: mappings.Table{
			{{0, 0, 0, 0}, {4, 0, 0, 4, 0}},
			{},
			{{2, 1, 6, 1}, {9}},
		},
	}
	if diff := cmp.Diff(want, g.ToDecodedMap()); diff != "" {
		t.Errorf("ToDecodedMap() returned diff (-want,+got):\n%s", diff)
	}
}

// Content is only taken from the mapping that registers a source.
func TestAddMappingContent(t *testing.T) {
	g := New(Options{})
	g.AddMapping(Mapping{Generated: Position{Line: 1}, Source: "a.ts", Original: Position{Line: 1}, Content: sourcemap.String("first")})
	g.AddMapping(Mapping{Generated: Position{Line: 2}, Source: "a.ts", Original: Position{Line: 2}, Content: sourcemap.String("second")})
	got := g.ToDecodedMap().SourcesContent
	if diff := cmp.Diff([]*string{sourcemap.String("first")}, got); diff != "" {
		t.Errorf("SourcesContent returned diff (-want,+got):\n%s", diff)
	}

	g.SetSourceContent("a.ts", sourcemap.String("set"))
	g.SetSourceContent("b.ts", sourcemap.String("b"))
	d := g.ToDecodedMap()
	if diff := cmp.Diff([]*string{sourcemap.String("set"), sourcemap.String("b")}, d.SourcesContent); diff != "" {
		t.Errorf("SourcesContent returned diff (-want,+got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.ts", "b.ts"}, d.Sources); diff != "" {
		t.Errorf("Sources returned diff (-want,+got):\n%s", diff)
	}
}

func TestAddMappingInvalid(t *testing.T) {
	g := New(Options{})
	invalid := []Mapping{
		{Generated: Position{Line: 0, Column: 0}},
		{Generated: Position{Line: 1, Column: -1}},
		{Generated: Position{Line: 1}, Source: "a.ts", Original: Position{Line: 0}},
	}
	for _, m := range invalid {
		if err := g.AddMapping(m); err == nil {
			t.Errorf("Got: no error for AddMapping(%+v). Want: an error.", m)
		}
	}
	if got := g.AllMappings(); len(got) != 0 {
		t.Errorf("Got: %d mappings recorded. Want: none.", len(got))
	}
}

// However mappings are inserted, each line ends up sorted by column and equal
// columns keep their insertion order.
func TestSegmentOrder(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for run := 0; run < 20; run++ {
		g := New(Options{})
		for i := 0; i < 200; i++ {
			err := g.AddMapping(Mapping{
				Generated: Position{Line: r.Intn(5) + 1, Column: r.Intn(30)},
				Source:    "a.ts",
				Original:  Position{Line: i + 1, Column: 0},
			})
			if err != nil {
				t.Fatalf("Got: AddMapping() returned error: %s. Want: no error.", err)
			}
		}
		for l, line := range g.ToDecodedMap().Mappings {
			for i := 1; i < len(line); i++ {
				prev, cur := line[i-1], line[i]
				if prev[mappings.Column] > cur[mappings.Column] {
					t.Fatalf("Run %d, line %d: column %d before %d.", run, l, prev[mappings.Column], cur[mappings.Column])
				}
				if prev[mappings.Column] == cur[mappings.Column] && prev[mappings.SourceLine] > cur[mappings.SourceLine] {
					t.Fatalf("Run %d, line %d: equal columns out of insertion order.", run, l)
				}
			}
		}
	}
}

func TestMaybeAddMapping(t *testing.T) {
	tests := []struct {
		descr string
		adds  []Mapping
		want  mappings.Table
	}{{
		descr: "sourceless at line start",
		adds:  []Mapping{{Generated: Position{Line: 1, Column: 0}}},
		want:  mappings.Table{},
	}, {
		descr: "sourceless after sourceless",
		adds: []Mapping{
			{Generated: Position{Line: 1, Column: 0}, Source: "a.ts", Original: Position{Line: 1}},
			{Generated: Position{Line: 1, Column: 3}},
			{Generated: Position{Line: 1, Column: 5}},
		},
		want: mappings.Table{{{0, 0, 0, 0}, {3}}},
	}, {
		descr: "repeated source position",
		adds: []Mapping{
			{Generated: Position{Line: 1, Column: 0}, Source: "a.ts", Original: Position{Line: 2, Column: 1}},
			{Generated: Position{Line: 1, Column: 4}, Source: "a.ts", Original: Position{Line: 2, Column: 1}},
		},
		want: mappings.Table{{{0, 0, 1, 1}}},
	}, {
		descr: "same position with a name is kept",
		adds: []Mapping{
			{Generated: Position{Line: 1, Column: 0}, Source: "a.ts", Original: Position{Line: 2, Column: 1}},
			{Generated: Position{Line: 1, Column: 4}, Source: "a.ts", Original: Position{Line: 2, Column: 1}, Name: "x"},
		},
		want: mappings.Table{{{0, 0, 1, 1}, {4, 0, 1, 1, 0}}},
	}, {
		descr: "same position after a sourceless segment is kept",
		adds: []Mapping{
			{Generated: Position{Line: 1, Column: 0}, Source: "a.ts", Original: Position{Line: 1}},
			{Generated: Position{Line: 1, Column: 2}},
			{Generated: Position{Line: 1, Column: 4}, Source: "a.ts", Original: Position{Line: 1}},
		},
		want: mappings.Table{{{0, 0, 0, 0}, {2}, {4, 0, 0, 0}}},
	}, {
		descr: "sourced at line start is kept",
		adds: []Mapping{
			{Generated: Position{Line: 1, Column: 0}, Source: "a.ts", Original: Position{Line: 1}},
			{Generated: Position{Line: 2, Column: 0}, Source: "a.ts", Original: Position{Line: 1}},
		},
		want: mappings.Table{{{0, 0, 0, 0}}, {{0, 0, 0, 0}}},
	}}

	for _, test := range tests {
		t.Run(test.descr, func(t *testing.T) {
			g := New(Options{})
			for _, m := range test.adds {
				if err := g.MaybeAddMapping(m); err != nil {
					t.Fatalf("Got: MaybeAddMapping() returned error: %s. Want: no error.", err)
				}
			}
			if diff := cmp.Diff(test.want, g.ToDecodedMap().Mappings); diff != "" {
				t.Errorf("Mappings returned diff (-want,+got):\n%s", diff)
			}
		})
	}
}

func TestFromMap(t *testing.T) {
	input := &sourcemap.DecodedMap{
		Header: sourcemap.Header{
			Version:        3,
			File:           "App.vue",
			Sources:        []string{"App.vue", "App.vue"},
			SourcesContent: []*string{sourcemap.String("<script>")},
			Names:          []string{"x"},
		},
		Mappings: mappings.Table{{{0, 1, 0, 0, 0}}},
	}
	g, err := FromMap(input)
	if err != nil {
		t.Fatalf("Got: FromMap() returned error: %s. Want: no error.", err)
	}
	g.AddMapping(Mapping{Generated: Position{Line: 1, Column: 2}, Source: "App.vue", Original: Position{Line: 3}})
	g.AddMapping(Mapping{Generated: Position{Line: 2, Column: 0}, Source: "Other.vue", Original: Position{Line: 1}})

	want := &sourcemap.DecodedMap{
		Header: sourcemap.Header{
			Version:        3,
			File:           "App.vue",
			Sources:        []string{"App.vue", "App.vue", "Other.vue"},
			SourcesContent: []*string{sourcemap.String("<script>"), nil, nil},
			Names:          []string{"x"},
		},
		Mappings: mappings.Table{
			{{0, 1, 0, 0, 0}, {2, 0, 2, 0}},
			{{0, 2, 0, 0}},
		},
	}
	if diff := cmp.Diff(want, g.ToDecodedMap()); diff != "" {
		t.Errorf("ToDecodedMap() returned diff (-want,+got):\n%s", diff)
	}
	if diff := cmp.Diff(mappings.Table{{{0, 1, 0, 0, 0}}}, input.Mappings); diff != "" {
		t.Errorf("FromMap() input was mutated (-want,+got):\n%s", diff)
	}
}

func TestFromMapMalformed(t *testing.T) {
	if _, err := FromMap(`{"version":3,"sources":[],"mappings":"AA"}`); err == nil {
		t.Errorf("Got: no error for malformed mappings. Want: an error.")
	}
	if _, err := FromMap(`{"version":3,"mappings":""}`); err == nil {
		t.Errorf("Got: no error for a map without sources. Want: an error.")
	}
}

func TestToEncodedMap(t *testing.T) {
	g := New(Options{File: "App.vue"})
	g.AddMapping(Mapping{Generated: Position{Line: 2, Column: 0}, Source: "App.vue", Original: Position{Line: 1}})
	g.AddMapping(Mapping{Generated: Position{Line: 5, Column: 0}})
	g.AddMapping(Mapping{Generated: Position{Line: 4, Column: 0}, Source: "App.vue", Original: Position{Line: 1}})

	data, err := g.ToEncodedMap().JSON()
	if err != nil {
		t.Fatalf("Got: JSON() returned error: %s. Want: no error.", err)
	}
	want := `{"version":3,"file":"App.vue","sources":["App.vue"],"sourcesContent":[null],"names":[],"mappings":";AAAA;;AAAA;A"}`
	if string(data) != want {
		t.Errorf("Got: %s. Want: %s.", data, want)
	}
}

func TestTrailingEmptyLines(t *testing.T) {
	g, err := FromMap(&sourcemap.DecodedMap{
		Header:   sourcemap.Header{Version: 3, Sources: []string{"a.ts"}, Names: []string{}},
		Mappings: mappings.Table{{{0, 0, 0, 0}}, {}, {}},
	})
	if err != nil {
		t.Fatalf("Got: FromMap() returned error: %s. Want: no error.", err)
	}
	if got := g.ToDecodedMap().Mappings; len(got) != 1 {
		t.Errorf("Got: %d lines. Want: trailing empty lines removed.", len(got))
	}
}

func TestAllMappings(t *testing.T) {
	g := New(Options{})
	adds := []Mapping{
		{Generated: Position{Line: 1, Column: 0}, Source: "a.ts", Original: Position{Line: 3, Column: 2}, Name: "n"},
		{Generated: Position{Line: 1, Column: 7}},
		{Generated: Position{Line: 2, Column: 1}, Source: "b.ts", Original: Position{Line: 1, Column: 0}},
	}
	for _, m := range adds {
		g.AddMapping(m)
	}
	if diff := cmp.Diff(adds, g.AllMappings()); diff != "" {
		t.Errorf("AllMappings() returned diff (-want,+got):\n%s", diff)
	}
}

package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sfcmap/sfcmap/sourcemap"
)

func testMap() *sourcemap.Map {
	return &sourcemap.Map{
		Header: sourcemap.Header{
			Version:        3,
			File:           "App.vue",
			Sources:        []string{"App.vue", "util.ts"},
			SourcesContent: []*string{sourcemap.String("<template/>"), nil},
			Names:          []string{},
		},
		Mappings: "AAAA;;ACAA",
	}
}

func TestStore(t *testing.T) {
	mc := cacheForTest(t)

	fp := Fingerprint{Path: "src/App.vue", ContentHash: "0badc0de"}
	if got, ok := mc.Load(fp); ok {
		t.Errorf("Got: %v was found in the cache. Want: empty cache.", got)
	}

	want := testMap()
	if !mc.Store(want, fp) {
		t.Fatalf("Failed to store map for %s.", fp)
	}

	got, ok := mc.Load(fp)
	if !ok {
		t.Fatalf("Got: %s was not found in the cache. Want: map found.", fp)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Loaded map is different from stored (-want,+got):\n%s", diff)
	}
}

func TestStoreEmptyTables(t *testing.T) {
	mc := cacheForTest(t)
	fp := Fingerprint{Path: "empty.vue"}
	want := &sourcemap.Map{Header: sourcemap.Header{Version: 3, Sources: []string{}, Names: []string{}}}
	if !mc.Store(want, fp) {
		t.Fatalf("Failed to store map for %s.", fp)
	}
	got, ok := mc.Load(fp)
	if !ok {
		t.Fatalf("Got: %s was not found in the cache. Want: map found.", fp)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Loaded map is different from stored (-want,+got):\n%s", diff)
	}
}

func TestInvalidation(t *testing.T) {
	dir := t.TempDir()
	base := Fingerprint{Path: "src/App.vue", ContentHash: "aaaa"}

	tests := []struct {
		descr  string
		cache1 *MapCache
		fp1    Fingerprint
		cache2 *MapCache
		fp2    Fingerprint
	}{{
		descr:  "version",
		cache1: &MapCache{Dir: dir, Version: "1.0.0"},
		cache2: &MapCache{Dir: dir, Version: "1.1.0"},
		fp1:    base,
		fp2:    base,
	}, {
		descr:  "path",
		cache1: &MapCache{Dir: dir},
		cache2: &MapCache{Dir: dir},
		fp1:    base,
		fp2:    Fingerprint{Path: "src/Other.vue", ContentHash: "aaaa"},
	}, {
		descr:  "production",
		cache1: &MapCache{Dir: dir},
		cache2: &MapCache{Dir: dir},
		fp1:    base,
		fp2:    Fingerprint{Path: "src/App.vue", Production: true, ContentHash: "aaaa"},
	}, {
		descr:  "content",
		cache1: &MapCache{Dir: dir},
		cache2: &MapCache{Dir: dir},
		fp1:    base,
		fp2:    Fingerprint{Path: "src/App.vue", ContentHash: "bbbb"},
	}}

	for _, test := range tests {
		t.Run(test.descr, func(t *testing.T) {
			if !test.cache1.Store(testMap(), test.fp1) {
				t.Fatalf("Failed to store cache for %s.", test.fp1)
			}
			if got, ok := test.cache2.Load(test.fp2); ok {
				t.Errorf("Got: %v loaded from cache. Want: a changed %s invalidates the cache.", got, test.descr)
			}
		})
	}
}

func TestNilCache(t *testing.T) {
	var mc *MapCache
	fp := Fingerprint{Path: "App.vue"}
	if mc.Store(testMap(), fp) {
		t.Errorf("Got: nil cache stored a map. Want: caching disabled.")
	}
	if _, ok := mc.Load(fp); ok {
		t.Errorf("Got: nil cache loaded a map. Want: caching disabled.")
	}
	if err := mc.Clear(); err != nil {
		t.Errorf("Got: Clear() returned error: %s. Want: no error.", err)
	}
}

func TestCorruptedEntry(t *testing.T) {
	mc := cacheForTest(t)
	fp := Fingerprint{Path: "App.vue"}
	path := mc.cachedPath(mc.mapKey(fp))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not gzip"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, ok := mc.Load(fp); ok {
		t.Errorf("Got: a map loaded from a corrupted entry. Want: cache miss.")
	}
}

func TestClear(t *testing.T) {
	mc := cacheForTest(t)
	fp := Fingerprint{Path: "App.vue"}
	if !mc.Store(testMap(), fp) {
		t.Fatalf("Failed to store map for %s.", fp)
	}
	if err := mc.Clear(); err != nil {
		t.Fatalf("Got: Clear() returned error: %s. Want: no error.", err)
	}
	if _, ok := mc.Load(fp); ok {
		t.Errorf("Got: a map loaded after Clear(). Want: cache miss.")
	}
}

func cacheForTest(t *testing.T) *MapCache {
	t.Helper()
	return &MapCache{Dir: t.TempDir(), Version: "test"}
}

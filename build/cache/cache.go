// Package cache keeps composed source maps on disk so that unchanged
// components don't have to be composed again across runs.
package cache

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sfcmap/sfcmap/sourcemap"
)

// Fingerprint identifies the inputs a composed map was produced from.
//
// ContentHash covers the component source, both stage maps and the directory
// sourcesContent was read from, so any edit yields a different fingerprint and stale entries are simply never looked up
// again.
type Fingerprint struct {
	Path        string
	Production  bool
	SSR         bool
	ContentHash string
}

func (fp Fingerprint) String() string {
	mode := "dev"
	if fp.Production {
		mode = "prod"
	}
	if fp.SSR {
		mode += ",ssr"
	}
	return fmt.Sprintf("%s[%s]@%s", fp.Path, mode, fp.ContentHash)
}

// DefaultDir is the cache location used when MapCache.Dir is empty.
var DefaultDir = func() string {
	dir, err := os.UserCacheDir()
	if err == nil {
		return filepath.Join(dir, "sfcmap", "map_cache")
	}
	return filepath.Join(os.TempDir(), "sfcmap_map_cache")
}()

// MapCache stores composed maps between runs.
//
// The cache is non-durable: any store and load errors are logged and lead to
// a cache miss. A nil *MapCache is valid and disables caching.
//
// Version is part of every key, so upgrading the tool invalidates entries
// written by older versions. There is no upper limit for the total size; use
// Clear or delete the directory.
type MapCache struct {
	// Dir is the cache root. Empty means DefaultDir.
	Dir string
	// Version of the tool writing the cache.
	Version string
}

func (mc *MapCache) root() string {
	if mc.Dir != "" {
		return mc.Dir
	}
	return DefaultDir
}

// cachedPath returns a location inside the cache for a given set of key
// strings. The set of keys must uniquely identify the cached map.
func (mc *MapCache) cachedPath(keys ...string) string {
	key := path.Join(keys...)
	if key == "" {
		panic("cachedPath() must not be used with an empty string")
	}
	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
	return filepath.Join(mc.root(), sum[0:2], sum)
}

func (mc *MapCache) mapKey(fp Fingerprint) string {
	return path.Join("map", fmt.Sprintf("%q", mc.Version), fp.String())
}

// Store writes m to the cache under fp. It reports whether the entry was
// written.
func (mc *MapCache) Store(m *sourcemap.Map, fp Fingerprint) bool {
	if mc == nil || m == nil {
		return false
	}

	start := time.Now()
	path := mc.cachedPath(mc.mapKey(fp))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		log.Warningf("Failed to create map cache directory: %v", err)
		return false
	}
	// Write to a temporary file first so that concurrent readers never see a
	// partial entry.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		log.Warningf("Failed to create temporary map cache file: %v", err)
		return false
	}
	defer f.Close()
	if err := serialize(m, start, f); err != nil {
		log.Warningf("Failed to write cached map for %s: %v", fp, err)
		os.Remove(f.Name())
		return false
	}
	f.Close()
	if err := os.Rename(f.Name(), path); err != nil {
		log.Warningf("Failed to rename cached map for %s to %q: %v", fp, path, err)
		os.Remove(f.Name())
		return false
	}
	dur := time.Since(start).Round(time.Millisecond)
	log.Infof("Stored map for %s as %q (%v).", fp, path, dur)
	return true
}

// Load returns the map previously stored under fp.
func (mc *MapCache) Load(fp Fingerprint) (*sourcemap.Map, bool) {
	if mc == nil {
		return nil, false
	}

	path := mc.cachedPath(mc.mapKey(fp))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("No cached map for %s at %q.", fp, path)
		} else {
			log.Warningf("Failed to open cached map for %s at %q: %v", fp, path, err)
		}
		return nil, false
	}
	defer f.Close()
	m, storedAt, err := deserialize(f)
	if err != nil {
		log.Warningf("Failed to read cached map for %s at %q: %v", fp, path, err)
		return nil, false
	}
	log.Infof("Found cached map for %s, stored at %v.", fp, storedAt.Format(time.RFC3339))
	return m, true
}

// Clear removes every entry, for all versions.
func (mc *MapCache) Clear() error {
	if mc == nil {
		return nil
	}
	return os.RemoveAll(mc.root())
}

// entry is the gob representation of a map. gob can't encode nil elements of
// a pointer slice, so unknown contents are tracked separately.
type entry struct {
	Version    int
	File       string
	SourceRoot string
	Sources    []string
	Content    []string
	HasContent []bool
	Names      []string
	Mappings   string
}

func toEntry(m *sourcemap.Map) *entry {
	e := &entry{
		Version:    m.Version,
		File:       m.File,
		SourceRoot: m.SourceRoot,
		Sources:    m.Sources,
		Names:      m.Names,
		Mappings:   m.Mappings,
	}
	if m.SourcesContent != nil {
		e.Content = make([]string, len(m.SourcesContent))
		e.HasContent = make([]bool, len(m.SourcesContent))
		for i, c := range m.SourcesContent {
			if c != nil {
				e.Content[i], e.HasContent[i] = *c, true
			}
		}
	}
	return e
}

func (e *entry) toMap() *sourcemap.Map {
	m := &sourcemap.Map{
		Header: sourcemap.Header{
			Version:    e.Version,
			File:       e.File,
			SourceRoot: e.SourceRoot,
			Sources:    e.Sources,
			Names:      e.Names,
		},
		Mappings: e.Mappings,
	}
	// gob decodes empty slices as nil.
	if m.Sources == nil {
		m.Sources = []string{}
	}
	if m.Names == nil {
		m.Names = []string{}
	}
	if e.HasContent != nil {
		m.SourcesContent = make([]*string, len(e.HasContent))
		for i, ok := range e.HasContent {
			if ok {
				m.SourcesContent[i] = sourcemap.String(e.Content[i])
			}
		}
	}
	return m
}

func serialize(m *sourcemap.Map, storedAt time.Time, w io.Writer) (err error) {
	zw := gzip.NewWriter(w)
	defer func() {
		// This close flushes the gzip but does not close the given writer.
		if closeErr := zw.Close(); err == nil {
			err = closeErr
		}
	}()

	ge := gob.NewEncoder(zw)
	if err := ge.Encode(storedAt); err != nil {
		return err
	}
	return ge.Encode(toEntry(m))
}

func deserialize(r io.Reader) (m *sourcemap.Map, storedAt time.Time, err error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, storedAt, err
	}
	defer func() {
		// This close checks the gzip checksum but does not close the given reader.
		if closeErr := zr.Close(); err == nil {
			err = closeErr
		}
	}()

	gd := gob.NewDecoder(zr)
	if err := gd.Decode(&storedAt); err != nil {
		return nil, storedAt, err
	}
	var e entry
	if err := gd.Decode(&e); err != nil {
		return nil, storedAt, err
	}
	return e.toMap(), storedAt, nil
}

package build

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/sfcmap/sfcmap/build/cache"
)

// Fingerprint identifies the inputs of one composition.
type Fingerprint = cache.Fingerprint

// Unit is a single-file component being built.
type Unit struct {
	Filename string
	Source   string
	// SSR selects the server rendering variant, which is composed and cached
	// separately from the client one.
	SSR bool
	// HMR selects the hot-update descriptor table.
	HMR bool
}

// Descriptor is the session's record of a component file. It lives until
// the file is invalidated.
type Descriptor struct {
	// ID is stable for a file across builds in development mode, and also
	// changes with the file content in production mode.
	ID       string
	Filename string
	Source   string
}

// descriptorID returns the first 8 hex digits of a BLAKE2b-256 digest over
// the file path relative to root, plus the source in production mode.
func descriptorID(root, filename, source string, production bool) string {
	rel, err := filepath.Rel(root, filename)
	if err != nil {
		rel = filename
	}
	key := filepath.ToSlash(filepath.Clean(rel))
	if production {
		key += source
	}
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:8]
}

// contentHash digests every input of a composition.
func contentHash(parts ...string) string {
	h, _ := blake2b.New256(nil) // Only fails for oversized keys.
	for _, p := range parts {
		// Length prefixes keep ("ab", "c") and ("a", "bc") apart.
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (s *Session) table(hmr bool) map[string]*Descriptor {
	if hmr {
		return s.hmrDescriptors
	}
	return s.descriptors
}

// NewDescriptor records a descriptor for the given file content, replacing
// any previous one in the same table.
func (s *Session) NewDescriptor(filename, source string, hmr bool) *Descriptor {
	d := &Descriptor{
		ID:       descriptorID(s.options.Root, filename, source, s.options.Production),
		Filename: filename,
		Source:   source,
	}
	s.SetDescriptor(d, hmr)
	return d
}

// Descriptor returns the recorded descriptor for filename.
func (s *Session) Descriptor(filename string, hmr bool) (*Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.table(hmr)[filename]
	return d, ok
}

// LoadDescriptor returns the recorded descriptor for filename, reading the
// file to create one if there is none.
func (s *Session) LoadDescriptor(filename string, hmr bool) (*Descriptor, error) {
	if d, ok := s.Descriptor(filename, hmr); ok {
		return d, nil
	}
	source, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return s.NewDescriptor(filename, string(source), hmr), nil
}

// SetDescriptor records d under its filename.
func (s *Session) SetDescriptor(d *Descriptor, hmr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(hmr)[d.Filename] = d
}

// PrevDescriptor returns the descriptor filename had before it was last
// invalidated.
func (s *Session) PrevDescriptor(filename string) (*Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.prevDescriptors[filename]
	return d, ok
}

// Invalidate forgets the descriptor of filename, keeping it as the previous
// descriptor, and drops every composed map cached for it in memory.
func (s *Session) Invalidate(filename string, hmr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(hmr)
	if prev, ok := t[filename]; ok {
		s.prevDescriptors[filename] = prev
		delete(t, filename)
	}
	for _, fp := range s.byFile[filename] {
		delete(s.resolved, fp)
	}
	delete(s.byFile, filename)
	s.log.Debugf("Invalidated %s (hmr: %v).", filename, hmr)
}

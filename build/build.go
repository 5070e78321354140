// Package build composes the source maps of single-file components inside a
// long-lived build session.
//
// A component is compiled in two independent stages, script and template,
// each producing generated code and optionally a source map. The session
// concatenates the code, composes the maps with a line offset and caches the
// result per file until the file is invalidated.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/shurcooL/httpfs/vfsutil"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sfcmap/sfcmap/build/cache"
	"github.com/sfcmap/sfcmap/compose"
	"github.com/sfcmap/sfcmap/genmapping"
	"github.com/sfcmap/sfcmap/internal/errorList"
	"github.com/sfcmap/sfcmap/internal/sourcemapx"
	"github.com/sfcmap/sfcmap/internal/verify"
	"github.com/sfcmap/sfcmap/sourcemap"
	"github.com/sfcmap/sfcmap/urlresolve"
)

type Options struct {
	// Root is the project directory. Descriptor ids are derived from paths
	// relative to it.
	Root       string
	Production bool
	// SourceMap enables map composition. When false, Compose only joins the
	// code.
	SourceMap bool
	Skippable bool
	// Verify cross-checks every composed map with an independent decoder.
	Verify bool
	// SourcesDir, when set, is where missing sourcesContent is read from.
	SourcesDir  string
	Concurrency int
	MaxErrors   int
}

// StageResult is the output of one compilation stage. Map is nil when the
// stage produced no map; hints embedded in Code are used instead if present.
type StageResult struct {
	Code string
	Map  *sourcemap.Map
}

// Output is a composed component.
type Output struct {
	Code string
	Map  *sourcemap.Map
}

// Job is a unit of work for ComposeAll.
type Job struct {
	Unit     Unit
	Script   StageResult
	Template StageResult
}

// Session holds the descriptor tables and the resolved-map cache of a build.
// All methods are safe for concurrent use.
type Session struct {
	options *Options
	// Cache persists composed maps across runs. Nil disables it.
	Cache *cache.MapCache
	// SourceFS serves the original sources for sourcesContent, rooted at
	// Options.SourcesDir, or at Options.Root when that is empty. Nil disables
	// the fill.
	SourceFS http.FileSystem

	mu              sync.Mutex
	descriptors     map[string]*Descriptor
	hmrDescriptors  map[string]*Descriptor
	prevDescriptors map[string]*Descriptor
	resolved        map[Fingerprint]*sourcemap.Map
	byFile          map[string][]Fingerprint

	log *log.Entry
}

func NewSession(options *Options) *Session {
	if options.Root == "" {
		options.Root = "."
	}
	options.Root = mustAbs(options.Root)
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	if options.MaxErrors < 1 {
		options.MaxErrors = 10
	}

	s := &Session{
		options:         options,
		descriptors:     make(map[string]*Descriptor),
		hmrDescriptors:  make(map[string]*Descriptor),
		prevDescriptors: make(map[string]*Descriptor),
		resolved:        make(map[Fingerprint]*sourcemap.Map),
		byFile:          make(map[string][]Fingerprint),
		log:             log.WithField("session", uuid.NewString()),
	}
	if options.SourcesDir != "" {
		options.SourcesDir = mustAbs(options.SourcesDir)
		s.SourceFS = sourceFS(options.SourcesDir)
	}
	return s
}

// Options returns the options the session was created with.
func (s *Session) Options() Options { return *s.options }

// Compose joins the script and template code of unit and composes their maps.
// The returned Map is nil when neither stage has one or when source maps are
// disabled.
func (s *Session) Compose(unit Unit, script, template StageResult) (*Output, error) {
	unit.Filename = s.absPath(unit.Filename)

	var err error
	if script, err = s.extractHints(unit, script); err != nil {
		return nil, fmt.Errorf("script of %s: %w", unit.Filename, err)
	}
	if template, err = s.extractHints(unit, template); err != nil {
		return nil, fmt.Errorf("template of %s: %w", unit.Filename, err)
	}
	out := &Output{Code: joinCode(script.Code, template.Code)}
	if !s.options.SourceMap || (script.Map == nil && template.Map == nil) {
		return out, nil
	}

	d, err := s.descriptorFor(unit)
	if err != nil {
		return nil, err
	}
	offset := templateOffset(script.Code)
	fp, err := s.fingerprint(unit, d, script.Map, template.Map, offset)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	m, ok := s.resolved[fp]
	s.mu.Unlock()
	if ok {
		s.log.Debugf("Reusing composed map for %s.", fp)
		out.Map = m
		return out, nil
	}

	m, ok = s.Cache.Load(fp)
	if !ok {
		m, err = compose.SourceMaps(script.Map, template.Map, offset, compose.Options{Skippable: s.options.Skippable})
		if err != nil {
			return nil, fmt.Errorf("failed to compose source maps of %s: %w", unit.Filename, err)
		}
		m = s.fillContent(m)
		if m != nil && s.options.Verify {
			s.verify(unit.Filename, m)
		}
		s.Cache.Store(m, fp)
	}

	s.mu.Lock()
	s.resolved[fp] = m
	s.byFile[unit.Filename] = append(s.byFile[unit.Filename], fp)
	s.mu.Unlock()

	out.Map = m
	return out, nil
}

// ComposeAll composes independent jobs concurrently. A failing job doesn't
// stop the others: the outputs of successful jobs are returned alongside an
// errorList.ErrorList naming the failed files. Cancelling ctx stops jobs that
// haven't started yet.
func (s *Session) ComposeAll(ctx context.Context, jobs []Job) ([]*Output, error) {
	outputs := make([]*Output, len(jobs))
	failures := make([]error, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.options.Concurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := s.Compose(job.Unit, job.Script, job.Template)
			if err != nil {
				failures[i] = err
				return nil
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outputs, err
	}

	var errs errorList.ErrorList
	for i, err := range failures {
		errs = errs.AppendFile(jobs[i].Unit.Filename, err)
	}
	if len(errs) > 0 {
		s.log.Warningf("%d of %d components failed to compose.", len(errs), len(jobs))
	}
	return outputs, errs.Trim(s.options.MaxErrors).ErrOrNil()
}

// Watch calls fn each time one of the given files changes, after
// invalidating its descriptors. It returns when ctx is done, or with the
// first error fn returns.
func (s *Session) Watch(ctx context.Context, files []string, fn func(filename string) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer w.Close()

	// Directories are watched rather than the files, so that editors
	// replacing a file by rename are still noticed.
	watched := map[string]bool{}
	dirs := map[string]bool{}
	for _, f := range files {
		f = s.absPath(f)
		watched[f] = true
		if dir := filepath.Dir(f); !dirs[dir] {
			if err := w.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			dirs[dir] = true
		}
	}
	s.log.Infof("Watching %d files for changes...", len(watched))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(ev.Name)
			if !watched[name] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
				continue
			}
			s.log.Infof("Change detected: %s (%v).", name, ev.Op)
			s.Invalidate(name, false)
			s.Invalidate(name, true)
			if err := fn(name); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warningf("Watcher error: %v", err)
		}
	}
}

// WriteMap writes m as JSON to the given path and returns the
// sourceMappingURL comment to append to the generated file next to it.
// Nothing is written for a nil map.
func WriteMap(m *sourcemap.Map, filename string) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := m.JSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize source map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o777); err != nil {
		return "", err
	}
	if err := os.WriteFile(filename, data, 0o666); err != nil {
		return "", err
	}
	return sourcemap.Comment(filepath.Base(filename)), nil
}

func (s *Session) absPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filepath.Clean(filename)
	}
	return filepath.Join(s.options.Root, filename)
}

// descriptorFor returns the descriptor of unit, replacing it when the unit
// carries a different source than the one recorded.
func (s *Session) descriptorFor(unit Unit) (*Descriptor, error) {
	if unit.Source == "" {
		d, err := s.LoadDescriptor(unit.Filename, unit.HMR)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", unit.Filename, err)
		}
		return d, nil
	}
	if d, ok := s.Descriptor(unit.Filename, unit.HMR); ok && d.Source == unit.Source {
		return d, nil
	}
	return s.NewDescriptor(unit.Filename, unit.Source, unit.HMR), nil
}

func (s *Session) fingerprint(unit Unit, d *Descriptor, script, template *sourcemap.Map, offset int) (Fingerprint, error) {
	scriptJSON, err := mapJSON(script)
	if err != nil {
		return Fingerprint{}, err
	}
	templateJSON, err := mapJSON(template)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Path:        d.Filename,
		Production:  s.options.Production,
		SSR:         unit.SSR,
		ContentHash: contentHash(d.ID, d.Source, scriptJSON, templateJSON, strconv.Itoa(offset), strconv.FormatBool(s.options.Skippable), s.options.SourcesDir),
	}, nil
}

func mapJSON(m *sourcemap.Map) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize source map: %w", err)
	}
	return string(data), nil
}

// extractHints strips inline hints from the stage code. When the stage has
// no map of its own, the hints become its map.
func (s *Session) extractHints(unit Unit, stage StageResult) (StageResult, error) {
	if !sourcemapx.HasHints(stage.Code) {
		return stage, nil
	}
	g := genmapping.New(genmapping.Options{File: filepath.Base(unit.Filename)})
	plain, err := sourcemapx.Extract(stage.Code, g)
	if err != nil {
		return stage, err
	}
	stage.Code = plain
	if stage.Map == nil {
		stage.Map = g.ToEncodedMap()
		s.log.Debugf("Recovered a map with %d sources from hints in %s.", len(stage.Map.Sources), unit.Filename)
	}
	return stage, nil
}

// templateOffset is the 0-based line the template code starts on in the
// output of joinCode.
func templateOffset(script string) int {
	if script == "" {
		return 0
	}
	return compose.LineOffset(script)
}

func joinCode(script, template string) string {
	switch {
	case template == "":
		return script
	case script == "":
		return template
	default:
		return script + "\n" + template
	}
}

// fillContent returns a copy of m with unknown sourcesContent read from
// SourceFS. Sources outside of the project are left unknown.
func (s *Session) fillContent(m *sourcemap.Map) *sourcemap.Map {
	if m == nil || s.SourceFS == nil {
		return m
	}
	filled := *m
	filled.SourcesContent = make([]*string, len(m.Sources))
	copy(filled.SourcesContent, m.SourcesContent)
	for i, src := range m.Sources {
		if filled.SourcesContent[i] != nil {
			continue
		}
		name, ok := s.sourcePath(m.SourceRoot, src)
		if !ok {
			continue
		}
		data, err := vfsutil.ReadFile(s.SourceFS, name)
		if err != nil {
			s.log.Debugf("No content for source %q: %v", src, err)
			continue
		}
		filled.SourcesContent[i] = sourcemap.String(string(data))
	}
	return &filled
}

// sourcePath maps a source of a composed map to a path inside SourceFS.
func (s *Session) sourcePath(sourceRoot, source string) (string, bool) {
	if source == "" {
		return "", false
	}
	if filepath.IsAbs(source) {
		dir := s.options.SourcesDir
		if dir == "" {
			dir = s.options.Root
		}
		rel, ok := hasSubdir(filepath.ToSlash(dir), filepath.ToSlash(source))
		if !ok {
			return "", false
		}
		return "/" + rel, true
	}
	if sourceRoot != "" {
		source = urlresolve.ResolveDir(source, sourceRoot)
	}
	if urlresolve.Parse(source).Type != urlresolve.RelativePath {
		return "", false
	}
	p := path.Clean(source)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return path.Join("/", p), true
}

func (s *Session) verify(filename string, m *sourcemap.Map) {
	r, err := verify.Compare(m)
	if err != nil {
		s.log.Warningf("Failed to cross-check the map of %s: %v", filename, err)
		return
	}
	for _, mm := range r.Mismatches {
		s.log.Warningf("Map of %s disagrees at segment %d: %v vs %v", filename, mm.Index, mm.Ours, mm.Theirs)
	}
	if r.OK() {
		s.log.Debugf("Map of %s cross-checked: %d segments.", filename, r.Segments)
	}
}

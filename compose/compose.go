// Package compose merges the source maps of the two compilation stages of a
// single-file component into one map for the assembled output.
//
// The assembled module is the script stage's code followed by a newline and
// the template stage's code, so the template map only needs its generated
// lines shifted down by the number of lines the script occupies.
package compose

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sfcmap/sfcmap/genmapping"
	"github.com/sfcmap/sfcmap/sourcemap"
	"github.com/sfcmap/sfcmap/tracemap"
)

// Options controls how template mappings are added to the script map.
type Options struct {
	// Skippable drops template segments that add no information over their
	// predecessor on the same generated line.
	Skippable bool
}

// LineOffset returns the number of lines the template code is shifted by when
// it's appended to scriptCode with a separating newline.
func LineOffset(scriptCode string) int {
	return strings.Count(scriptCode, "\n") + 1
}

// SourceMaps returns a map describing the script code followed by the
// template code, where offset is LineOffset of the script code.
//
// When only one of the maps is present it's returned as is, and when both
// are absent the result is nil with no error.
func SourceMaps(script, template *sourcemap.Map, offset int, opts Options) (*sourcemap.Map, error) {
	switch {
	case script == nil && template == nil:
		return nil, nil
	case template == nil:
		return script, nil
	case script == nil:
		return template, nil
	}

	gen, err := genmapping.FromMap(script)
	if err != nil {
		return nil, fmt.Errorf("failed to load script map: %w", err)
	}
	tracer, err := tracemap.New(template, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load template map: %w", err)
	}

	add := gen.AddMapping
	if opts.Skippable {
		add = gen.MaybeAddMapping
	}

	var added, skipped int
	var addErr error
	err = tracer.EachMapping(func(m tracemap.Mapping) {
		if addErr != nil {
			return
		}
		if !m.HasSource {
			skipped++
			return
		}
		addErr = add(genmapping.Mapping{
			Generated: genmapping.Position{Line: m.GeneratedLine + offset, Column: m.GeneratedColumn},
			Source:    m.Source,
			Original:  genmapping.Position{Line: m.OriginalLine, Column: m.OriginalColumn},
			Name:      m.Name,
		})
		added++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode template map: %w", err)
	}
	if addErr != nil {
		return nil, addErr
	}

	// Template sources take the template's content when it has one, also
	// when the script map already knew them.
	for _, source := range tracer.ResolvedSources {
		if content, ok := tracer.Content(source); ok && gen.HasSource(source) {
			gen.SetSourceContent(source, &content)
		}
	}

	log.Debugf("Composed %q: %d template mappings added at offset %d, %d sourceless skipped.", script.File, added, offset, skipped)
	return gen.ToEncodedMap(), nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sfcmap/sfcmap/build"
	"github.com/sfcmap/sfcmap/build/cache"
	"github.com/sfcmap/sfcmap/compose"
	"github.com/sfcmap/sfcmap/internal/config"
	"github.com/sfcmap/sfcmap/internal/errorList"
	"github.com/sfcmap/sfcmap/internal/experiments"
	"github.com/sfcmap/sfcmap/internal/verify"
	"github.com/sfcmap/sfcmap/mappings"
	"github.com/sfcmap/sfcmap/sourcemap"
	"github.com/sfcmap/sfcmap/tracemap"
	"github.com/sfcmap/sfcmap/urlresolve"
)

// version is set at link time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	fmt.Fprintln(stderr, "sfcmap:", err)
	return 1
}

// globalOptions are shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	quiet      bool
	cacheDir   string
	noCache    bool
	production bool

	cfg *config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	flagGlobal := pflag.NewFlagSet("", 0)
	flagGlobal.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	flagGlobal.BoolVarP(&opts.verbose, "verbose", "v", false, "log every composition step")
	flagGlobal.BoolVarP(&opts.quiet, "quiet", "q", false, "only log warnings and errors")
	flagGlobal.StringVar(&opts.cacheDir, "cache-dir", "", "directory of the persistent map cache")
	flagGlobal.BoolVar(&opts.noCache, "no-cache", false, "don't use the persistent map cache")
	flagGlobal.BoolVar(&opts.production, "production", false, "derive component ids from content, as production builds do")

	rootCmd := &cobra.Command{
		Use:           "sfcmap",
		Long:          "sfcmap composes the source maps of the script and template stages of single-file components.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.Flags(), stderr)
		},
	}
	rootCmd.PersistentFlags().AddFlagSet(flagGlobal)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(
		newBuildCmd(opts),
		newWatchCmd(opts),
		newComposeCmd(opts),
		newDecodeCmd(),
		newEncodeCmd(),
		newResolveCmd(),
		newLookupCmd(),
		newVerifyCmd(),
		newCleanCmd(opts),
	)

	return rootCmd
}

// load reads the configuration and applies the flags on top of it.
func (o *globalOptions) load(flags *pflag.FlagSet, stderr io.Writer) error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if flags.Changed("cache-dir") {
		cfg.Build.CacheDir = o.cacheDir
	}
	if flags.Changed("no-cache") {
		cfg.Build.NoCache = o.noCache
	}
	if flags.Changed("production") {
		cfg.Project.Production = o.production
	}
	o.cfg = cfg

	log.SetOutput(stderr)
	log.SetLevel(cfg.LogLevel())
	switch {
	case o.verbose:
		log.SetLevel(log.DebugLevel)
	case o.quiet:
		log.SetLevel(log.WarnLevel)
	}
	if experiments.Env != (experiments.Flags{}) {
		log.Debugf("Experiments enabled: %s", experiments.Env)
	}
	return nil
}

func (o *globalOptions) mapCache() *cache.MapCache {
	if o.cfg.Build.NoCache {
		return nil
	}
	return &cache.MapCache{Dir: o.cfg.Build.CacheDir, Version: version}
}

func (o *globalOptions) session() *build.Session {
	s := build.NewSession(&build.Options{
		Root:        o.cfg.Project.Root,
		Production:  o.cfg.Project.Production,
		SourceMap:   o.cfg.SourceMap.Enabled,
		Skippable:   o.cfg.SourceMap.Skippable || experiments.Env.Skippable,
		Verify:      experiments.Env.Verify,
		SourcesDir:  o.cfg.SourceMap.SourcesDir,
		Concurrency: o.cfg.Build.Concurrency,
		MaxErrors:   o.cfg.Build.MaxErrors,
	})
	s.Cache = o.mapCache()
	return s
}

func newBuildCmd(opts *globalOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "build [components]",
		Short: "compose the stage outputs of components",
		Long: `Compose the stage outputs of components.

For a component App.vue, the script stage output is read from App.vue.script.js
and the template stage output from App.vue.template.js, each with an optional
.map file next to it. The composed code is written to <out-dir>/App.js with the
map in App.js.map.`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "dist", "output directory")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context(), opts.session(), args, outDir, cmd.OutOrStdout())
	}
	return cmd
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "watch [components]",
		Short: "build components and rebuild them when they or their stage outputs change",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "dist", "output directory")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s := opts.session()
		if err := runBuild(cmd.Context(), s, args, outDir, cmd.OutOrStdout()); err != nil {
			log.Error(err)
		}

		owner := map[string]string{}
		var files []string
		for _, c := range args {
			for _, f := range []string{c, c + ".script.js", c + ".script.js.map", c + ".template.js", c + ".template.js.map"} {
				abs, err := filepath.Abs(f)
				if err != nil {
					return err
				}
				owner[abs] = c
				files = append(files, abs)
			}
		}
		return s.Watch(cmd.Context(), files, func(changed string) error {
			c := owner[changed]
			if abs, err := filepath.Abs(c); err == nil && abs != changed {
				// A stage output changed, the component descriptor is stale too.
				s.Invalidate(abs, false)
			}
			if err := runBuild(cmd.Context(), s, []string{c}, outDir, cmd.OutOrStdout()); err != nil {
				log.Error(err)
			}
			return nil
		})
	}
	return cmd
}

func runBuild(ctx context.Context, s *build.Session, components []string, outDir string, stdout io.Writer) error {
	jobs := make([]build.Job, 0, len(components))
	var errs errorList.ErrorList
	for _, c := range components {
		job, err := loadJob(c)
		if err != nil {
			errs = errs.AppendFile(c, err)
			continue
		}
		jobs = append(jobs, job)
	}

	outputs, err := s.ComposeAll(ctx, jobs)
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	}
	errs = errs.Append(err)

	for i, out := range outputs {
		if out == nil {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(jobs[i].Unit.Filename), filepath.Ext(jobs[i].Unit.Filename)) + ".js"
		codePath := filepath.Join(outDir, name)
		code := out.Code
		comment, err := build.WriteMap(out.Map, codePath+".map")
		if err != nil {
			errs = errs.AppendFile(jobs[i].Unit.Filename, err)
			continue
		}
		if comment != "" {
			code = strings.TrimSuffix(code, "\n") + "\n" + comment + "\n"
		}
		if err := os.MkdirAll(outDir, 0o777); err != nil {
			return err
		}
		if err := os.WriteFile(codePath, []byte(code), 0o666); err != nil {
			errs = errs.AppendFile(jobs[i].Unit.Filename, err)
			continue
		}
		fmt.Fprintln(stdout, codePath)
	}
	return errs.Trim(s.Options().MaxErrors).ErrOrNil()
}

// loadJob reads the stage outputs of a component. Either stage may be
// missing, but not both.
func loadJob(component string) (build.Job, error) {
	abs, err := filepath.Abs(component)
	if err != nil {
		return build.Job{}, err
	}
	job := build.Job{Unit: build.Unit{Filename: abs}}
	var found bool
	for _, st := range []struct {
		suffix string
		dest   *build.StageResult
	}{
		{".script.js", &job.Script},
		{".template.js", &job.Template},
	} {
		code, err := os.ReadFile(component + st.suffix)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return job, err
		}
		found = true
		st.dest.Code = string(code)
		m, err := readMap(component + st.suffix + ".map")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return job, err
		}
		st.dest.Map = m
	}
	if !found {
		return job, fmt.Errorf("no stage output found for %s", component)
	}
	return job, nil
}

// readMap reads a source map file in either shape and returns it with
// encoded mappings.
func readMap(path string) (*sourcemap.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := sourcemap.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	switch m := m.(type) {
	case *sourcemap.Map:
		return m, nil
	case *sourcemap.DecodedMap:
		if err := sourcemap.Validate(m); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &sourcemap.Map{Header: m.Header, Mappings: mappings.Encode(m.Mappings)}, nil
	default:
		return nil, fmt.Errorf("%s: unexpected source map type %T", path, m)
	}
}

func newComposeCmd(opts *globalOptions) *cobra.Command {
	var (
		scriptMap, templateMap, scriptCode, out string
		offset                                  int
		skippable                               bool
	)
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "compose a script map and a template map",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&scriptMap, "script", "", "script stage map")
	cmd.Flags().StringVar(&templateMap, "template", "", "template stage map")
	cmd.Flags().IntVar(&offset, "offset", 0, "line offset of the template code")
	cmd.Flags().StringVar(&scriptCode, "script-code", "", "script stage code, to derive the line offset from")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the map to this file instead of stdout")
	cmd.Flags().BoolVar(&skippable, "skippable", false, "drop template segments that repeat their predecessor")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var script, template *sourcemap.Map
		var err error
		if scriptMap != "" {
			if script, err = readMap(scriptMap); err != nil {
				return err
			}
		}
		if templateMap != "" {
			if template, err = readMap(templateMap); err != nil {
				return err
			}
		}
		switch {
		case scriptCode != "":
			code, err := os.ReadFile(scriptCode)
			if err != nil {
				return err
			}
			offset = compose.LineOffset(string(code))
		case offset <= 0 && script != nil && template != nil:
			return errors.New("either --offset or --script-code is required")
		}

		skippable = skippable || opts.cfg.SourceMap.Skippable || experiments.Env.Skippable
		m, err := compose.SourceMaps(script, template, offset, compose.Options{Skippable: skippable})
		if err != nil {
			return err
		}
		if m == nil {
			return errors.New("no source maps given")
		}
		if experiments.Env.Verify {
			if err := reportVerify(cmd.ErrOrStderr(), "composed map", m); err != nil {
				return err
			}
		}
		if out != "" {
			comment, err := build.WriteMap(m, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), comment)
			return nil
		}
		data, err := m.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <mappings>",
		Short: "print the decoded form of a mappings string as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := mappings.Decode(args[0])
			if err != nil {
				return err
			}
			data, err := json.Marshal(table)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <json>",
		Short: "print the mappings string of a decoded JSON table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var table mappings.Table
			if err := json.Unmarshal([]byte(args[0]), &table); err != nil {
				return fmt.Errorf("failed to parse decoded mappings: %w", err)
			}
			for i, line := range table {
				for j, seg := range line {
					if n := len(seg); n != 1 && n != 4 && n != 5 {
						return fmt.Errorf("segment %d of line %d has %d fields, want 1, 4 or 5", j+1, i+1, n)
					}
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), mappings.Encode(table))
			return nil
		},
	}
}

func newResolveCmd() *cobra.Command {
	var dir bool
	cmd := &cobra.Command{
		Use:   "resolve <input> [base]",
		Short: "resolve a source reference against a base URL or path",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := ""
			if len(args) == 2 {
				base = args[1]
			}
			resolve := urlresolve.Resolve
			if dir {
				resolve = urlresolve.ResolveDir
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolve(args[0], base))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dir, "dir", false, "treat the base as a directory")
	return cmd
}

func newLookupCmd() *cobra.Command {
	var (
		mapURL string
		upper  bool
	)
	cmd := &cobra.Command{
		Use:   "lookup <map> <line> <column>",
		Short: "find the original position of a generated position",
		Long:  "Find the original position of a generated position. Lines are 1-based and columns 0-based.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid line %q: %w", args[1], err)
			}
			column, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid column %q: %w", args[2], err)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if mapURL == "" {
				mapURL = filepath.ToSlash(args[0])
			}
			tm, err := tracemap.Parse(data, mapURL)
			if err != nil {
				return err
			}
			bias := tracemap.GreatestLowerBound
			if upper {
				bias = tracemap.LeastUpperBound
			}
			pos, ok, err := tm.OriginalPositionFor(line, column, bias)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no original position for %d:%d", line, column)
			}
			s := fmt.Sprintf("%s:%d:%d", pos.Source, pos.Line, pos.Column)
			if pos.Name != "" {
				s += " " + pos.Name
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().StringVar(&mapURL, "map-url", "", "URL of the map, sources are resolved against it (default: the map path)")
	cmd.Flags().BoolVar(&upper, "upper", false, "prefer the closest segment at or after the column")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <map>...",
		Short: "cross-check maps with an independent decoder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs errorList.ErrorList
			for _, path := range args {
				m, err := readMap(path)
				if err == nil {
					err = reportVerify(cmd.OutOrStdout(), path, m)
				}
				errs = errs.AppendFile(path, err)
			}
			return errs.ErrOrNil()
		},
	}
}

func reportVerify(w io.Writer, name string, m *sourcemap.Map) error {
	r, err := verify.Compare(m)
	if err != nil {
		return err
	}
	for _, mm := range r.Mismatches {
		fmt.Fprintf(w, "%s: segment %d: %v vs %v\n", name, mm.Index, mm.Ours, mm.Theirs)
	}
	if !r.OK() {
		return fmt.Errorf("%d of %d segments disagree", len(r.Mismatches), r.Segments)
	}
	fmt.Fprintf(w, "%s: %d segments ok\n", name, r.Segments)
	return nil
}

func newCleanCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "remove the persistent map cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mc := &cache.MapCache{Dir: opts.cfg.Build.CacheDir, Version: version}
			if err := mc.Clear(); err != nil {
				return err
			}
			log.Infof("Removed the map cache.")
			return nil
		},
	}
}

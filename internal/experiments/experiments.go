// Package experiments manages the experimental behaviors of map composition
// that are off by default.
//
// The SFCMAP_EXPERIMENT environment variable controls which of them are
// enabled, e.g. SFCMAP_EXPERIMENT=skippable,verify.
package experiments

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// EnvVar is the environment variable the Env flags are read from.
const EnvVar = "SFCMAP_EXPERIMENT"

var (
	// ErrInvalidDest is a kind of error returned by parseFlags() when the dest
	// argument does not meet the requirements.
	ErrInvalidDest = errors.New("invalid flag struct")
	// ErrInvalidFormat is a kind of error returned by parseFlags() when the raw
	// flag string format is not valid.
	ErrInvalidFormat = errors.New("invalid flag string format")
)

// Env contains experiment flag values from the SFCMAP_EXPERIMENT environment
// variable.
var Env Flags

func init() {
	var err error
	if Env, err = Parse(os.Getenv(EnvVar)); err != nil {
		panic(fmt.Errorf("failed to parse %s flags: %w", EnvVar, err))
	}
}

// Flags contains flags for currently supported experiments.
type Flags struct {
	// Skippable composes with the de-duplicating insert, dropping template
	// segments that repeat their predecessor.
	Skippable bool `flag:"skippable"`
	// Verify cross-checks every composed map against an independent decoder
	// and logs disagreements.
	Verify bool `flag:"verify"`
}

// Parse returns the flags described by raw.
func Parse(raw string) (Flags, error) {
	var f Flags
	err := parseFlags(raw, &f)
	return f, err
}

// String lists the enabled flags in the SFCMAP_EXPERIMENT format.
func (f Flags) String() string {
	var on []string
	for name, field := range fieldMap(reflect.ValueOf(&f).Elem()) {
		if field.Bool() {
			on = append(on, name)
		}
	}
	sort.Strings(on)
	return strings.Join(on, ",")
}

// parseFlags parses the `raw` flags string and populates flag values in the
// `dest`.
//
// `raw` is a comma-separated experiment flag list: `<flag1>,<flag2>,...`. Each
// flag may be either `<name>` or `<name>=<value>`. Omitting value is equivalent
// to "<name> = true". Spaces around name and value are trimmed and empty
// entries are skipped. Flag name can't be empty. If the same flag is specified
// multiple times, the last instance takes effect.
//
// `dest` must be a pointer to a struct with boolean fields tagged with `flag`.
// Fields without a flag tag are left unpopulated. Flags that don't have a
// corresponding field are ignored, so that a retired experiment left in a
// user's environment doesn't break the tool.
func parseFlags(raw string, dest any) error {
	ptr := reflect.ValueOf(dest)
	if ptr.Type().Kind() != reflect.Pointer || ptr.Type().Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: must be a pointer to a struct", ErrInvalidDest)
	}
	if ptr.IsNil() {
		return fmt.Errorf("%w: must not be nil", ErrInvalidDest)
	}
	fields := fieldMap(ptr.Elem())

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, val, found := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !found {
			val = "true"
		}
		if key == "" {
			return fmt.Errorf("%w: empty flag name", ErrInvalidFormat)
		}

		field, ok := fields[key]
		if !ok {
			continue
		}
		if field.Kind() != reflect.Bool {
			return fmt.Errorf("%w: only boolean flags are supported", ErrInvalidDest)
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: can't parse %q as boolean for flag %q", ErrInvalidFormat, val, key)
		}
		field.SetBool(b)
	}
	return nil
}

// fieldMap returns the struct fields of s keyed by their "flag" tag.
func fieldMap(s reflect.Value) map[string]reflect.Value {
	typ := s.Type()
	result := map[string]reflect.Value{}
	for i := 0; i < typ.NumField(); i++ {
		if val, ok := typ.Field(i).Tag.Lookup("flag"); ok {
			result[val] = s.Field(i)
		}
	}
	return result
}

// Package urlresolve resolves source references found in source maps against
// the URL or path of the map itself, following the same rules browsers and
// Node.js tooling use for `sources` entries.
//
// Unlike net/url, inputs don't need to be valid URLs: bare relative paths,
// excess parent directories ("../../x.js") and relative results are all
// preserved instead of being forced into an absolute form.
package urlresolve

import (
	"regexp"
	"strings"
)

// Type classifies a URL by how much of it is specified. Higher values are
// more specific and inherit less from a base.
type Type int

const (
	Empty Type = iota + 1
	Hash
	Query
	RelativePath
	AbsolutePath
	SchemeRelative
	Absolute
)

func (t Type) String() string {
	switch t {
	case Empty:
		return "empty"
	case Hash:
		return "hash"
	case Query:
		return "query"
	case RelativePath:
		return "relative path"
	case AbsolutePath:
		return "absolute path"
	case SchemeRelative:
		return "scheme relative"
	case Absolute:
		return "absolute"
	default:
		return "unknown"
	}
}

var (
	schemeRE = regexp.MustCompile(`^[\w+.-]+://`)
	// Scheme (with ':'), user (with '@'), host, port (with ':'), path, query
	// (with '?') and hash (with '#').
	urlRE = regexp.MustCompile(`^([\w+.-]+:)//([^@/#?]*@)?([^:/#?]*)(:\d+)?(/[^#?]*)?(\?[^#]*)?(#.*)?`)
	// file: URLs may omit the "//" and the leading slash, and only have a host
	// if the path doesn't start with a drive letter. Groups: host, path,
	// query, hash.
	fileRE  = regexp.MustCompile(`(?i)^file:(?://([^/#?]*))?(/?[^#?]*)(\?[^#]*)?(#.*)?`)
	driveRE = regexp.MustCompile(`(?i)^[a-z]:`)
)

// URL is a parsed URL or path split into its components. Components keep
// their delimiters ("http:", "user@", ":8080", "?q", "#h").
type URL struct {
	Scheme string
	User   string
	Host   string
	Port   string
	Path   string
	Query  string
	Hash   string
	Type   Type
}

func isAbsoluteURL(input string) bool    { return schemeRE.MatchString(input) }
func isSchemeRelative(input string) bool { return strings.HasPrefix(input, "//") }
func isAbsolutePath(input string) bool   { return strings.HasPrefix(input, "/") }
func isFileURL(input string) bool        { return strings.HasPrefix(input, "file:") }

// isRelative reports whether the input is explicitly relative: it starts with
// '.', '?' or '#'.
func isRelative(input string) bool {
	return input != "" && strings.IndexByte(".?#", input[0]) >= 0
}

func parseAbsoluteURL(input string) *URL {
	m := urlRE.FindStringSubmatch(input)
	if m == nil {
		// Only reachable for malformed schemes, treat the whole input as a
		// path on an unnamed host.
		return &URL{Path: "/" + input, Type: Absolute}
	}
	path := m[5]
	if path == "" {
		path = "/"
	}
	return &URL{
		Scheme: m[1],
		User:   m[2],
		Host:   m[3],
		Port:   m[4],
		Path:   path,
		Query:  m[6],
		Hash:   m[7],
		Type:   Absolute,
	}
}

func parseFileURL(input string) *URL {
	m := fileRE.FindStringSubmatch(input)
	host, path := m[1], m[2]
	if driveRE.MatchString(host) {
		// file://C:/x has no host, the drive is part of the path.
		path = "/" + host + path
		host = ""
	}
	if !isAbsolutePath(path) {
		path = "/" + path
	}
	return &URL{
		Scheme: "file:",
		Host:   host,
		Path:   path,
		Query:  m[3],
		Hash:   m[4],
		Type:   Absolute,
	}
}

// Parse splits input into URL components and classifies it.
func Parse(input string) *URL {
	switch {
	case isSchemeRelative(input):
		u := parseAbsoluteURL("http:" + input)
		u.Scheme = ""
		u.Type = SchemeRelative
		return u
	case isAbsolutePath(input):
		u := parseAbsoluteURL("http://foo.com" + input)
		u.Scheme = ""
		u.Host = ""
		u.Type = AbsolutePath
		return u
	case isFileURL(input):
		return parseFileURL(input)
	case isAbsoluteURL(input):
		return parseAbsoluteURL(input)
	}

	u := parseAbsoluteURL("http://foo.com/" + input)
	u.Scheme = ""
	u.Host = ""
	switch {
	case input == "":
		u.Type = Empty
	case strings.HasPrefix(input, "?"):
		u.Type = Query
	case strings.HasPrefix(input, "#"):
		u.Type = Hash
	default:
		u.Type = RelativePath
	}
	return u
}

// stripPathFilename removes the last path segment, keeping the trailing
// slash. Paths ending in ".." are directories with excess parents and are
// kept whole.
func stripPathFilename(path string) string {
	if strings.HasSuffix(path, "/..") {
		return path
	}
	return path[:strings.LastIndexByte(path, '/')+1]
}

func mergePaths(u, base *URL) {
	normalizePath(base, base.Type)
	if u.Path == "/" {
		// An empty relative path.
		u.Path = base.Path
	} else {
		u.Path = stripPathFilename(base.Path) + u.Path
	}
}

// normalizePath removes "." segments, empty segments and resolvable ".."
// segments. Excess ".." segments are only kept for relative types, since
// absolute locations can't go above their root.
func normalizePath(u *URL, typ Type) {
	rel := typ <= RelativePath
	pieces := strings.Split(u.Path, "/")

	// pieces[0] is always empty: the path starts with a slash.
	pointer := 1
	// Number of real directories written, i.e. how many ".." we can pop.
	positive := 0
	addTrailingSlash := false

	for i := 1; i < len(pieces); i++ {
		piece := pieces[i]
		if piece == "" {
			addTrailingSlash = true
			continue
		}
		addTrailingSlash = false

		if piece == "." {
			continue
		}
		if piece == ".." {
			if positive > 0 {
				addTrailingSlash = true
				positive--
				pointer--
			} else if rel {
				pieces[pointer] = piece
				pointer++
			}
			continue
		}
		pieces[pointer] = piece
		pointer++
		positive++
	}

	var b strings.Builder
	for i := 1; i < pointer; i++ {
		b.WriteByte('/')
		b.WriteString(pieces[i])
	}
	path := b.String()
	if path == "" || (addTrailingSlash && !strings.HasSuffix(path, "/..")) {
		path += "/"
	}
	u.Path = path
}

// Resolve resolves input against base the way a reference is resolved against
// the document containing it: the last path segment of base names a file and
// doesn't take part in the result.
//
//	Resolve("./b.js", "a/base.js")   == "a/b.js"
//	Resolve("../up.js", "a/b/c.js")  == "a/up.js"
//	Resolve("/abs/x", "http://h/y/") == "http://h/abs/x"
//	Resolve("x.js", "")              == "x.js"
//
// An absolute path input keeps the scheme and host of a URL base, so
// "/abs/x" against "http://h/y/" is "http://h/abs/x" rather than "/abs/x".
func Resolve(input, base string) string {
	if input == "" && base == "" {
		return ""
	}

	u := Parse(input)
	typ := u.Type

	if base != "" && typ != Absolute {
		b := Parse(base)
		// Each case inherits its own component and everything less specific
		// from the base.
		switch typ {
		case Empty:
			u.Hash = b.Hash
			fallthrough
		case Hash:
			u.Query = b.Query
			fallthrough
		case Query, RelativePath:
			mergePaths(u, b)
			fallthrough
		case AbsolutePath:
			// User, host and port always travel together.
			u.User = b.User
			u.Host = b.Host
			u.Port = b.Port
			fallthrough
		case SchemeRelative:
			u.Scheme = b.Scheme
		}
		if b.Type > typ {
			typ = b.Type
		}
	}

	normalizePath(u, typ)

	queryHash := u.Query + u.Hash
	switch typ {
	case Hash, Query:
		return queryHash
	case RelativePath:
		path := u.Path[1:]
		if path == "" {
			if queryHash != "" {
				return queryHash
			}
			return "."
		}
		ref := base
		if ref == "" {
			ref = input
		}
		if isRelative(ref) && !isRelative(path) {
			return "./" + path + queryHash
		}
		return path + queryHash
	case AbsolutePath:
		return u.Path + queryHash
	default:
		return u.Scheme + "//" + u.User + u.Host + u.Port + u.Path + queryHash
	}
}

// ResolveDir resolves input against base, treating a non-empty base as a
// directory even if it doesn't end in "/". This is how source map sources are
// resolved against the source root: "lib" in `"sourceRoot": "lib"` is a
// directory, never a file.
func ResolveDir(input, base string) string {
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return Resolve(input, base)
}

// StripFilename removes everything after the last "/", keeping the slash.
func StripFilename(path string) string {
	if path == "" {
		return ""
	}
	return path[:strings.LastIndexByte(path, '/')+1]
}

package build

import (
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/shurcooL/httpfs/filter"
)

// sourceFS serves the original sources under dir. Hidden files and
// directories are never served, so that .env files and VCS metadata can't end
// up in sourcesContent.
func sourceFS(dir string) http.FileSystem {
	return filter.Skip(http.Dir(dir), func(p string, fi os.FileInfo) bool {
		for _, part := range strings.Split(p, "/") {
			if strings.HasPrefix(part, ".") {
				return true
			}
		}
		return false
	})
}

// hasSubdir reports whether dir is lexically a subdirectory of
// root, perhaps multiple levels below. It does not try to check
// whether dir exists.
// If so, hasSubdir sets rel to a slash-separated path that
// can be joined to root to produce a path equivalent to dir.
func hasSubdir(root, dir string) (rel string, ok bool) {
	// Implementation based on golang.org/x/tools/go/buildutil.
	const sep = "/" // UNIX style
	root = path.Clean(root)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}

	dir = path.Clean(dir)
	if !strings.HasPrefix(dir, root) {
		return "", false
	}

	return dir[len(root):], true
}

package mount

import (
	"path"
	"strings"
)

// ResolveExport picks the export under which target lives and returns it
// together with the path components below the export root.
//
// Only exports that match target on whole path components are considered
// ("/a" matches "/a/b" but not "/ab"). Among them the longest export path
// wins, so with exports "/a" and "/a/b" the target "/a/b/c" resolves to
// "/a/b" with remainder ["c"].
func ResolveExport(exports []Export, target string) (Export, []string, bool) {
	target = cleanPath(target)

	best := -1
	for i, e := range exports {
		dir := cleanPath(e.Dir)
		if !isComponentPrefix(dir, target) {
			continue
		}
		if best < 0 || len(dir) > len(cleanPath(exports[best].Dir)) {
			best = i
		}
	}
	if best < 0 {
		return Export{}, nil, false
	}

	rest := strings.TrimPrefix(target, cleanPath(exports[best].Dir))
	return exports[best], splitPath(rest), true
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func isComponentPrefix(dir, target string) bool {
	if dir == "/" || dir == target {
		return true
	}
	return strings.HasPrefix(target, dir) && target[len(dir)] == '/'
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// PathGuard denies filesystem paths under blocked prefixes. A leading ~ in
// either the path or a prefix expands to HomeDir.
type PathGuard struct {
	HomeDir string
	Blocked []string
}

// Check validates raw. Any ".." segment is refused before normalisation, so
// traversal is rejected even when the cleaned path would be allowed.
func (g *PathGuard) Check(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return deny(RuleBlockedPath, "path is empty")
	}
	if hasTraversal(raw) {
		return deny(RuleTraversal, "path %q contains a parent-directory segment", raw)
	}
	abs := g.normalize(raw)
	for _, b := range g.Blocked {
		prefix := g.normalize(b)
		if prefix == "" {
			continue
		}
		if underDir(abs, prefix) {
			return deny(RuleBlockedPath, "path %q is under blocked location %s", raw, b)
		}
	}
	return nil
}

// Expand returns the normalised absolute form of raw.
func (g *PathGuard) Expand(raw string) string { return g.normalize(raw) }

func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func (g *PathGuard) expandHome(p string) string {
	if p == "~" {
		return g.HomeDir
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		return filepath.Join(g.HomeDir, p[2:])
	}
	return p
}

func (g *PathGuard) normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	clean := filepath.Clean(g.expandHome(p))
	abs, err := filepath.Abs(clean)
	if err != nil {
		return clean
	}
	return abs
}

func underDir(path, dir string) bool {
	if path == dir {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, strings.TrimSuffix(dir, sep)+sep)
}

// StatFunc reports file metadata; os.Stat in production.
type StatFunc func(name string) (os.FileInfo, error)

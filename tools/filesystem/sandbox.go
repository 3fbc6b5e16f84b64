package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AccessError reports a path that resolves outside every allowed directory.
type AccessError struct {
	Path    string
	Allowed []string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied - path outside allowed directories: %s not in %s",
		e.Path, strings.Join(e.Allowed, ", "))
}

type sandbox struct {
	allowed []string
}

func newSandbox(dirs []string) (*sandbox, error) {
	if len(dirs) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dirs = []string{wd}
	}
	s := &sandbox{}
	for _, d := range dirs {
		abs, err := filepath.Abs(expandHome(d))
		if err != nil {
			return nil, fmt.Errorf("allowed directory %s: %w", d, err)
		}
		// Symlinked roots (/tmp on macOS) must compare by their real path.
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		s.allowed = append(s.allowed, filepath.Clean(abs))
	}
	return s, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (s *sandbox) contains(p string) bool {
	for _, dir := range s.allowed {
		prefix := dir
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if p == dir || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// resolve returns the absolute real path for p. Relative paths resolve
// against the first allowed directory. Paths that do not exist yet are
// checked through their nearest existing ancestor so that symlinks cannot
// escape the sandbox.
func (s *sandbox) resolve(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	p = expandHome(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.allowed[0], p)
	}
	abs := filepath.Clean(p)
	if !s.contains(abs) {
		return "", &AccessError{Path: abs, Allowed: s.allowed}
	}

	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		if !s.contains(real) {
			return "", &AccessError{Path: real, Allowed: s.allowed}
		}
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(abs)
	for {
		realParent, err := filepath.EvalSymlinks(parent)
		if err == nil {
			if !s.contains(realParent) {
				return "", &AccessError{Path: realParent, Allowed: s.allowed}
			}
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(realParent, rel), nil
		}
		next := filepath.Dir(parent)
		if next == parent {
			return "", fmt.Errorf("parent directory does not exist: %s", filepath.Dir(abs))
		}
		parent = next
	}
}

package agent

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrOutsideWorkspace is returned when a workspace-relative path, once
// cleaned, would resolve outside the workspace root — e.g. "../etc/passwd"
// arriving via /files/<path> or a tar entry name during POST /tar.
var ErrOutsideWorkspace = errors.New("agent: path escapes workspace")

// ResolveWorkspacePath joins rel onto root after cleaning it, and rejects
// the result if it would land outside root. This is the containment check
// a path-joining helper would otherwise be assumed to have: an agent that
// writes or reads outside its workspace on a shared test host is a real
// defect class, so traversal is rejected explicitly rather than assumed away.
func ResolveWorkspacePath(root, rel string) (string, error) {
	rel = filepath.Clean(strings.TrimLeft(rel, "/"))
	if rel == "." || rel == "" {
		return "", ErrOutsideWorkspace
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideWorkspace
	}

	full := filepath.Join(root, rel)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
		return "", ErrOutsideWorkspace
	}
	return full, nil
}

// EnumFiles walks root and returns every regular file's path relative to
// root, using forward slashes regardless of host OS, sorted for
// deterministic tar output (GET /tar's ordering is otherwise whatever the
// filesystem enumeration would otherwise yield).
func EnumFiles(root string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

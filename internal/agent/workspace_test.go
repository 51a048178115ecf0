package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveWorkspacePathRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	_, err := ResolveWorkspacePath(root, "../etc/passwd")
	require.ErrorIs(t, err, ErrOutsideWorkspace)

	_, err = ResolveWorkspacePath(root, "a/../../b")
	require.ErrorIs(t, err, ErrOutsideWorkspace)

	_, err = ResolveWorkspacePath(root, "..")
	require.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestResolveWorkspacePathAcceptsNestedPath(t *testing.T) {
	root := t.TempDir()

	full, err := ResolveWorkspacePath(root, "b/c")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "b", "c"), full)
}

func TestEnumFilesListsRegularFilesSorted(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "c"), []byte("yo"), 0o644))

	names, err := EnumFiles(root)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b/c"}, names)
}

func TestEnumFilesOnMissingRootReturnsEmpty(t *testing.T) {
	names, err := EnumFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, names)
}

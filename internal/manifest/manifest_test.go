package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBuiltinByName(t *testing.T) {
	f, err := Load("wut4")
	require.NoError(t, err)
	require.Equal(t, "wut4", f.Name)
	require.Equal(t, "tiny", f.Backend)
}

func TestLoadUnknownNonFileReturnsError(t *testing.T) {
	_, err := Load("definitely-not-a-target-or-file")
	require.Error(t, err)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	doc := "name: custom\nchar_size: 1\nint_size: 4\nlong_size: 4\nptr_size: 4\nbackend: il\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom", f.Name)
	require.Equal(t, 4, f.IntSize)
	require.Equal(t, "il", f.Backend)
}

func TestToTypeManifestCopiesSizes(t *testing.T) {
	f := Builtins["il64"]
	m := f.ToTypeManifest()
	require.Equal(t, 1, m.CharSize)
	require.Equal(t, 4, m.IntSize)
	require.Equal(t, 8, m.LongSize)
	require.Equal(t, 8, m.PtrSize)
}

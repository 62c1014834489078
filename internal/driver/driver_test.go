package driver

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/types"
)

func TestToolPathPrefersEnvOverride(t *testing.T) {
	t.Setenv("CC_AS", "/opt/bin/myas")
	require.Equal(t, "/opt/bin/myas", toolPath("CC_AS", "as"))
}

func TestToolPathFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("CC_LD")
	require.Equal(t, "ld", toolPath("CC_LD", "ld"))
}

func TestNewBackendSelectsByKind(t *testing.T) {
	m := types.Manifest{CharSize: 1, IntSize: 2, LongSize: 4, PtrSize: 2}
	var buf bytes.Buffer

	be, flush, err := newBackend(&buf, "tiny", m)
	require.NoError(t, err)
	require.NotNil(t, be)
	require.NotNil(t, flush)

	_, _, err = newBackend(&buf, "bogus", m)
	require.Error(t, err)
}

func TestRunPeepholeUsesBuiltinRulesByDefault(t *testing.T) {
	opt := &options{}
	got, err := runPeephole(opt, "mv r1, r1\nldi r2, 0\n")
	require.NoError(t, err)
	require.Equal(t, "mv r2, r0\n", got)
}

func TestRunPeepholeHonoursExplicitRulesFile(t *testing.T) {
	dir := t.TempDir()
	rulesPath := dir + "/rules.txt"
	require.NoError(t, os.WriteFile(rulesPath, []byte("nop\n=\n"), 0o644))

	opt := &options{peepRules: rulesPath}
	got, err := runPeephole(opt, "nop\nmv r1, r2\n")
	require.NoError(t, err)
	require.Equal(t, "mv r1, r2\n", got)
}

package tiny

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/codegen"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

func newBackend(t *testing.T) (*Backend, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	m := types.Manifest{CharSize: 1, IntSize: 2, LongSize: 4, PtrSize: 2}
	return New(&buf, m), &buf
}

func TestPreambleAndPostambleFrame(t *testing.T) {
	b, buf := newBackend(t)
	fn := &symtab.Symbol{Name: "main"}

	b.Preamble()
	b.FuncPreamble(fn)
	b.FuncPostamble(fn, 1)
	b.Postamble()
	require.NoError(t, b.Flush())

	out := buf.String()
	require.Contains(t, out, "main:")
	require.Contains(t, out, "push\tfp")
	require.Contains(t, out, "ret")
}

func TestLoadIntEmitsLdi(t *testing.T) {
	b, buf := newBackend(t)
	fn := &symtab.Symbol{Name: "f"}
	b.FuncPreamble(fn)
	b.LoadInt(7, types.P_INT)
	require.NoError(t, b.Flush())
	require.Contains(t, buf.String(), "ldi\t")
	require.Contains(t, buf.String(), "7")
}

func TestAddBinopAllocatesDistinctRegisters(t *testing.T) {
	b, buf := newBackend(t)
	fn := &symtab.Symbol{Name: "f"}
	b.FuncPreamble(fn)
	a := b.LoadInt(1, types.P_INT)
	c := b.LoadInt(2, types.P_INT)
	sum := b.Add(a, c, types.P_INT)
	require.NotEqual(t, a, c)
	require.NotEqual(t, codegen.NoReg, sum)
	require.NoError(t, b.Flush())
	require.Contains(t, buf.String(), "add")
}

func TestLongMultiplyLowersToHelperCall(t *testing.T) {
	b, buf := newBackend(t)
	fn := &symtab.Symbol{Name: "f"}
	b.FuncPreamble(fn)
	a := b.LoadInt(3, types.P_LONG)
	c := b.LoadInt(4, types.P_LONG)
	b.Mul(a, c, types.P_LONG)
	require.NoError(t, b.Flush())
	require.Contains(t, buf.String(), "__mull")
}

package codegen_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/backend/il"
	"github.com/gmofish/ccyg/internal/codegen"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

// buildReturnSum builds the AST for `int main() { return 1 + 2; }`.
func buildReturnSum(b *ast.Builder, fn *symtab.Symbol) *ast.Node {
	one := b.Leaf(ast.IntLit, types.P_INT, 0, 1)
	one.IntValue = 1
	two := b.Leaf(ast.IntLit, types.P_INT, 0, 1)
	two.IntValue = 2
	sum := b.Binary(ast.Add, types.P_INT, one, two, 1)

	ret := b.Unary(ast.Return, types.P_INT, sum, fn.ID, 1)
	body := b.Make(ast.Function, types.P_INT, ret, nil, nil, fn.ID, 1)
	return body
}

func TestGenerateEmitsFunctionForReturnStatement(t *testing.T) {
	tbl := symtab.New()
	fn, err := tbl.AddGlobal("main", types.P_INT, 0, symtab.KindFunction, symtab.VisGlobal)
	require.NoError(t, err)

	b := ast.NewBuilder()
	root := buildReturnSum(b, fn)

	var buf bytes.Buffer
	m := types.Manifest{CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8}
	be := il.New(&buf, m)

	gen := codegen.New(be, tbl)
	err = gen.Generate([]codegen.CompiledFunc{{Sym: fn, Root: root}})
	require.NoError(t, err)
	require.NoError(t, be.Flush())

	out := buf.String()
	require.Contains(t, out, "FUNCTION main")
	require.Contains(t, out, "ADD.W")
	require.Contains(t, out, "RETURN")
	require.Contains(t, out, "ENDFUNCTION main")
}

func TestGenerateLocalVariableLoadStore(t *testing.T) {
	tbl := symtab.New()
	fn, err := tbl.AddGlobal("f", types.P_INT, 0, symtab.KindFunction, symtab.VisGlobal)
	require.NoError(t, err)
	x, err := tbl.AddLocal("x", types.P_INT, 0)
	require.NoError(t, err)

	b := ast.NewBuilder()
	five := b.Leaf(ast.IntLit, types.P_INT, 0, 1)
	five.IntValue = 5
	ident := b.Leaf(ast.Ident, types.P_INT, x.ID, 1)
	assign := b.Make(ast.Assign, types.P_INT, five, nil, ident, 0, 1)
	body := b.Make(ast.Function, types.P_NONE, assign, nil, nil, fn.ID, 1)

	var buf bytes.Buffer
	m := types.Manifest{CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8}
	be := il.New(&buf, m)
	gen := codegen.New(be, tbl)

	err = gen.Generate([]codegen.CompiledFunc{{Sym: fn, Root: body}})
	require.NoError(t, err)
	require.NoError(t, be.Flush())

	require.Contains(t, buf.String(), "STORE.W %x")
}

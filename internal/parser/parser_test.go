package parser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/parser"
	"github.com/gmofish/ccyg/internal/scanner"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/token"
	"github.com/gmofish/ccyg/internal/types"
)

var testManifest = types.Manifest{CharSize: 1, IntSize: 2, LongSize: 4, PtrSize: 2}

func tokenize(t *testing.T, src string) []token.Token {
	t.Helper()
	toks, err := scanner.Tokenize(strings.NewReader(src), "t.c")
	require.NoError(t, err)
	return toks
}

func TestParseSimpleFunctionReturningConstant(t *testing.T) {
	src := "int main() { return 42; }"
	p := parser.New(tokenize(t, src), testManifest)
	result, err := p.Parse()
	require.NoError(t, err)
	require.Len(t, result.Functions, 1)

	fn := result.Functions[0]
	require.Equal(t, "main", fn.Sym.Name)
	require.NotNil(t, fn.Root)
}

func TestParseGlobalVariableDeclaration(t *testing.T) {
	src := "int counter;"
	p := parser.New(tokenize(t, src), testManifest)
	result, err := p.Parse()
	require.NoError(t, err)

	sym := result.Table.FindSymbol("counter")
	require.NotNil(t, sym)
}

func TestParseIfElseStatement(t *testing.T) {
	src := `int main() {
		int x;
		if (x) {
			return 1;
		} else {
			return 0;
		}
	}`
	p := parser.New(tokenize(t, src), testManifest)
	result, err := p.Parse()
	require.NoError(t, err)
	require.Len(t, result.Functions, 1)

	body := result.Functions[0].Root
	require.NotNil(t, body)

	var found *ast.Node
	var walk func(n *ast.Node)
	walk = func(n *ast.Node) {
		if n == nil || found != nil {
			return
		}
		if n.Op == ast.If {
			found = n
			return
		}
		walk(n.Left)
		walk(n.Mid)
		walk(n.Right)
	}
	walk(body)
	require.NotNil(t, found, "expected an If node in the parsed tree")
}

func TestParseUndeclaredIdentifierIsAnError(t *testing.T) {
	src := "int main() { return undeclared_name; }"
	p := parser.New(tokenize(t, src), testManifest)
	_, err := p.Parse()
	require.Error(t, err)
}

func TestParseWhileLoopWithBreak(t *testing.T) {
	src := `int main() {
		while (1) {
			break;
		}
		return 0;
	}`
	p := parser.New(tokenize(t, src), testManifest)
	_, err := p.Parse()
	require.NoError(t, err)
}

func findOp(n *ast.Node, op ast.Op) *ast.Node {
	if n == nil {
		return nil
	}
	if n.Op == op {
		return n
	}
	if found := findOp(n.Left, op); found != nil {
		return found
	}
	if found := findOp(n.Mid, op); found != nil {
		return found
	}
	return findOp(n.Right, op)
}

func TestParsePointerArithmeticScalesIntOperand(t *testing.T) {
	src := `int *p; int main() { p = p + 2; return *p; }`
	p := parser.New(tokenize(t, src), testManifest)
	result, err := p.Parse()
	require.NoError(t, err)

	scale := findOp(result.Functions[0].Root, ast.Scale)
	require.NotNil(t, scale, "expected a Scale node scaling the int operand of p + 2")
	require.Equal(t, int64(testManifest.IntSize), scale.IntValue)
}

func TestParseCompoundAssignmentBuildsAsPlusNode(t *testing.T) {
	src := `int main() { int x; x += 2; return x; }`
	p := parser.New(tokenize(t, src), testManifest)
	result, err := p.Parse()
	require.NoError(t, err)

	require.NotNil(t, findOp(result.Functions[0].Root, ast.AsPlus))
}

func TestParseAddressOfSetsHasAddressOnGlobal(t *testing.T) {
	src := `int g; int main() { int *p; p = &g; return 0; }`
	p := parser.New(tokenize(t, src), testManifest)
	result, err := p.Parse()
	require.NoError(t, err)

	sym := result.Table.FindSymbol("g")
	require.NotNil(t, sym)
	require.True(t, sym.HasAddress)
}

func TestParseDuplicateGlobalDeclarationIsAnError(t *testing.T) {
	src := "int g; int g;"
	p := parser.New(tokenize(t, src), testManifest)
	_, err := p.Parse()
	require.Error(t, err)
}

func TestParseExternThenDefinitionPromotesGlobal(t *testing.T) {
	src := "extern int g; int g;"
	p := parser.New(tokenize(t, src), testManifest)
	result, err := p.Parse()
	require.NoError(t, err)

	sym := result.Table.FindSymbol("g")
	require.NotNil(t, sym)
	require.Equal(t, symtab.VisGlobal, sym.Visibility)
}

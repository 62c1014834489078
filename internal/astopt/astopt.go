// Package astopt implements the pure tree-rewrite optimisation pass
// that runs over each function's AST before code generation: constant
// folding of arithmetic on two integer literals, and a handful of
// strength reductions (multiply/divide by a power of two becomes a
// shift). It never changes a tree's external shape (no node is
// deleted mid-traversal; a folded subtree is replaced in place), so
// the generator downstream does not need to know whether it ran.
package astopt

import (
	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/types"
)

// Fold walks n bottom-up, folding constant subtrees, and returns the
// (possibly replaced) node.
func Fold(b *ast.Builder, n *ast.Node) *ast.Node {
	if n == nil {
		return nil
	}
	n.Left = Fold(b, n.Left)
	n.Mid = Fold(b, n.Mid)
	n.Right = Fold(b, n.Right)

	switch n.Op {
	case ast.Add, ast.Subtract, ast.Multiply, ast.Divide, ast.Mod,
		ast.And, ast.Or, ast.Xor, ast.LShift, ast.RShift:
		if isIntLit(n.Left) && isIntLit(n.Right) {
			if v, ok := foldBinary(n.Op, n.Left.IntValue, n.Right.IntValue); ok {
				return intLit(b, n.Type, n.Line, v)
			}
		}
		if n.Op == ast.Multiply {
			if lit, other, ok := constSide(n); ok {
				if shift, isPow2 := powerOfTwo(lit); isPow2 && shift > 0 {
					scaled := b.Binary(ast.LShift, n.Type, other, intLit(b, n.Type, n.Line, int64(shift)), n.Line)
					return scaled
				}
			}
		}
		if n.Op == ast.Divide {
			if isIntLit(n.Right) {
				if shift, isPow2 := powerOfTwo(n.Right.IntValue); isPow2 && shift > 0 {
					return b.Binary(ast.RShift, n.Type, n.Left, intLit(b, n.Type, n.Line, int64(shift)), n.Line)
				}
			}
		}
	case ast.Negate:
		if isIntLit(n.Left) {
			return intLit(b, n.Type, n.Line, -n.Left.IntValue)
		}
	case ast.Invert:
		if isIntLit(n.Left) {
			return intLit(b, n.Type, n.Line, ^n.Left.IntValue)
		}
	}
	return n
}

func isIntLit(n *ast.Node) bool { return n != nil && n.Op == ast.IntLit }

// constSide returns the literal child and the non-literal child of a
// commutative binary node, if exactly one side is constant.
func constSide(n *ast.Node) (lit int64, other *ast.Node, ok bool) {
	if isIntLit(n.Left) && !isIntLit(n.Right) {
		return n.Left.IntValue, n.Right, true
	}
	if isIntLit(n.Right) && !isIntLit(n.Left) {
		return n.Right.IntValue, n.Left, true
	}
	return 0, nil, false
}

func powerOfTwo(v int64) (shift int, ok bool) {
	if v <= 0 {
		return 0, false
	}
	for s := 0; s < 63; s++ {
		if int64(1)<<uint(s) == v {
			return s, true
		}
	}
	return 0, false
}

func foldBinary(op ast.Op, l, r int64) (int64, bool) {
	switch op {
	case ast.Add:
		return l + r, true
	case ast.Subtract:
		return l - r, true
	case ast.Multiply:
		return l * r, true
	case ast.Divide:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case ast.Mod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	case ast.And:
		return l & r, true
	case ast.Or:
		return l | r, true
	case ast.Xor:
		return l ^ r, true
	case ast.LShift:
		return l << uint(r), true
	case ast.RShift:
		return l >> uint(r), true
	}
	return 0, false
}

func intLit(b *ast.Builder, ty types.PrimType, line int, v int64) *ast.Node {
	n := b.Leaf(ast.IntLit, ty, 0, line)
	n.IntValue = v
	return n
}


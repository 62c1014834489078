package ast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/types"
)

func TestBuilderAllocatesUniqueMonotonicIDs(t *testing.T) {
	b := NewBuilder()
	a := b.Leaf(IntLit, types.P_INT, 0, 1)
	c := b.Leaf(IntLit, types.P_INT, 0, 1)
	require.Less(t, a.ID, c.ID)
}

func TestBinarySetsChildIDsFromChildNodes(t *testing.T) {
	b := NewBuilder()
	left := b.Leaf(IntLit, types.P_INT, 0, 1)
	right := b.Leaf(IntLit, types.P_INT, 0, 1)
	sum := b.Binary(Add, types.P_INT, left, right, 1)

	require.Equal(t, left.ID, sum.LeftID)
	require.Equal(t, right.ID, sum.RightID)
	require.Same(t, left, sum.Left)
	require.Same(t, right, sum.Right)
}

func TestGlueWithNilOperandReturnsOther(t *testing.T) {
	b := NewBuilder()
	stmt := b.Leaf(IntLit, types.P_INT, 0, 1)

	require.Same(t, stmt, b.Glue(nil, stmt))
	require.Same(t, stmt, b.Glue(stmt, nil))
	require.Nil(t, b.Glue(nil, nil))
}

func TestGlueChainsTwoStatements(t *testing.T) {
	b := NewBuilder()
	first := b.Leaf(IntLit, types.P_INT, 0, 1)
	second := b.Leaf(IntLit, types.P_INT, 0, 2)
	g := b.Glue(first, second)

	require.Equal(t, Glue, g.Op)
	require.Same(t, first, g.Left)
	require.Same(t, second, g.Right)
	require.Equal(t, first.Line, g.Line)
}

func TestIsRelationalCoversComparisonOpsOnly(t *testing.T) {
	for op := Eq; op <= Ge; op++ {
		require.True(t, op.IsRelational(), "%v should be relational", op)
	}
	require.False(t, Add.IsRelational())
	require.False(t, Assign.IsRelational())
}

func TestOpStringKnownAndUnknown(t *testing.T) {
	require.Equal(t, "ADD", Add.String())
	require.Equal(t, "UNKNOWN", Op(9999).String())
}

package astio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

func TestWriteAndReadNodeAtRoundTrip(t *testing.T) {
	b := ast.NewBuilder()
	left := b.Leaf(ast.IntLit, types.P_INT, 0, 10)
	left.IntValue = 42
	right := b.Leaf(ast.IntLit, types.P_INT, 0, 10)
	right.IntValue = 7
	sum := b.Binary(ast.Add, types.P_INT, left, right, 10)
	sum.Name = "sumnode"

	var buf bytes.Buffer
	index, err := WriteAST(&buf, []*ast.Node{sum})
	require.NoError(t, err)
	require.Len(t, index, 3)

	reader := bytes.NewReader(buf.Bytes())
	got, err := ReadNodeAt(reader, index[sum.ID])
	require.NoError(t, err)
	require.Equal(t, sum.ID, got.ID)
	require.Equal(t, ast.Add, got.Op)
	require.Equal(t, left.ID, got.LeftID)
	require.Equal(t, right.ID, got.RightID)
	require.Equal(t, "sumnode", got.Name)

	gotLeft, err := ReadNodeAt(reader, index[left.ID])
	require.NoError(t, err)
	require.Equal(t, int64(42), gotLeft.IntValue)
}

func TestIndexLoadHydratesChildren(t *testing.T) {
	b := ast.NewBuilder()
	left := b.Leaf(ast.IntLit, types.P_INT, 0, 1)
	left.IntValue = 1
	right := b.Leaf(ast.IntLit, types.P_INT, 0, 1)
	right.IntValue = 2
	sum := b.Binary(ast.Add, types.P_INT, left, right, 1)

	var buf bytes.Buffer
	offsets, err := WriteAST(&buf, []*ast.Node{sum})
	require.NoError(t, err)

	reader := bytes.NewReader(buf.Bytes())
	idx := NewIndex(reader, offsets)

	loaded, err := idx.Load(sum.ID)
	require.NoError(t, err)
	require.Equal(t, ast.Add, loaded.Op)
	require.NotNil(t, loaded.Left)
	require.NotNil(t, loaded.Right)
	require.Equal(t, int64(1), loaded.Left.IntValue)
	require.Equal(t, int64(2), loaded.Right.IntValue)
}

func TestIndexLoadZeroIDReturnsNil(t *testing.T) {
	idx := NewIndex(bytes.NewReader(nil), map[int]int64{})
	n, err := idx.Load(0)
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestWriteIndexReadIndexRoundTrip(t *testing.T) {
	original := map[int]int64{1: 0, 2: 64, 3: 128}
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, original))

	got, err := ReadIndex(&buf)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestWriteSymbolsReadSymbolsRoundTrip(t *testing.T) {
	tbl := symtab.New()
	g, err := tbl.AddGlobal("counter", types.P_INT, 0, symtab.KindVariable, symtab.VisGlobal)
	require.NoError(t, err)
	g.Size = 4
	g.NElems = 0
	g.HasAddress = true

	arr, err := tbl.AddGlobal("tbl_data", types.P_INT, 0, symtab.KindArray, symtab.VisGlobal)
	require.NoError(t, err)
	arr.NElems = 3
	arr.Size = 12
	arr.InitList = []int64{1, 2, 3}

	owner := &symtab.Symbol{Name: "point", ID: 1000, Type: types.P_STRUCT, Kind: symtab.KindVariable, Visibility: symtab.VisGlobal, Size: 8}
	tbl.AddMember(owner, "x", types.P_INT, 0, 0)
	tbl.AddMember(owner, "y", types.P_INT, 0, 4)
	tbl.RestoreGlobal(owner)

	var buf bytes.Buffer
	require.NoError(t, WriteSymbols(&buf, tbl))

	got, err := ReadSymbols(&buf)
	require.NoError(t, err)
	require.Len(t, got.Globals(), 3)

	gotCounter := got.FindSymbol("counter")
	require.NotNil(t, gotCounter)
	require.Equal(t, types.P_INT, gotCounter.Type)
	require.Equal(t, 4, gotCounter.Size)
	require.True(t, gotCounter.HasAddress)

	gotArr := got.FindSymbol("tbl_data")
	require.NotNil(t, gotArr)
	require.Equal(t, 3, gotArr.NElems)
	require.Equal(t, []int64{1, 2, 3}, gotArr.InitList)

	gotOwner := got.FindSymbol("point")
	require.NotNil(t, gotOwner)
	require.Len(t, gotOwner.Members, 2)
	require.Equal(t, "x", gotOwner.Members[0].Name)
	require.Equal(t, 4, gotOwner.Members[1].MemberOffset())
}

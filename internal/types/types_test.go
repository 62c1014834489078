package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPointerToValueAtRoundTrip(t *testing.T) {
	for _, base := range []PrimType{P_VOID, P_CHAR, P_INT, P_LONG, P_STRUCT, P_UNION} {
		p := base.PointerTo()
		require.True(t, p.IsPointer())
		require.Equal(t, base, p.ValueAt())
	}
}

func TestIndirectionCountTracksPointerDepth(t *testing.T) {
	t1 := P_INT
	require.Equal(t, 0, t1.Indirection())
	t2 := t1.PointerTo()
	require.Equal(t, 1, t2.Indirection())
	t3 := t2.PointerTo().PointerTo()
	require.Equal(t, 3, t3.Indirection())
	require.Equal(t, P_INT, t3.Base())
}

func TestIsIntExcludesPointersAndComposites(t *testing.T) {
	require.True(t, P_CHAR.IsInt())
	require.True(t, P_INT.IsInt())
	require.True(t, P_LONG.IsInt())
	require.False(t, P_VOID.IsInt())
	require.False(t, P_INT.PointerTo().IsInt())
	require.False(t, P_STRUCT.IsInt())
}

func TestIsStructOrUnion(t *testing.T) {
	require.True(t, P_STRUCT.IsStructOrUnion())
	require.True(t, P_UNION.IsStructOrUnion())
	require.False(t, P_INT.IsStructOrUnion())
	// IsStructOrUnion only inspects the base bits, so a pointer to a
	// struct is still reported struct-ish; callers check IsPointer
	// separately when indirection matters.
	require.True(t, P_STRUCT.PointerTo().IsStructOrUnion())
}

func TestTypeSizePrimitives(t *testing.T) {
	m := Manifest{CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8}
	reg := NewRegistry()
	require.Equal(t, 1, TypeSize(P_CHAR, 0, m, reg))
	require.Equal(t, 4, TypeSize(P_INT, 0, m, reg))
	require.Equal(t, 8, TypeSize(P_LONG, 0, m, reg))
	require.Equal(t, 8, TypeSize(P_INT.PointerTo(), 0, m, reg))
}

func TestTypeSizeStructComesFromRegistry(t *testing.T) {
	m := Manifest{CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8}
	reg := NewRegistry()
	c := reg.NewStruct("P")
	c.Size = 16
	c.Members = []Member{
		{Name: "a", Type: P_CHAR, Offset: 0},
		{Name: "b", Type: P_INT, Offset: 4},
		{Name: "c", Type: P_LONG, Offset: 8},
	}
	require.Equal(t, 16, TypeSize(P_STRUCT, c.ID, m, reg))

	// §8 invariant: offset(mi) + sizeof(mi) <= offset(mi+1), and
	// T.size == offset(last) + sizeof(last).
	for i := 0; i+1 < len(c.Members); i++ {
		sz := TypeSize(c.Members[i].Type, c.Members[i].Ctype, m, reg)
		require.LessOrEqual(t, c.Members[i].Offset+sz, c.Members[i+1].Offset)
	}
	last := c.Members[len(c.Members)-1]
	require.Equal(t, c.Size, last.Offset+TypeSize(last.Type, last.Ctype, m, reg))
}

func TestModifyTypeWideningPicksWiderRank(t *testing.T) {
	reg := NewRegistry()
	m := Manifest{CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8}

	got, ok := ModifyType(P_INT, P_CHAR, 0, 0, 0, reg, m)
	require.True(t, ok)
	require.Equal(t, P_INT, got)

	got, ok = ModifyType(P_CHAR, P_LONG, 0, 0, 0, reg, m)
	require.True(t, ok)
	require.Equal(t, P_LONG, got)
}

func TestModifyTypePointerPlusIntStaysPointer(t *testing.T) {
	reg := NewRegistry()
	m := Manifest{CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8}
	ptr := P_INT.PointerTo()

	got, ok := ModifyType(ptr, P_INT, 0, 0, 0, reg, m)
	require.True(t, ok)
	require.Equal(t, ptr, got)

	got, ok = ModifyType(P_INT, ptr, 0, 0, 0, reg, m)
	require.True(t, ok)
	require.Equal(t, ptr, got)
}

func TestModifyTypeIncompatiblePointersRejected(t *testing.T) {
	reg := NewRegistry()
	m := Manifest{CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8}
	intPtr := P_INT.PointerTo()
	charPtr := P_CHAR.PointerTo()

	_, ok := ModifyType(intPtr, charPtr, 0, 0, 0, reg, m)
	require.False(t, ok)
}

func TestTypedefRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.DefineTypedef("myint", P_INT, 0)
	ty, ctype, ok := reg.LookupTypedef("myint")
	require.True(t, ok)
	require.Equal(t, P_INT, ty)
	require.Equal(t, 0, ctype)

	_, _, ok = reg.LookupTypedef("nope")
	require.False(t, ok)
}

package symtab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/types"
)

func TestAddGlobalThenFindSymbol(t *testing.T) {
	tbl := New()
	g, err := tbl.AddGlobal("counter", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	require.Equal(t, "counter", g.Name)
	require.NotZero(t, g.ID)

	got := tbl.FindSymbol("counter")
	require.Same(t, g, got)
}

func TestLocalShadowsGlobal(t *testing.T) {
	tbl := New()
	_, err := tbl.AddGlobal("x", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	local, err := tbl.AddLocal("x", types.P_CHAR, 0)
	require.NoError(t, err)

	got := tbl.FindSymbol("x")
	require.Same(t, local, got)
}

func TestFindLocalDoesNotFallBackToGlobal(t *testing.T) {
	tbl := New()
	_, err := tbl.AddGlobal("g", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	require.Nil(t, tbl.FindLocal("g"))
}

func TestFreeLocalSymbolsResetsFrame(t *testing.T) {
	tbl := New()
	_, err := tbl.AddParam("a", types.P_INT, 0)
	require.NoError(t, err)
	_, err = tbl.AddLocal("b", types.P_INT, 0)
	require.NoError(t, err)
	require.Len(t, tbl.Params(), 1)
	require.Len(t, tbl.Locals(), 1)

	tbl.FreeLocalSymbols()
	require.Empty(t, tbl.Params())
	require.Empty(t, tbl.Locals())
	require.Nil(t, tbl.FindSymbol("a"))
	require.Nil(t, tbl.FindSymbol("b"))
}

func TestFreeStaticSymbolsDropsOnlyStatic(t *testing.T) {
	tbl := New()
	pub, err := tbl.AddGlobal("pub", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	priv, err := tbl.AddGlobal("priv", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	priv.Visibility = VisStatic

	tbl.FreeStaticSymbols()

	require.Equal(t, []*Symbol{pub}, tbl.Globals())
	require.Nil(t, tbl.FindSymbol("priv"))
	require.Same(t, pub, tbl.FindSymbol("pub"))
}

func TestStructTagAndMemberLookup(t *testing.T) {
	tbl := New()
	s := tbl.AddStruct("point")
	tbl.AddMember(s, "x", types.P_INT, 0, 0)
	tbl.AddMember(s, "y", types.P_INT, 0, 4)

	require.Same(t, s, tbl.FindStruct("point"))
	require.Nil(t, tbl.FindStruct("nope"))

	my := tbl.FindMember(s, "y")
	require.NotNil(t, my)
	require.Equal(t, 4, my.MemberOffset())
}

func TestEnumValueAndTypedefLookup(t *testing.T) {
	tbl := New()
	tbl.AddEnumType("color")
	tbl.AddEnumValue("RED", 0)
	tbl.AddEnumValue("BLUE", 1)
	tbl.AddTypedef("u8", types.P_CHAR, 0)

	require.NotNil(t, tbl.FindEnumType("color"))
	blue := tbl.FindEnumValue("BLUE")
	require.NotNil(t, blue)
	require.Equal(t, int64(1), blue.InitList[0])

	td := tbl.FindTypedef("u8")
	require.NotNil(t, td)
	require.Equal(t, types.P_CHAR, td.Type)
}

func TestPosnAliasingMatchesSentinelUses(t *testing.T) {
	fn := &Symbol{Kind: KindFunction}
	fn.SetEndLabel(42)
	require.Equal(t, 42, fn.EndLabel())
	require.Equal(t, 42, fn.Posn)

	local := &Symbol{Posn: -8}
	require.Equal(t, -8, local.FrameOffset())

	vararg := &Symbol{Size: -1}
	require.True(t, vararg.HasEllipsis())
}

func TestNewIDsAreUniqueAndMonotonic(t *testing.T) {
	tbl := New()
	a, err := tbl.AddGlobal("a", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	b, err := tbl.AddGlobal("b", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	require.Less(t, a.ID, b.ID)
}

func TestAddGlobalRejectsRedeclaration(t *testing.T) {
	tbl := New()
	_, err := tbl.AddGlobal("n", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	_, err = tbl.AddGlobal("n", types.P_INT, 0, KindVariable, VisGlobal)
	require.Error(t, err)
}

func TestAddGlobalPromotesExternToDefinition(t *testing.T) {
	tbl := New()
	decl, err := tbl.AddGlobal("n", types.P_INT, 0, KindVariable, VisExternal)
	require.NoError(t, err)

	def, err := tbl.AddGlobal("n", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)
	require.Same(t, decl, def)
	require.Equal(t, VisGlobal, decl.Visibility)
}

func TestAddGlobalKeepsDefinitionAgainstLaterExtern(t *testing.T) {
	tbl := New()
	def, err := tbl.AddGlobal("n", types.P_INT, 0, KindVariable, VisGlobal)
	require.NoError(t, err)

	again, err := tbl.AddGlobal("n", types.P_INT, 0, KindVariable, VisExternal)
	require.NoError(t, err)
	require.Same(t, def, again)
	require.Equal(t, VisGlobal, def.Visibility)
}

func TestAddLocalRejectsRedeclaration(t *testing.T) {
	tbl := New()
	_, err := tbl.AddLocal("x", types.P_INT, 0)
	require.NoError(t, err)
	_, err = tbl.AddLocal("x", types.P_CHAR, 0)
	require.Error(t, err)
}

func TestAddParamRejectsRedeclaration(t *testing.T) {
	tbl := New()
	_, err := tbl.AddParam("a", types.P_INT, 0)
	require.NoError(t, err)
	_, err = tbl.AddParam("a", types.P_INT, 0)
	require.Error(t, err)
}

package ccerr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiagnosticErrorFormatting(t *testing.T) {
	require.Equal(t, "error: boom", Fatalf("", 0, "boom").Error())
	require.Equal(t, "foo.c: error: boom", Fatalf("foo.c", 0, "boom").Error())
	require.Equal(t, "foo.c:12: error: boom", Fatalf("foo.c", 12, "boom").Error())
	require.Equal(t, "foo.c:12: warning: boom", Warnf("foo.c", 12, "boom").Error())
}

func TestBagHasErrorsOnlyOnFatal(t *testing.T) {
	var b Bag
	require.False(t, b.HasErrors())

	b.Warnf("a.c", 1, "unused variable %s", "x")
	require.False(t, b.HasErrors())
	require.Equal(t, 1, b.Count())

	b.Fatalf("a.c", 2, "undeclared identifier %s", "y")
	require.True(t, b.HasErrors())
	require.Equal(t, 2, b.Count())
	require.Len(t, b.All(), 2)
}

func TestFatalfFormatsMessageArgs(t *testing.T) {
	d := Fatalf("a.c", 3, "expected %s, got %s", "int", "char")
	require.Equal(t, "expected int, got char", d.Message)
}

package scanner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmofish/ccyg/internal/token"
)

func tokenize(t *testing.T, src string) []token.Token {
	t.Helper()
	toks, err := Tokenize(strings.NewReader(src), "t.c")
	require.NoError(t, err)
	return toks
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, tok := range toks {
		out[i] = tok.Kind
	}
	return out
}

func TestTokenizeKeywordsAndIdent(t *testing.T) {
	toks := tokenize(t, "int main")
	require.Equal(t, []token.Kind{token.KwInt, token.Ident, token.EOF}, kinds(toks))
	require.Equal(t, "main", toks[1].Text)
}

func TestTokenizeDecimalAndHexLiterals(t *testing.T) {
	toks := tokenize(t, "42 0x2A")
	require.Equal(t, []token.Kind{token.IntLit, token.IntLit, token.EOF}, kinds(toks))
	require.Equal(t, int64(42), toks[0].IntVal)
	require.Equal(t, int64(42), toks[1].IntVal)
}

func TestTokenizeOctalLiteral(t *testing.T) {
	toks := tokenize(t, "010 0 017")
	require.Equal(t, int64(8), toks[0].IntVal)
	require.Equal(t, int64(0), toks[1].IntVal)
	require.Equal(t, int64(15), toks[2].IntVal)
}

func TestTokenizeDigitSeparatorDropped(t *testing.T) {
	toks := tokenize(t, "1_000_000")
	require.Equal(t, int64(1000000), toks[0].IntVal)
}

func TestTokenizeStringAndCharLiterals(t *testing.T) {
	toks := tokenize(t, `"hi\n" 'a' '\0'`)
	require.Equal(t, token.StrLit, toks[0].Kind)
	require.Equal(t, "hi\n", toks[0].Text)
	require.Equal(t, token.CharLit, toks[1].Kind)
	require.Equal(t, int64('a'), toks[1].IntVal)
	require.Equal(t, token.CharLit, toks[2].Kind)
	require.Equal(t, int64(0), toks[2].IntVal)
}

func TestTokenizeExtendedEscapeSequences(t *testing.T) {
	toks := tokenize(t, `'\a' '\b' '\f' '\v' '\101' '\x41'`)
	require.Equal(t, int64(0x07), toks[0].IntVal)
	require.Equal(t, int64(0x08), toks[1].IntVal)
	require.Equal(t, int64(0x0C), toks[2].IntVal)
	require.Equal(t, int64(0x0B), toks[3].IntVal)
	require.Equal(t, int64('A'), toks[4].IntVal)
	require.Equal(t, int64('A'), toks[5].IntVal)
}

func TestTokenizeUnrecognisedEscapeIsAnError(t *testing.T) {
	_, err := Tokenize(strings.NewReader(`'\q'`), "t.c")
	require.Error(t, err)
}

func TestTokenizeMultiCharOperatorsPreferLongestMatch(t *testing.T) {
	toks := tokenize(t, "a += 1; b == c; d->e; f...g")
	require.Equal(t, []token.Kind{
		token.Ident, token.AssignPlus, token.IntLit, token.Semi,
		token.Ident, token.Eq, token.Ident, token.Semi,
		token.Ident, token.Arrow, token.Ident, token.Semi,
		token.Ident, token.Ellipsis, token.Ident, token.EOF,
	}, kinds(toks))
}

func TestTokenizeSkipsLineAndBlockComments(t *testing.T) {
	toks := tokenize(t, "a // trailing comment\n/* block\ncomment */ b")
	require.Equal(t, []token.Kind{token.Ident, token.Ident, token.EOF}, kinds(toks))
	require.Equal(t, "a", toks[0].Text)
	require.Equal(t, "b", toks[1].Text)
}

func TestHandleLineMarkerUpdatesFileAndLine(t *testing.T) {
	toks := tokenize(t, "a\n# 17 \"foo.c\"\nb")
	require.Equal(t, "t.c", toks[0].File)
	require.Equal(t, 1, toks[0].Line)
	require.Equal(t, "foo.c", toks[1].File)
	require.Equal(t, 17, toks[1].Line)
}

func TestUnterminatedStringIsAnError(t *testing.T) {
	_, err := Tokenize(strings.NewReader(`"abc`), "t.c")
	require.Error(t, err)
}

func TestEOFTokenTerminatesStream(t *testing.T) {
	toks := tokenize(t, "")
	require.Len(t, toks, 1)
	require.Equal(t, token.EOF, toks[0].Kind)
}

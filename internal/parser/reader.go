package parser

import (
	"fmt"

	"github.com/gmofish/ccyg/internal/token"
)

// tokenReader wraps a pre-scanned token slice with the peek/expect
// idiom the reference toolchain's parser uses, so grammar rules read
// as a sequence of small assertions rather than manual index math.
type tokenReader struct {
	toks []token.Token
	pos  int
}

func newTokenReader(toks []token.Token) *tokenReader {
	return &tokenReader{toks: toks}
}

func (r *tokenReader) Peek() token.Token {
	if r.pos >= len(r.toks) {
		return token.Token{Kind: token.EOF}
	}
	return r.toks[r.pos]
}

func (r *tokenReader) PeekAt(n int) token.Token {
	i := r.pos + n
	if i >= len(r.toks) {
		return token.Token{Kind: token.EOF}
	}
	return r.toks[i]
}

func (r *tokenReader) Next() token.Token {
	t := r.Peek()
	if r.pos < len(r.toks) {
		r.pos++
	}
	return t
}

func (r *tokenReader) Expect(k token.Kind) (token.Token, error) {
	t := r.Peek()
	if t.Kind != k {
		return t, fmt.Errorf("%s:%d: expected %s, found %s", t.File, t.Line, k, t.Kind)
	}
	return r.Next(), nil
}

func (r *tokenReader) ExpectIdent() (token.Token, error) {
	return r.Expect(token.Ident)
}

func (r *tokenReader) At(k token.Kind) bool {
	return r.Peek().Kind == k
}

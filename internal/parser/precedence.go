package parser

import "github.com/gmofish/ccyg/internal/token"

// binPrec gives each binary operator token a precedence level for the
// precedence-climbing expression parser; higher binds tighter. Levels
// follow the reference compiler's OpPrec table, extended with the
// extra operators (shifts, bitwise and/or/xor, logical and/or) the
// original step left for a later chapter.
var binPrec = map[token.Kind]int{
	token.AssignPlus:  5,
	token.AssignMinus: 5,
	token.AssignStar:  5,
	token.AssignSlash: 5,
	token.AssignMod:   5,
	token.LogOr:  10,
	token.LogAnd: 20,
	token.Or:     30,
	token.Xor:    40,
	token.Amp:    50,
	token.Eq:     60,
	token.Ne:     60,
	token.Lt:     70,
	token.Gt:     70,
	token.Le:     70,
	token.Ge:     70,
	token.LShift: 80,
	token.RShift: 80,
	token.Plus:   90,
	token.Minus:  90,
	token.Star:   100,
	token.Slash:  100,
	token.Mod:    100,
}

func precedenceOf(k token.Kind) (int, bool) {
	p, ok := binPrec[k]
	return p, ok
}

func isRightAssoc(k token.Kind) bool {
	switch k {
	case token.AssignPlus, token.AssignMinus, token.AssignStar, token.AssignSlash, token.AssignMod:
		return true
	}
	return false
}

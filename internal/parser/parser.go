// Package parser turns a token stream into a typed AST plus the
// symbol table and composite-type registry built up while reading
// declarations.
//
// Expressions are parsed with precedence climbing (see precedence.go)
// the way the reference toolchain's expr.c does; statements and
// declarations are straightforward recursive descent following the C
// grammar one production at a time.
package parser

import (
	"fmt"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/ccerr"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/token"
	"github.com/gmofish/ccyg/internal/types"
)

// Result is everything the parser hands the next phase.
type Result struct {
	Table     *symtab.Table
	Registry  *types.Registry
	Functions []*Function
	Builder   *ast.Builder
}

// Function pairs a parsed function's AST root with its symbol.
type Function struct {
	Sym  *symtab.Symbol
	Root *ast.Node
}

// Parser holds parse state. Looplevel/Switchlevel are fields rather
// than package globals so that nested or repeated Parse calls (as in
// tests) don't share mutable state.
type Parser struct {
	tr       *tokenReader
	tbl      *symtab.Table
	reg      *types.Registry
	b        *ast.Builder
	errs     *ccerr.Bag
	manifest types.Manifest

	loopLevel   int
	switchLevel int

	curFunc *symtab.Symbol
	funcs   []*Function
}

// New builds a Parser over toks, sizing every declaration against m —
// the active backend's manifest — rather than a fixed set of widths,
// so struct layout and sizeof agree with whichever backend eventually
// generates code from this parse.
func New(toks []token.Token, m types.Manifest) *Parser {
	return &Parser{
		tr:       newTokenReader(toks),
		tbl:      symtab.New(),
		reg:      types.NewRegistry(),
		b:        ast.NewBuilder(),
		errs:     &ccerr.Bag{},
		manifest: m,
	}
}

func (p *Parser) Errors() *ccerr.Bag { return p.errs }

// Parse consumes the whole token stream, parsing top-level
// declarations until EOF.
func (p *Parser) Parse() (*Result, error) {
	for !p.tr.At(token.EOF) {
		if err := p.parseTopLevel(); err != nil {
			p.errs.Add(ccerr.Fatalf(p.tr.Peek().File, p.tr.Peek().Line, "%v", err))
			p.recover()
		}
	}
	if p.errs.HasErrors() {
		return nil, fmt.Errorf("parse failed with %d error(s)", p.errs.Count())
	}
	return &Result{Table: p.tbl, Registry: p.reg, Functions: p.funcs, Builder: p.b}, nil
}

// recover skips tokens until the next statement boundary after a
// parse error, so one bad declaration doesn't cascade into spurious
// errors for the rest of the file.
func (p *Parser) recover() {
	for !p.tr.At(token.EOF) {
		t := p.tr.Next()
		if t.Kind == token.Semi || t.Kind == token.RBrace {
			return
		}
	}
}

func (p *Parser) parseTopLevel() error {
	switch p.tr.Peek().Kind {
	case token.KwTypedef:
		return p.parseTypedef()
	case token.KwStruct:
		if p.tr.PeekAt(2).Kind == token.Semi || p.tr.PeekAt(2).Kind == token.LBrace {
			return p.parseStructOrUnionDecl(false)
		}
	case token.KwUnion:
		if p.tr.PeekAt(2).Kind == token.Semi || p.tr.PeekAt(2).Kind == token.LBrace {
			return p.parseStructOrUnionDecl(true)
		}
	case token.KwEnum:
		return p.parseEnumDecl()
	}
	return p.parseFuncOrGlobalVar()
}

// parseBaseType parses a type keyword (possibly struct/union/enum tag
// or typedef name) plus trailing stars into a PrimType + ctype id.
func (p *Parser) parseBaseType() (types.PrimType, int, error) {
	vis := symtab.VisGlobal
	_ = vis
	switch p.tr.Peek().Kind {
	case token.KwExtern, token.KwStatic:
		p.tr.Next() // storage class consumed by caller normally; tolerate either order
	}
	var base types.PrimType
	var ctype int
	switch p.tr.Peek().Kind {
	case token.KwVoid:
		p.tr.Next()
		base = types.P_VOID
	case token.KwChar:
		p.tr.Next()
		base = types.P_CHAR
	case token.KwInt:
		p.tr.Next()
		base = types.P_INT
	case token.KwLong:
		p.tr.Next()
		base = types.P_LONG
	case token.KwStruct:
		p.tr.Next()
		name, err := p.tr.ExpectIdent()
		if err != nil {
			return 0, 0, err
		}
		s := p.reg.FindStructByName(name.Text)
		if s == nil {
			return 0, 0, fmt.Errorf("%s:%d: undefined struct %s", name.File, name.Line, name.Text)
		}
		base = types.P_STRUCT
		ctype = s.ID
	case token.KwUnion:
		p.tr.Next()
		name, err := p.tr.ExpectIdent()
		if err != nil {
			return 0, 0, err
		}
		u := p.reg.FindUnionByName(name.Text)
		if u == nil {
			return 0, 0, fmt.Errorf("%s:%d: undefined union %s", name.File, name.Line, name.Text)
		}
		base = types.P_UNION
		ctype = u.ID
	case token.Ident:
		if t, ct, ok := p.reg.LookupTypedef(p.tr.Peek().Text); ok {
			p.tr.Next()
			base, ctype = t, ct
		} else {
			return 0, 0, fmt.Errorf("%s:%d: expected a type, found identifier %s", p.tr.Peek().File, p.tr.Peek().Line, p.tr.Peek().Text)
		}
	default:
		return 0, 0, fmt.Errorf("%s:%d: expected a type, found %s", p.tr.Peek().File, p.tr.Peek().Line, p.tr.Peek().Kind)
	}
	for p.tr.At(token.Star) {
		p.tr.Next()
		base = base.PointerTo()
	}
	return base, ctype, nil
}

func (p *Parser) parseTypedef() error {
	p.tr.Next() // typedef
	base, ctype, err := p.parseBaseType()
	if err != nil {
		return err
	}
	name, err := p.tr.ExpectIdent()
	if err != nil {
		return err
	}
	if _, err := p.tr.Expect(token.Semi); err != nil {
		return err
	}
	p.reg.DefineTypedef(name.Text, base, ctype)
	return nil
}

func (p *Parser) parseStructOrUnionDecl(isUnion bool) error {
	kw := p.tr.Next() // struct/union
	_ = kw
	name, err := p.tr.ExpectIdent()
	if err != nil {
		return err
	}
	if p.tr.At(token.Semi) {
		p.tr.Next()
		if isUnion {
			p.reg.NewUnion(name.Text)
		} else {
			p.reg.NewStruct(name.Text)
		}
		return nil
	}
	var comp *types.Composite
	if isUnion {
		comp = p.reg.NewUnion(name.Text)
	} else {
		comp = p.reg.NewStruct(name.Text)
	}
	if _, err := p.tr.Expect(token.LBrace); err != nil {
		return err
	}
	offset := 0
	maxSize := 0
	maxAlign := 1
	for !p.tr.At(token.RBrace) {
		fty, fctype, err := p.parseBaseType()
		if err != nil {
			return err
		}
		for {
			fname, err := p.tr.ExpectIdent()
			if err != nil {
				return err
			}
			sz, align := p.fieldLayout(fty, fctype)
			if isUnion {
				if sz > maxSize {
					maxSize = sz
				}
				comp.Members = append(comp.Members, types.Member{Name: fname.Text, Type: fty, Ctype: fctype, Offset: 0})
			} else {
				offset = alignUp(offset, align)
				comp.Members = append(comp.Members, types.Member{Name: fname.Text, Type: fty, Ctype: fctype, Offset: offset})
				offset += sz
			}
			if align > maxAlign {
				maxAlign = align
			}
			if p.tr.At(token.Comma) {
				p.tr.Next()
				continue
			}
			break
		}
		if _, err := p.tr.Expect(token.Semi); err != nil {
			return err
		}
	}
	if _, err := p.tr.Expect(token.RBrace); err != nil {
		return err
	}
	if _, err := p.tr.Expect(token.Semi); err != nil {
		return err
	}
	if isUnion {
		comp.Size = alignUp(maxSize, maxAlign)
	} else {
		comp.Size = alignUp(offset, maxAlign)
	}
	comp.Align = maxAlign
	return nil
}

// fieldLayout resolves a declaration's size against the parser's
// active manifest (types.TypeSize), and its alignment: a struct or
// union takes its registered layout's alignment, and every other type
// aligns to its own size capped at the manifest's pointer width —
// the natural alignment ceiling on a machine with no wider bus.
func (p *Parser) fieldLayout(t types.PrimType, ctype int) (size, align int) {
	size = types.TypeSize(t, ctype, p.manifest, p.reg)
	if size == 0 {
		size = 1
	}
	switch t.Base() {
	case types.P_STRUCT:
		if c := p.reg.Struct(ctype); c != nil {
			return size, c.Align
		}
	case types.P_UNION:
		if c := p.reg.Union(ctype); c != nil {
			return size, c.Align
		}
	}
	align = size
	if p.manifest.PtrSize > 0 && align > p.manifest.PtrSize {
		align = p.manifest.PtrSize
	}
	if align < 1 {
		align = 1
	}
	return size, align
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func (p *Parser) parseEnumDecl() error {
	p.tr.Next() // enum
	var name string
	if p.tr.At(token.Ident) {
		name = p.tr.Next().Text
	}
	p.tbl.AddEnumType(name)
	if _, err := p.tr.Expect(token.LBrace); err != nil {
		return err
	}
	next := int64(0)
	for !p.tr.At(token.RBrace) {
		id, err := p.tr.ExpectIdent()
		if err != nil {
			return err
		}
		val := next
		if p.tr.At(token.Assign) {
			p.tr.Next()
			lit, err := p.tr.Expect(token.IntLit)
			if err != nil {
				return err
			}
			val = lit.IntVal
		}
		p.tbl.AddEnumValue(id.Text, val)
		next = val + 1
		if p.tr.At(token.Comma) {
			p.tr.Next()
			continue
		}
		break
	}
	if _, err := p.tr.Expect(token.RBrace); err != nil {
		return err
	}
	_, err := p.tr.Expect(token.Semi)
	return err
}

func (p *Parser) parseFuncOrGlobalVar() error {
	vis := symtab.VisGlobal
	switch p.tr.Peek().Kind {
	case token.KwExtern:
		p.tr.Next()
		vis = symtab.VisExternal
	case token.KwStatic:
		p.tr.Next()
		vis = symtab.VisStatic
	}
	base, ctype, err := p.parseBaseType()
	if err != nil {
		return err
	}
	name, err := p.tr.ExpectIdent()
	if err != nil {
		return err
	}
	if p.tr.At(token.LParen) {
		return p.parseFunction(base, ctype, name.Text, vis)
	}
	return p.parseGlobalVarTail(base, ctype, name.Text, vis)
}

func (p *Parser) parseGlobalVarTail(base types.PrimType, ctype int, name string, vis symtab.Visibility) error {
	kind := symtab.KindVariable
	nelems := 0
	if p.tr.At(token.LBracket) {
		p.tr.Next()
		if p.tr.At(token.IntLit) {
			nelems = int(p.tr.Next().IntVal)
		}
		if _, err := p.tr.Expect(token.RBracket); err != nil {
			return err
		}
		kind = symtab.KindArray
		base = base.PointerTo()
	}
	sym, err := p.tbl.AddGlobal(name, base, ctype, kind, vis)
	if err != nil {
		return err
	}
	sym.NElems = nelems
	sz, _ := p.fieldLayout(base, ctype)
	sym.Size = sz
	if nelems > 0 {
		sym.Size = sz * nelems
	}
	if p.tr.At(token.Assign) {
		p.tr.Next()
		if p.tr.At(token.LBrace) {
			p.tr.Next()
			for !p.tr.At(token.RBrace) {
				v, err := p.tr.Expect(token.IntLit)
				if err != nil {
					return err
				}
				sym.InitList = append(sym.InitList, v.IntVal)
				if p.tr.At(token.Comma) {
					p.tr.Next()
					continue
				}
				break
			}
			if _, err := p.tr.Expect(token.RBrace); err != nil {
				return err
			}
			if sym.NElems == 0 {
				sym.NElems = len(sym.InitList)
				sym.Size = sz * sym.NElems
			}
		} else {
			v, err := p.tr.Expect(token.IntLit)
			if err != nil {
				return err
			}
			sym.InitList = []int64{v.IntVal}
		}
	}
	_, err = p.tr.Expect(token.Semi)
	return err
}

func (p *Parser) parseFunction(base types.PrimType, ctype int, name string, vis symtab.Visibility) error {
	p.tr.Next() // (
	sym, err := p.tbl.AddGlobal(name, base, ctype, symtab.KindFunction, vis)
	if err != nil {
		return err
	}
	p.curFunc = sym

	var params []*symtab.Symbol
	for !p.tr.At(token.RParen) {
		if p.tr.At(token.Ellipsis) {
			p.tr.Next()
			sym.Size = -1 // HasEllipsis
			break
		}
		pty, pctype, err := p.parseBaseType()
		if err != nil {
			return err
		}
		pname, err := p.tr.ExpectIdent()
		if err != nil {
			return err
		}
		param, err := p.tbl.AddParam(pname.Text, pty, pctype)
		if err != nil {
			return err
		}
		params = append(params, param)
		if p.tr.At(token.Comma) {
			p.tr.Next()
			continue
		}
		break
	}
	if _, err := p.tr.Expect(token.RParen); err != nil {
		return err
	}
	sym.NElems = len(params)

	if p.tr.At(token.Semi) {
		p.tr.Next() // prototype only
		p.curFunc = nil
		return nil
	}

	body, err := p.parseBlock()
	if err != nil {
		return err
	}
	root := p.b.Leaf(ast.Function, base, sym.ID, 0)
	root.Left = body
	p.funcs = append(p.funcs, &Function{Sym: sym, Root: root})
	p.tbl.FreeLocalSymbols()
	p.curFunc = nil
	return nil
}

func (p *Parser) parseBlock() (*ast.Node, error) {
	if _, err := p.tr.Expect(token.LBrace); err != nil {
		return nil, err
	}
	var tree *ast.Node
	for !p.tr.At(token.RBrace) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		tree = p.b.Glue(tree, stmt)
	}
	_, err := p.tr.Expect(token.RBrace)
	return tree, err
}

func (p *Parser) parseStatement() (*ast.Node, error) {
	switch p.tr.Peek().Kind {
	case token.LBrace:
		return p.parseBlock()
	case token.KwIf:
		return p.parseIf()
	case token.KwWhile:
		return p.parseWhile()
	case token.KwFor:
		return p.parseFor()
	case token.KwReturn:
		return p.parseReturn()
	case token.KwBreak:
		line := p.tr.Next().Line
		if p.loopLevel == 0 && p.switchLevel == 0 {
			return nil, fmt.Errorf("line %d: break outside loop or switch", line)
		}
		_, err := p.tr.Expect(token.Semi)
		return p.b.Leaf(ast.Break, 0, 0, line), err
	case token.KwContinue:
		line := p.tr.Next().Line
		if p.loopLevel == 0 {
			return nil, fmt.Errorf("line %d: continue outside loop", line)
		}
		_, err := p.tr.Expect(token.Semi)
		return p.b.Leaf(ast.Continue, 0, 0, line), err
	case token.KwSwitch:
		return p.parseSwitch()
	case token.KwVoid, token.KwChar, token.KwInt, token.KwLong, token.KwStruct, token.KwUnion, token.KwStatic:
		return p.parseLocalDecl()
	default:
		if p.tr.At(token.Ident) {
			if _, _, ok := p.reg.LookupTypedef(p.tr.Peek().Text); ok {
				return p.parseLocalDecl()
			}
		}
		return p.parseExprStatement()
	}
}

func (p *Parser) parseLocalDecl() (*ast.Node, error) {
	if p.tr.At(token.KwStatic) {
		p.tr.Next()
	}
	base, ctype, err := p.parseBaseType()
	if err != nil {
		return nil, err
	}
	var tree *ast.Node
	for {
		name, err := p.tr.ExpectIdent()
		if err != nil {
			return nil, err
		}
		vty := base
		if p.tr.At(token.LBracket) {
			p.tr.Next()
			if _, err := p.tr.Expect(token.IntLit); err != nil {
				return nil, err
			}
			if _, err := p.tr.Expect(token.RBracket); err != nil {
				return nil, err
			}
			vty = vty.PointerTo()
		}
		sym, err := p.tbl.AddLocal(name.Text, vty, ctype)
		if err != nil {
			return nil, err
		}
		if p.tr.At(token.Assign) {
			p.tr.Next()
			rhs, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			lhs := p.b.Leaf(ast.Ident, sym.Type, sym.ID, name.Line)
			assign := p.b.Binary(ast.Assign, sym.Type, rhs, lhs, name.Line)
			tree = p.b.Glue(tree, assign)
		}
		if p.tr.At(token.Comma) {
			p.tr.Next()
			continue
		}
		break
	}
	_, err = p.tr.Expect(token.Semi)
	return tree, err
}

func (p *Parser) parseIf() (*ast.Node, error) {
	line := p.tr.Next().Line
	if _, err := p.tr.Expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.tr.Expect(token.RParen); err != nil {
		return nil, err
	}
	cond = p.b.Unary(ast.ToBool, cond.Type, cond, 0, line)
	thenTree, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	var elseTree *ast.Node
	if p.tr.At(token.KwElse) {
		p.tr.Next()
		elseTree, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
	}
	return p.b.Make(ast.If, 0, cond, thenTree, elseTree, 0, line), nil
}

func (p *Parser) parseWhile() (*ast.Node, error) {
	line := p.tr.Next().Line
	if _, err := p.tr.Expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.tr.Expect(token.RParen); err != nil {
		return nil, err
	}
	cond = p.b.Unary(ast.ToBool, cond.Type, cond, 0, line)
	p.loopLevel++
	body, err := p.parseStatement()
	p.loopLevel--
	if err != nil {
		return nil, err
	}
	return p.b.Make(ast.While, 0, cond, body, nil, 0, line), nil
}

func (p *Parser) parseFor() (*ast.Node, error) {
	line := p.tr.Next().Line
	if _, err := p.tr.Expect(token.LParen); err != nil {
		return nil, err
	}
	var initTree *ast.Node
	if !p.tr.At(token.Semi) {
		var err error
		initTree, err = p.parseExprStatementNoSemi()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.tr.Expect(token.Semi); err != nil {
		return nil, err
	}
	var cond *ast.Node
	if !p.tr.At(token.Semi) {
		var err error
		cond, err = p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		cond = p.b.Unary(ast.ToBool, cond.Type, cond, 0, line)
	}
	if _, err := p.tr.Expect(token.Semi); err != nil {
		return nil, err
	}
	var postTree *ast.Node
	if !p.tr.At(token.RParen) {
		var err error
		postTree, err = p.parseExprStatementNoSemi()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.tr.Expect(token.RParen); err != nil {
		return nil, err
	}
	p.loopLevel++
	body, err := p.parseStatement()
	p.loopLevel--
	if err != nil {
		return nil, err
	}
	// Desugar for(init; cond; post) body into init; while(cond) { body; post; }
	bodyWithPost := p.b.Glue(body, postTree)
	whileNode := p.b.Make(ast.While, 0, cond, bodyWithPost, nil, 0, line)
	return p.b.Glue(initTree, whileNode), nil
}

func (p *Parser) parseReturn() (*ast.Node, error) {
	line := p.tr.Next().Line
	var val *ast.Node
	if !p.tr.At(token.Semi) {
		var err error
		val, err = p.parseExpr(0)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.tr.Expect(token.Semi); err != nil {
		return nil, err
	}
	var fid int
	if p.curFunc != nil {
		fid = p.curFunc.ID
	}
	return p.b.Unary(ast.Return, 0, val, fid, line), nil
}

func (p *Parser) parseSwitch() (*ast.Node, error) {
	line := p.tr.Next().Line
	if _, err := p.tr.Expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.tr.Expect(token.RParen); err != nil {
		return nil, err
	}
	if _, err := p.tr.Expect(token.LBrace); err != nil {
		return nil, err
	}
	p.switchLevel++
	var cases *ast.Node
	seenDefault := false
	seenCases := map[int64]bool{}
	for !p.tr.At(token.RBrace) {
		switch p.tr.Peek().Kind {
		case token.KwCase:
			cl := p.tr.Next().Line
			val, err := p.tr.Expect(token.IntLit)
			if err != nil {
				return nil, err
			}
			if seenCases[val.IntVal] {
				return nil, fmt.Errorf("line %d: duplicate case value %d in switch", cl, val.IntVal)
			}
			seenCases[val.IntVal] = true
			if _, err := p.tr.Expect(token.Colon); err != nil {
				return nil, err
			}
			var body *ast.Node
			for !p.tr.At(token.KwCase) && !p.tr.At(token.KwDefault) && !p.tr.At(token.RBrace) {
				st, err := p.parseStatement()
				if err != nil {
					return nil, err
				}
				body = p.b.Glue(body, st)
			}
			caseNode := p.b.Unary(ast.Case, 0, body, 0, cl)
			caseNode.IntValue = val.IntVal
			cases = p.b.Glue(cases, caseNode)
		case token.KwDefault:
			cl := p.tr.Next().Line
			if _, err := p.tr.Expect(token.Colon); err != nil {
				return nil, err
			}
			if seenDefault {
				return nil, fmt.Errorf("line %d: multiple default labels in switch", cl)
			}
			seenDefault = true
			var body *ast.Node
			for !p.tr.At(token.KwCase) && !p.tr.At(token.KwDefault) && !p.tr.At(token.RBrace) {
				st, err := p.parseStatement()
				if err != nil {
					return nil, err
				}
				body = p.b.Glue(body, st)
			}
			defNode := p.b.Unary(ast.Default, 0, body, 0, cl)
			cases = p.b.Glue(cases, defNode)
		default:
			return nil, fmt.Errorf("line %d: expected case or default in switch body", p.tr.Peek().Line)
		}
	}
	p.switchLevel--
	if _, err := p.tr.Expect(token.RBrace); err != nil {
		return nil, err
	}
	return p.b.Make(ast.Switch, 0, cond, cases, nil, 0, line), nil
}

func (p *Parser) parseExprStatement() (*ast.Node, error) {
	n, err := p.parseExprStatementNoSemi()
	if err != nil {
		return nil, err
	}
	_, err = p.tr.Expect(token.Semi)
	return n, err
}

func (p *Parser) parseExprStatementNoSemi() (*ast.Node, error) {
	return p.parseExpr(0)
}

// parseExpr implements precedence climbing with right-to-left
// assignment handled as a special case, since C's '=' binds tighter
// to the right than to the left.
func (p *Parser) parseExpr(minPrec int) (*ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.tr.At(token.Assign) {
		line := p.tr.Next().Line
		rhs, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		return p.b.Binary(ast.Assign, left.Type, rhs, left, line), nil
	}
	if op, ok := compoundAssignOp(p.tr.Peek().Kind); ok {
		line := p.tr.Next().Line
		rhs, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		return p.b.Binary(op, left.Type, rhs, left, line), nil
	}
	if p.tr.At(token.Question) {
		return p.parseTernary(left)
	}
	for {
		kind := p.tr.Peek().Kind
		prec, ok := precedenceOf(kind)
		if !ok || prec < minPrec {
			return left, nil
		}
		line := p.tr.Next().Line
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		op := binOpFor(kind)
		resultType := left.Type
		if op == ast.Add || op == ast.Subtract {
			left, right, resultType = p.scalePointerArith(op, left, right, line)
		}
		left = p.b.Binary(op, resultType, left, right, line)
	}
}

// compoundAssignOp maps a `+= -= *= /= %=` token to the AST op that
// represents it. Like plain '=', these bind right-to-left and are
// handled in parseExpr before the precedence-climbing loop runs.
func compoundAssignOp(k token.Kind) (ast.Op, bool) {
	switch k {
	case token.AssignPlus:
		return ast.AsPlus, true
	case token.AssignMinus:
		return ast.AsMinus, true
	case token.AssignStar:
		return ast.AsStar, true
	case token.AssignSlash:
		return ast.AsSlash, true
	case token.AssignMod:
		return ast.AsMod, true
	}
	return 0, false
}

// scalePointerArith wraps the integer operand of a pointer +/- int
// expression in an ast.Scale node multiplying it by the pointee's
// size, and reports the result type of the combined expression. It
// leaves non-pointer-arithmetic operands untouched, matching the
// scaling parseIndex already performs for array subscripting.
func (p *Parser) scalePointerArith(op ast.Op, left, right *ast.Node, line int) (*ast.Node, *ast.Node, types.PrimType) {
	lp, rp := left.Type.IsPointer(), right.Type.IsPointer()
	switch {
	case lp && !rp && right.Type.IsInt():
		sz, _ := p.fieldLayout(left.Type.ValueAt(), left.Ctype)
		scaled := p.b.Unary(ast.Scale, types.P_INT, right, 0, line)
		scaled.IntValue = int64(sz)
		return left, scaled, left.Type
	case rp && !lp && left.Type.IsInt() && op == ast.Add:
		sz, _ := p.fieldLayout(right.Type.ValueAt(), right.Ctype)
		scaled := p.b.Unary(ast.Scale, types.P_INT, left, 0, line)
		scaled.IntValue = int64(sz)
		return scaled, right, right.Type
	default:
		return left, right, left.Type
	}
}

func (p *Parser) parseTernary(cond *ast.Node) (*ast.Node, error) {
	line := p.tr.Next().Line // ?
	thenExpr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.tr.Expect(token.Colon); err != nil {
		return nil, err
	}
	elseExpr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	return p.b.Make(ast.Ternary, thenExpr.Type, cond, thenExpr, elseExpr, 0, line), nil
}

func binOpFor(k token.Kind) ast.Op {
	switch k {
	case token.LogOr:
		return ast.LogOr
	case token.LogAnd:
		return ast.LogAnd
	case token.Or:
		return ast.Or
	case token.Xor:
		return ast.Xor
	case token.Amp:
		return ast.And
	case token.Eq:
		return ast.Eq
	case token.Ne:
		return ast.Ne
	case token.Lt:
		return ast.Lt
	case token.Gt:
		return ast.Gt
	case token.Le:
		return ast.Le
	case token.Ge:
		return ast.Ge
	case token.LShift:
		return ast.LShift
	case token.RShift:
		return ast.RShift
	case token.Plus:
		return ast.Add
	case token.Minus:
		return ast.Subtract
	case token.Star:
		return ast.Multiply
	case token.Slash:
		return ast.Divide
	case token.Mod:
		return ast.Mod
	}
	return 0
}

func (p *Parser) parseUnary() (*ast.Node, error) {
	switch p.tr.Peek().Kind {
	case token.Minus:
		line := p.tr.Next().Line
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.b.Unary(ast.Negate, child.Type, child, 0, line), nil
	case token.Invert:
		line := p.tr.Next().Line
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.b.Unary(ast.Invert, child.Type, child, 0, line), nil
	case token.Not:
		line := p.tr.Next().Line
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.b.Unary(ast.LogNot, types.P_INT, child, 0, line), nil
	case token.Star:
		line := p.tr.Next().Line
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if !child.Type.IsPointer() {
			return nil, fmt.Errorf("line %d: cannot dereference non-pointer", line)
		}
		n := p.b.Unary(ast.Deref, child.Type.ValueAt(), child, 0, line)
		n.RValue = true
		return n, nil
	case token.Amp:
		line := p.tr.Next().Line
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if child.Op != ast.Ident {
			return nil, fmt.Errorf("line %d: & requires an lvalue", line)
		}
		if sym := p.tbl.FindSymbol(child.Name); sym != nil {
			sym.HasAddress = true
		}
		return p.b.Unary(ast.Addr, child.Type.PointerTo(), child, child.SymID, line), nil
	case token.Inc:
		line := p.tr.Next().Line
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.b.Unary(ast.PreInc, child.Type, child, child.SymID, line), nil
	case token.Dec:
		line := p.tr.Next().Line
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.b.Unary(ast.PreDec, child.Type, child, child.SymID, line), nil
	case token.KwSizeof:
		return p.parseSizeof()
	case token.LParen:
		if p.looksLikeCast() {
			return p.parseCast()
		}
	}
	return p.parsePostfix()
}

func (p *Parser) looksLikeCast() bool {
	switch p.tr.PeekAt(1).Kind {
	case token.KwVoid, token.KwChar, token.KwInt, token.KwLong, token.KwStruct, token.KwUnion:
		return true
	case token.Ident:
		if _, _, ok := p.reg.LookupTypedef(p.tr.PeekAt(1).Text); ok {
			return true
		}
	}
	return false
}

func (p *Parser) parseCast() (*ast.Node, error) {
	line := p.tr.Next().Line // (
	ty, ctype, err := p.parseBaseType()
	if err != nil {
		return nil, err
	}
	if _, err := p.tr.Expect(token.RParen); err != nil {
		return nil, err
	}
	child, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	n := p.b.Unary(ast.Cast, ty, child, 0, line)
	n.Ctype = ctype
	return n, nil
}

func (p *Parser) parseSizeof() (*ast.Node, error) {
	line := p.tr.Next().Line
	needParen := p.tr.At(token.LParen)
	if needParen {
		p.tr.Next()
	}
	var sz int
	switch p.tr.Peek().Kind {
	case token.KwVoid, token.KwChar, token.KwInt, token.KwLong, token.KwStruct, token.KwUnion:
		ty, ctype, err := p.parseBaseType()
		if err != nil {
			return nil, err
		}
		sz, _ = p.fieldLayout(ty, ctype)
	default:
		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		sz, _ = p.fieldLayout(expr.Type, expr.Ctype)
	}
	if needParen {
		if _, err := p.tr.Expect(token.RParen); err != nil {
			return nil, err
		}
	}
	n := p.b.Leaf(ast.IntLit, types.P_INT, 0, line)
	n.IntValue = int64(sz)
	return n, nil
}

func (p *Parser) parsePostfix() (*ast.Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tr.Peek().Kind {
		case token.LParen:
			n, err = p.parseCall(n)
		case token.LBracket:
			n, err = p.parseIndex(n)
		case token.Dot:
			n, err = p.parseField(n, false)
		case token.Arrow:
			n, err = p.parseField(n, true)
		case token.Inc:
			line := p.tr.Next().Line
			n = p.b.Unary(ast.PostInc, n.Type, n, n.SymID, line)
			continue
		case token.Dec:
			line := p.tr.Next().Line
			n = p.b.Unary(ast.PostDec, n.Type, n, n.SymID, line)
			continue
		default:
			return n, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parseCall(fn *ast.Node) (*ast.Node, error) {
	line := p.tr.Next().Line // (
	var args *ast.Node
	for !p.tr.At(token.RParen) {
		arg, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args = p.b.Glue(args, arg)
		if p.tr.At(token.Comma) {
			p.tr.Next()
			continue
		}
		break
	}
	if _, err := p.tr.Expect(token.RParen); err != nil {
		return nil, err
	}
	n := p.b.Unary(ast.FuncCall, fn.Type, args, fn.SymID, line)
	n.Name = fn.Name
	return n, nil
}

func (p *Parser) parseIndex(arr *ast.Node) (*ast.Node, error) {
	line := p.tr.Next().Line // [
	idx, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.tr.Expect(token.RBracket); err != nil {
		return nil, err
	}
	elemType := arr.Type
	if elemType.IsPointer() {
		elemType = elemType.ValueAt()
	}
	sz, _ := p.fieldLayout(elemType, arr.Ctype)
	scale := p.b.Leaf(ast.IntLit, types.P_INT, 0, line)
	scale.IntValue = int64(sz)
	scaled := p.b.Binary(ast.Multiply, types.P_INT, idx, scale, line)
	addr := p.b.Binary(ast.Add, arr.Type, arr, scaled, line)
	n := p.b.Unary(ast.Deref, elemType, addr, 0, line)
	n.RValue = true
	return n, nil
}

func (p *Parser) parseField(owner *ast.Node, arrow bool) (*ast.Node, error) {
	p.tr.Next() // . or ->
	field, err := p.tr.ExpectIdent()
	if err != nil {
		return nil, err
	}
	compType := owner.Type
	if arrow {
		compType = compType.ValueAt()
	}
	var comp *types.Composite
	if compType.Base() == types.P_STRUCT {
		comp = p.reg.Struct(owner.Ctype)
	} else {
		comp = p.reg.Union(owner.Ctype)
	}
	if comp == nil {
		return nil, fmt.Errorf("line %d: %s is not a struct/union member access", field.Line, field.Text)
	}
	for _, m := range comp.Members {
		if m.Name == field.Text {
			n := p.b.Unary(ast.Deref, m.Type, owner, 0, field.Line)
			n.Ctype = m.Ctype
			n.IntValue = int64(m.Offset)
			n.RValue = true
			return n, nil
		}
	}
	return nil, fmt.Errorf("line %d: no member %q in %s", field.Line, field.Text, comp.Name)
}

func (p *Parser) parsePrimary() (*ast.Node, error) {
	t := p.tr.Peek()
	switch t.Kind {
	case token.IntLit:
		p.tr.Next()
		n := p.b.Leaf(ast.IntLit, types.P_INT, 0, t.Line)
		n.IntValue = t.IntVal
		return n, nil
	case token.CharLit:
		p.tr.Next()
		n := p.b.Leaf(ast.IntLit, types.P_CHAR, 0, t.Line)
		n.IntValue = t.IntVal
		return n, nil
	case token.StrLit:
		p.tr.Next()
		n := p.b.Leaf(ast.StrLit, types.P_CHAR.PointerTo(), 0, t.Line)
		n.Name = t.Text
		return n, nil
	case token.Ident:
		p.tr.Next()
		sym := p.tbl.FindSymbol(t.Text)
		if sym == nil {
			if ev := p.tbl.FindEnumValue(t.Text); ev != nil {
				n := p.b.Leaf(ast.IntLit, types.P_INT, 0, t.Line)
				n.IntValue = ev.InitList[0]
				return n, nil
			}
			return nil, fmt.Errorf("%s:%d: undeclared identifier %s", t.File, t.Line, t.Text)
		}
		n := p.b.Leaf(ast.Ident, sym.Type, sym.ID, t.Line)
		n.Ctype = sym.Ctype
		n.Name = sym.Name
		n.RValue = true
		return n, nil
	case token.LParen:
		p.tr.Next()
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		_, err = p.tr.Expect(token.RParen)
		return inner, err
	}
	return nil, fmt.Errorf("%s:%d: unexpected token %s in expression", t.File, t.Line, t.Kind)
}

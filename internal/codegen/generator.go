package codegen

import (
	"fmt"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

func signedOf(ty types.PrimType) bool {
	return ty.Base() != 0 && !ty.IsPointer()
}

// Generator drives a Backend over a set of parsed functions.
type Generator struct {
	be  Backend
	tbl *symtab.Table
}

func New(be Backend, tbl *symtab.Table) *Generator {
	return &Generator{be: be, tbl: tbl}
}

// Generate emits the whole translation unit: a preamble, one function
// body per entry in funcs, and a postamble.
func (g *Generator) Generate(funcs []CompiledFunc) error {
	g.be.Preamble()
	for _, sym := range g.tbl.Globals() {
		if sym.Kind == symtab.KindFunction {
			continue
		}
		g.be.EmitGlobalSym(sym)
	}
	for _, f := range funcs {
		if err := g.genFunction(f); err != nil {
			return err
		}
	}
	g.be.Postamble()
	return nil
}

// CompiledFunc pairs a function's symbol with its (optimised) AST.
type CompiledFunc struct {
	Sym  *symtab.Symbol
	Root *ast.Node
}

func (g *Generator) genFunction(f CompiledFunc) error {
	endLabel := g.be.NewLabel()
	f.Sym.SetEndLabel(endLabel)
	g.be.FuncPreamble(f.Sym)
	if f.Root.Left != nil {
		if _, err := g.genAST(f.Root.Left, ast.NoLabel, ast.NoLabel, ast.NoLabel, 0); err != nil {
			return err
		}
	}
	g.be.FuncPostamble(f.Sym, endLabel)
	return nil
}

// genAST is the single recursive entry point for tree-walking code
// generation. The signature — node plus the enclosing if-false label,
// loop-top label, loop-end label and the parent operator — mirrors
// the reference compiler's genAST(n, iflabel, looptoplabel,
// loopendlabel, parentASTop) exactly: the extra context lets a leaf
// decide things a purely bottom-up walk could not, such as an A_IF's
// condition knowing which label to jump to when false, or a
// comparison knowing it can fuse into its parent's conditional jump
// instead of materialising a 0/1 value.
func (g *Generator) genAST(n *ast.Node, ifLabel, loopTop, loopEnd int, parentOp ast.Op) (Reg, error) {
	switch n.Op {
	case ast.Glue:
		if _, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op); err != nil {
			return NoReg, err
		}
		return g.genAST(n.Right, ifLabel, loopTop, loopEnd, n.Op)
	case ast.If:
		return g.genIf(n, loopTop, loopEnd)
	case ast.While:
		return g.genWhile(n)
	case ast.Switch:
		return g.genSwitch(n)
	case ast.Break:
		g.be.Jump(loopEnd)
		return NoReg, nil
	case ast.Continue:
		g.be.Jump(loopTop)
		return NoReg, nil
	case ast.Return:
		var val Reg = NoReg
		if n.Left != nil {
			r, err := g.genAST(n.Left, ast.NoLabel, ast.NoLabel, ast.NoLabel, n.Op)
			if err != nil {
				return NoReg, err
			}
			val = r
		}
		sym := g.symByID(n.SymID)
		g.be.Return(val, sym, sym.EndLabel())
		return NoReg, nil
	case ast.IntLit:
		return g.be.LoadInt(n.IntValue, n.Type), nil
	case ast.StrLit:
		return g.be.LoadStringLit(n.Name), nil
	case ast.Ident:
		sym := g.symByID(n.SymID)
		if sym.Visibility == symtab.VisLocal || sym.Visibility == symtab.VisParam {
			return g.be.LoadLocal(sym), nil
		}
		return g.be.LoadGlobal(sym), nil
	case ast.Assign:
		return g.genAssign(n, ifLabel, loopTop, loopEnd)
	case ast.AsPlus, ast.AsMinus, ast.AsStar, ast.AsSlash, ast.AsMod:
		return g.genCompoundAssign(n, ifLabel, loopTop, loopEnd)
	case ast.Deref:
		addr, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		if n.IntValue != 0 {
			off := g.be.LoadInt(n.IntValue, n.Type)
			addr = g.be.Add(addr, off, n.Type)
		}
		if n.RValue || parentOp != ast.Addr {
			return g.be.LoadDeref(addr, n.Type), nil
		}
		return addr, nil
	case ast.Addr:
		sym := g.symByID(n.SymID)
		return g.be.Address(sym), nil
	case ast.Widen:
		child, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		return g.be.Widen(child, n.Left.Type, n.Type), nil
	case ast.Cast:
		child, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		return g.be.Widen(child, n.Left.Type, n.Type), nil
	case ast.Scale:
		child, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		return g.be.Scale(child, int(n.IntValue)), nil
	case ast.Negate, ast.Invert, ast.LogNot:
		child, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		switch n.Op {
		case ast.Negate:
			return g.be.Negate(child, n.Type), nil
		case ast.Invert:
			return g.be.Invert(child), nil
		default:
			return g.be.LogNot(child), nil
		}
	case ast.ToBool:
		child, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		jumpFalse := parentOp == ast.If || parentOp == ast.While
		return g.be.ToBool(child, jumpFalse, ifLabel), nil
	case ast.PreInc, ast.PreDec, ast.PostInc, ast.PostDec:
		return g.genIncDec(n)
	case ast.FuncCall:
		return g.genCall(n, ifLabel, loopTop, loopEnd)
	case ast.Eq, ast.Ne, ast.Lt, ast.Gt, ast.Le, ast.Ge:
		left, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		right, err := g.genAST(n.Right, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		signed := !n.Left.Type.IsPointer()
		if parentOp == ast.If || parentOp == ast.While {
			g.be.CompareAndJump(n.Op, left, right, signed, ifLabel)
			return NoReg, nil
		}
		return g.be.Compare(n.Op, left, right, signed), nil
	case ast.Add, ast.Subtract, ast.Multiply, ast.Divide, ast.Mod,
		ast.And, ast.Or, ast.Xor, ast.LShift, ast.RShift:
		left, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		right, err := g.genAST(n.Right, ifLabel, loopTop, loopEnd, n.Op)
		if err != nil {
			return NoReg, err
		}
		signed := signedOf(n.Type)
		switch n.Op {
		case ast.Add:
			return g.be.Add(left, right, n.Type), nil
		case ast.Subtract:
			return g.be.Sub(left, right, n.Type), nil
		case ast.Multiply:
			return g.be.Mul(left, right, n.Type), nil
		case ast.Divide:
			return g.be.Div(left, right, n.Type, signed), nil
		case ast.Mod:
			return g.be.Mod(left, right, n.Type, signed), nil
		case ast.And:
			return g.be.And(left, right), nil
		case ast.Or:
			return g.be.Or(left, right), nil
		case ast.Xor:
			return g.be.Xor(left, right), nil
		case ast.LShift:
			return g.be.ShiftLeft(left, right), nil
		case ast.RShift:
			return g.be.ShiftRight(left, right, signed), nil
		}
	}
	return NoReg, fmt.Errorf("codegen: unhandled AST op %s at line %d", n.Op, n.Line)
}

func (g *Generator) genIf(n *ast.Node, loopTop, loopEnd int) (Reg, error) {
	falseLabel := g.be.NewLabel()
	var endLabel int
	hasElse := n.Right != nil
	if hasElse {
		endLabel = g.be.NewLabel()
	}
	if _, err := g.genAST(n.Left, falseLabel, loopTop, loopEnd, ast.If); err != nil {
		return NoReg, err
	}
	if n.Mid != nil {
		if _, err := g.genAST(n.Mid, ast.NoLabel, loopTop, loopEnd, ast.If); err != nil {
			return NoReg, err
		}
	}
	if hasElse {
		g.be.Jump(endLabel)
	}
	g.be.Label(falseLabel)
	if hasElse {
		if _, err := g.genAST(n.Right, ast.NoLabel, loopTop, loopEnd, ast.If); err != nil {
			return NoReg, err
		}
		g.be.Label(endLabel)
	}
	return NoReg, nil
}

func (g *Generator) genWhile(n *ast.Node) (Reg, error) {
	topLabel := g.be.NewLabel()
	endLabel := g.be.NewLabel()
	g.be.Label(topLabel)
	if _, err := g.genAST(n.Left, endLabel, topLabel, endLabel, ast.While); err != nil {
		return NoReg, err
	}
	if _, err := g.genAST(n.Mid, ast.NoLabel, topLabel, endLabel, ast.While); err != nil {
		return NoReg, err
	}
	g.be.Jump(topLabel)
	g.be.Label(endLabel)
	return NoReg, nil
}

// genSwitch lowers to a chain of compare-and-jump tests followed by
// the case bodies falling through to the next label, which implements
// the fallthrough-by-default C semantics without any special backend
// support: each case body simply does not jump to the switch's end
// unless the source said `break`.
func (g *Generator) genSwitch(n *ast.Node) (Reg, error) {
	cond, err := g.genAST(n.Left, ast.NoLabel, ast.NoLabel, ast.NoLabel, ast.Switch)
	if err != nil {
		return NoReg, err
	}
	condType := n.Left.Type
	endLabel := g.be.NewLabel()

	type arm struct {
		node  *ast.Node
		label int
	}
	var arms []arm
	var defaultArm *arm
	for c := n.Mid; c != nil; {
		var this, rest *ast.Node
		if c.Op == ast.Glue {
			this, rest = c.Left, c.Right
		} else {
			this, rest = c, nil
		}
		lbl := g.be.NewLabel()
		if this.Op == ast.Default {
			defaultArm = &arm{node: this, label: lbl}
		} else {
			arms = append(arms, arm{node: this, label: lbl})
		}
		c = rest
	}

	// CompareAndJump(Ne, cond, val, ..., label) jumps to label when Ne
	// does NOT hold, i.e. when cond == val — exactly the dispatch we
	// want for one case arm, falling through to test the next arm
	// otherwise.
	for _, a := range arms {
		val := g.be.LoadInt(a.node.IntValue, condType)
		g.be.CompareAndJump(ast.Ne, cond, val, true, a.label)
	}
	if defaultArm != nil {
		g.be.Jump(defaultArm.label)
	} else {
		g.be.Jump(endLabel)
	}

	for i, a := range arms {
		g.be.Label(a.label)
		if _, err := g.genAST(a.node.Left, ast.NoLabel, ast.NoLabel, endLabel, ast.Switch); err != nil {
			return NoReg, err
		}
		_ = i
	}
	if defaultArm != nil {
		g.be.Label(defaultArm.label)
		if _, err := g.genAST(defaultArm.node.Left, ast.NoLabel, ast.NoLabel, endLabel, ast.Switch); err != nil {
			return NoReg, err
		}
	}
	g.be.Label(endLabel)
	return NoReg, nil
}

func (g *Generator) genAssign(n *ast.Node, ifLabel, loopTop, loopEnd int) (Reg, error) {
	val, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
	if err != nil {
		return NoReg, err
	}
	switch n.Right.Op {
	case ast.Ident:
		sym := g.symByID(n.Right.SymID)
		if sym.Visibility == symtab.VisLocal || sym.Visibility == symtab.VisParam {
			return g.be.StoreLocal(val, sym), nil
		}
		return g.be.StoreGlobal(val, sym), nil
	case ast.Deref:
		addr, err := g.genAST(n.Right.Left, ifLabel, loopTop, loopEnd, ast.Addr)
		if err != nil {
			return NoReg, err
		}
		return g.be.StoreDeref(val, addr, n.Right.Type), nil
	}
	return NoReg, fmt.Errorf("codegen: invalid assignment target at line %d", n.Line)
}

// genCompoundAssign lowers `target OP= rhs` to a load of target,
// the arithmetic op against rhs, and a store back to target,
// following the same Left=value/Right=target node layout genAssign
// uses for plain '='.
func (g *Generator) genCompoundAssign(n *ast.Node, ifLabel, loopTop, loopEnd int) (Reg, error) {
	rhs, err := g.genAST(n.Left, ifLabel, loopTop, loopEnd, n.Op)
	if err != nil {
		return NoReg, err
	}
	apply := func(cur Reg) Reg {
		signed := signedOf(n.Type)
		switch n.Op {
		case ast.AsPlus:
			return g.be.Add(cur, rhs, n.Type)
		case ast.AsMinus:
			return g.be.Sub(cur, rhs, n.Type)
		case ast.AsStar:
			return g.be.Mul(cur, rhs, n.Type)
		case ast.AsSlash:
			return g.be.Div(cur, rhs, n.Type, signed)
		default:
			return g.be.Mod(cur, rhs, n.Type, signed)
		}
	}
	switch n.Right.Op {
	case ast.Ident:
		sym := g.symByID(n.Right.SymID)
		local := sym.Visibility == symtab.VisLocal || sym.Visibility == symtab.VisParam
		var cur Reg
		if local {
			cur = g.be.LoadLocal(sym)
		} else {
			cur = g.be.LoadGlobal(sym)
		}
		updated := apply(cur)
		if local {
			return g.be.StoreLocal(updated, sym), nil
		}
		return g.be.StoreGlobal(updated, sym), nil
	case ast.Deref:
		addr, err := g.genAST(n.Right.Left, ifLabel, loopTop, loopEnd, ast.Addr)
		if err != nil {
			return NoReg, err
		}
		cur := g.be.LoadDeref(addr, n.Right.Type)
		updated := apply(cur)
		return g.be.StoreDeref(updated, addr, n.Right.Type), nil
	}
	return NoReg, fmt.Errorf("codegen: invalid compound-assignment target at line %d", n.Line)
}

func (g *Generator) genIncDec(n *ast.Node) (Reg, error) {
	sym := g.symByID(n.SymID)
	var cur Reg
	if sym.Visibility == symtab.VisLocal || sym.Visibility == symtab.VisParam {
		cur = g.be.LoadLocal(sym)
	} else {
		cur = g.be.LoadGlobal(sym)
	}
	one := g.be.LoadInt(1, n.Type)
	var updated Reg
	switch n.Op {
	case ast.PreInc, ast.PostInc:
		updated = g.be.Add(cur, one, n.Type)
	default:
		updated = g.be.Sub(cur, one, n.Type)
	}
	if sym.Visibility == symtab.VisLocal || sym.Visibility == symtab.VisParam {
		g.be.StoreLocal(updated, sym)
	} else {
		g.be.StoreGlobal(updated, sym)
	}
	if n.Op == ast.PreInc || n.Op == ast.PreDec {
		return updated, nil
	}
	return cur, nil
}

func (g *Generator) genCall(n *ast.Node, ifLabel, loopTop, loopEnd int) (Reg, error) {
	var args []Reg
	for a := n.Left; a != nil; {
		var this, rest *ast.Node
		if a.Op == ast.Glue {
			this, rest = a.Left, a.Right
		} else {
			this, rest = a, nil
		}
		r, err := g.genAST(this, ifLabel, loopTop, loopEnd, ast.FuncCall)
		if err != nil {
			return NoReg, err
		}
		args = append(args, r)
		a = rest
	}
	g.be.CallPrepareArgs(len(args))
	for i, r := range args {
		g.be.CallSetArg(i, r)
	}
	sym := g.symByID(n.SymID)
	return g.be.Call(sym, len(args)), nil
}

func (g *Generator) symByID(id int) *symtab.Symbol {
	for _, s := range g.tbl.Globals() {
		if s.ID == id {
			return s
		}
	}
	for _, s := range g.tbl.Locals() {
		if s.ID == id {
			return s
		}
	}
	for _, s := range g.tbl.Params() {
		if s.ID == id {
			return s
		}
	}
	return nil
}

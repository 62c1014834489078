// Package il implements Backend A: an SSA-style intermediate language
// backend that emits one instruction per value into fresh numbered
// temporaries, never reusing a name once assigned. It mirrors the
// opcode vocabulary of the reference toolchain's IR (CONST.W, ADD.W,
// LOAD.W, ...) but drives it directly from genAST instead of from a
// parsed textual IR, since our generic generator walks the AST once
// and calls straight into the backend.
package il

import (
	"bufio"
	"fmt"
	"io"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/codegen"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

const (
	OpConstW   = "CONST.W"
	OpLoadW    = "LOAD.W"
	OpStoreW   = "STORE.W"
	OpAddr     = "ADDR"
	OpAddW     = "ADD.W"
	OpSubW     = "SUB.W"
	OpMulW     = "MUL.W"
	OpDivS     = "DIV.S"
	OpDivU     = "DIV.U"
	OpModS     = "MOD.S"
	OpModU     = "MOD.U"
	OpNegW     = "NEG.W"
	OpAndW     = "AND.W"
	OpOrW      = "OR.W"
	OpXorW     = "XOR.W"
	OpNotW     = "NOT.W"
	OpShlW     = "SHL.W"
	OpShrS     = "SHR.S"
	OpShrU     = "SHR.U"
	OpEqW      = "EQ.W"
	OpNeW      = "NE.W"
	OpLtS      = "LT.S"
	OpLeS      = "LE.S"
	OpGtS      = "GT.S"
	OpGeS      = "GE.S"
	OpLtU      = "LT.U"
	OpLeU      = "LE.U"
	OpGtU      = "GT.U"
	OpGeU      = "GE.U"
	OpLabel    = "LABEL"
	OpJump     = "JUMP"
	OpJumpZ    = "JUMPZ"
	OpCall     = "CALL"
	OpArg      = "ARG"
	OpReturn   = "RETURN"
	OpWiden    = "WIDEN"
	OpLoadLit  = "LOADLIT"
	OpAsm      = "ASM"
)

// Backend emits IL text to an io.Writer and implements
// codegen.Backend.
type Backend struct {
	w         *bufio.Writer
	manifest  types.Manifest
	nextTemp  int
	nextLabel int
	strLits   map[string]string
	strOrder  []string
	nextStr   int
	pendingArgs []codegen.Reg
}

func New(w io.Writer, m types.Manifest) *Backend {
	return &Backend{w: bufio.NewWriter(w), manifest: m, strLits: make(map[string]string)}
}

func (b *Backend) Flush() error { return b.w.Flush() }

func (b *Backend) Manifest() types.Manifest { return b.manifest }

func (b *Backend) newTemp() codegen.Reg {
	t := b.nextTemp
	b.nextTemp++
	return codegen.Reg(t)
}

func (b *Backend) tempName(r codegen.Reg) string { return fmt.Sprintf("t%d", int(r)) }

func (b *Backend) emit(op string, dest codegen.Reg, args ...string) codegen.Reg {
	d := b.tempName(dest)
	fmt.Fprintf(b.w, "  %s = %s", d, op)
	for _, a := range args {
		fmt.Fprintf(b.w, " %s", a)
	}
	fmt.Fprintln(b.w)
	return dest
}

func (b *Backend) emitVoid(op string, args ...string) {
	fmt.Fprintf(b.w, "  %s", op)
	for _, a := range args {
		fmt.Fprintf(b.w, " %s", a)
	}
	fmt.Fprintln(b.w)
}

func (b *Backend) Preamble() {
	fmt.Fprintln(b.w, "; IL module")
}

func (b *Backend) Postamble() {
	if len(b.strOrder) > 0 {
		for _, s := range b.strOrder {
			b.EmitGlobalStr(b.strLits[s], s)
		}
		b.EmitGlobalStrEnd()
	}
	fmt.Fprintln(b.w, "; end module")
}

func (b *Backend) EmitGlobalSym(sym *symtab.Symbol) {
	fmt.Fprintf(b.w, "GLOBAL %s SIZE %d", sym.Name, sym.Size)
	if len(sym.InitList) > 0 {
		fmt.Fprint(b.w, " INIT")
		for _, v := range sym.InitList {
			fmt.Fprintf(b.w, " %d", v)
		}
	}
	fmt.Fprintln(b.w)
}

func (b *Backend) EmitGlobalStr(label, text string) {
	fmt.Fprintf(b.w, "STRING %s %q\n", label, text)
}

func (b *Backend) EmitGlobalStrEnd() {
	fmt.Fprintln(b.w, "; end strings")
}

func (b *Backend) FuncPreamble(sym *symtab.Symbol) {
	fmt.Fprintf(b.w, "FUNCTION %s\n", sym.Name)
}

func (b *Backend) FuncPostamble(sym *symtab.Symbol, endLabel int) {
	fmt.Fprintf(b.w, "L%d:\n", endLabel)
	fmt.Fprintf(b.w, "ENDFUNCTION %s\n\n", sym.Name)
}

func (b *Backend) LoadInt(v int64, ty types.PrimType) codegen.Reg {
	return b.emit(OpConstW, b.newTemp(), fmt.Sprintf("%d", v))
}

func (b *Backend) LoadGlobal(sym *symtab.Symbol) codegen.Reg {
	return b.emit(OpLoadW, b.newTemp(), "@"+sym.Name)
}

func (b *Backend) LoadLocal(sym *symtab.Symbol) codegen.Reg {
	return b.emit(OpLoadW, b.newTemp(), fmt.Sprintf("%%%s", sym.Name))
}

func (b *Backend) StoreGlobal(val codegen.Reg, sym *symtab.Symbol) codegen.Reg {
	b.emitVoid(OpStoreW, "@"+sym.Name, b.tempName(val))
	return val
}

func (b *Backend) StoreLocal(val codegen.Reg, sym *symtab.Symbol) codegen.Reg {
	b.emitVoid(OpStoreW, "%"+sym.Name, b.tempName(val))
	return val
}

func (b *Backend) Address(sym *symtab.Symbol) codegen.Reg {
	name := "%" + sym.Name
	if sym.Visibility == symtab.VisGlobal || sym.Visibility == symtab.VisStatic || sym.Visibility == symtab.VisExternal {
		name = "@" + sym.Name
	}
	return b.emit(OpAddr, b.newTemp(), name)
}

func (b *Backend) LoadDeref(addr codegen.Reg, ty types.PrimType) codegen.Reg {
	return b.emit(OpLoadW, b.newTemp(), "*"+b.tempName(addr))
}

func (b *Backend) StoreDeref(val, addr codegen.Reg, ty types.PrimType) codegen.Reg {
	b.emitVoid(OpStoreW, "*"+b.tempName(addr), b.tempName(val))
	return val
}

func (b *Backend) LoadStringLit(s string) codegen.Reg {
	name, ok := b.strLits[s]
	if !ok {
		name = fmt.Sprintf("@.str%d", b.nextStr)
		b.nextStr++
		b.strLits[s] = name
		b.strOrder = append(b.strOrder, s)
	}
	return b.emit(OpLoadLit, b.newTemp(), name)
}

func (b *Backend) binop(op string, a, c codegen.Reg) codegen.Reg {
	return b.emit(op, b.newTemp(), b.tempName(a), b.tempName(c))
}

func (b *Backend) Add(a, c codegen.Reg, ty types.PrimType) codegen.Reg { return b.binop(OpAddW, a, c) }
func (b *Backend) Sub(a, c codegen.Reg, ty types.PrimType) codegen.Reg { return b.binop(OpSubW, a, c) }
func (b *Backend) Mul(a, c codegen.Reg, ty types.PrimType) codegen.Reg { return b.binop(OpMulW, a, c) }

func (b *Backend) Div(a, c codegen.Reg, ty types.PrimType, signed bool) codegen.Reg {
	if signed {
		return b.binop(OpDivS, a, c)
	}
	return b.binop(OpDivU, a, c)
}

func (b *Backend) Mod(a, c codegen.Reg, ty types.PrimType, signed bool) codegen.Reg {
	if signed {
		return b.binop(OpModS, a, c)
	}
	return b.binop(OpModU, a, c)
}

func (b *Backend) And(a, c codegen.Reg) codegen.Reg { return b.binop(OpAndW, a, c) }
func (b *Backend) Or(a, c codegen.Reg) codegen.Reg  { return b.binop(OpOrW, a, c) }
func (b *Backend) Xor(a, c codegen.Reg) codegen.Reg { return b.binop(OpXorW, a, c) }

func (b *Backend) ShiftLeft(a, c codegen.Reg) codegen.Reg { return b.binop(OpShlW, a, c) }

func (b *Backend) ShiftRight(a, c codegen.Reg, signed bool) codegen.Reg {
	if signed {
		return b.binop(OpShrS, a, c)
	}
	return b.binop(OpShrU, a, c)
}

func (b *Backend) Negate(a codegen.Reg, ty types.PrimType) codegen.Reg {
	return b.emit(OpNegW, b.newTemp(), b.tempName(a))
}

func (b *Backend) Invert(a codegen.Reg) codegen.Reg {
	return b.emit(OpNotW, b.newTemp(), b.tempName(a))
}

func (b *Backend) LogNot(a codegen.Reg) codegen.Reg {
	zero := b.LoadInt(0, types.P_INT)
	return b.emit(OpEqW, b.newTemp(), b.tempName(a), b.tempName(zero))
}

func (b *Backend) ToBool(a codegen.Reg, jumpFalse bool, label int) codegen.Reg {
	if jumpFalse {
		b.emitVoid(OpJumpZ, b.tempName(a), fmt.Sprintf("L%d", label))
		return a
	}
	return a
}

func (b *Backend) Widen(a codegen.Reg, from, to types.PrimType) codegen.Reg {
	if from == to {
		return a
	}
	return b.emit(OpWiden, b.newTemp(), b.tempName(a))
}

func (b *Backend) Scale(a codegen.Reg, factor int) codegen.Reg {
	f := b.LoadInt(int64(factor), types.P_INT)
	return b.binop(OpMulW, a, f)
}

var cmpSigned = map[ast.Op]string{
	ast.Eq: OpEqW, ast.Ne: OpNeW,
	ast.Lt: OpLtS, ast.Le: OpLeS, ast.Gt: OpGtS, ast.Ge: OpGeS,
}

var cmpUnsigned = map[ast.Op]string{
	ast.Eq: OpEqW, ast.Ne: OpNeW,
	ast.Lt: OpLtU, ast.Le: OpLeU, ast.Gt: OpGtU, ast.Ge: OpGeU,
}

func (b *Backend) Compare(op ast.Op, a, c codegen.Reg, signed bool) codegen.Reg {
	tbl := cmpUnsigned
	if signed {
		tbl = cmpSigned
	}
	return b.binop(tbl[op], a, c)
}

func (b *Backend) CompareAndJump(op ast.Op, a, c codegen.Reg, signed bool, label int) {
	r := b.Compare(op, a, c, signed)
	b.emitVoid(OpJumpZ, b.tempName(r), fmt.Sprintf("L%d", label))
}

func (b *Backend) Label(l int) {
	fmt.Fprintf(b.w, "L%d:\n", l)
}

func (b *Backend) Jump(l int) {
	b.emitVoid(OpJump, fmt.Sprintf("L%d", l))
}

func (b *Backend) NewLabel() int {
	b.nextLabel++
	return b.nextLabel
}

func (b *Backend) CallPrepareArgs(n int) {
	b.pendingArgs = make([]codegen.Reg, 0, n)
}

func (b *Backend) CallSetArg(index int, val codegen.Reg) {
	b.pendingArgs = append(b.pendingArgs, val)
	b.emitVoid(OpArg, b.tempName(val))
}

func (b *Backend) Call(sym *symtab.Symbol, argc int) codegen.Reg {
	return b.emit(OpCall, b.newTemp(), sym.Name, fmt.Sprintf("%d", argc))
}

func (b *Backend) Return(val codegen.Reg, sym *symtab.Symbol, endLabel int) {
	if val == codegen.NoReg {
		b.emitVoid(OpReturn)
	} else {
		b.emitVoid(OpReturn, b.tempName(val))
	}
	b.Jump(endLabel)
}

func (b *Backend) InlineAsm(text string) {
	b.emitVoid(OpAsm, fmt.Sprintf("%q", text))
}

func (b *Backend) FreeReg(r codegen.Reg) {}

package tiny

import (
	"bufio"
	"fmt"
	"io"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/codegen"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

// longHelpers names the runtime helper routines a 32-bit value needs
// on a 16-bit machine, matching the reference compiler's __mul/__div
// family: long arithmetic that doesn't fit in one register pair is
// lowered to a call instead of inline code.
var longHelpers = map[ast.Op]string{
	ast.Multiply: "__mull",
	ast.Divide:   "__divl",
	ast.Mod:      "__reml",
	ast.LShift:   "__shll",
	ast.RShift:   "__shrl",
}

// Backend implements codegen.Backend for an 8/16-bit register
// machine with spilling, following the reference compiler's cg*
// helpers: each operation emits one or two instructions into the
// function body buffer, and the allocator decides which physical
// register (or spill slot) holds each value.
type Backend struct {
	w        *bufio.Writer
	manifest types.Manifest
	alloc    *RegAllocator
	nextVirt int
	nextLbl  int
	spAdjust int // reset by FuncPreamble and checked by Postamble; no emitted push or pop updates it
	curArgN  int
	strLits  map[string]int
	strOrder []string
}

func New(w io.Writer, m types.Manifest) *Backend {
	return &Backend{w: bufio.NewWriter(w), manifest: m, alloc: NewRegAllocator(), strLits: make(map[string]int)}
}

func (b *Backend) Flush() error { return b.w.Flush() }
func (b *Backend) Manifest() types.Manifest { return b.manifest }

func (b *Backend) newVirt() string {
	v := fmt.Sprintf("v%d", b.nextVirt)
	b.nextVirt++
	return v
}

func (b *Backend) reg(r codegen.Reg) string {
	virt := fmt.Sprintf("v%d", int(r))
	if phys, ok := b.alloc.GetPhys(virt); ok {
		return regName(phys)
	}
	if b.alloc.IsSpilled(virt) {
		scratch := b.alloc.Allocate(virt)
		fmt.Fprintf(b.w, "\tldw\t%s, [fp-%d]\n", regName(scratch), b.alloc.GetSpillSlot(virt))
		return regName(scratch)
	}
	phys := b.alloc.Allocate(virt)
	return regName(phys)
}

func (b *Backend) alloToReg(id int) (codegen.Reg, string) {
	r := codegen.Reg(id)
	virt := fmt.Sprintf("v%d", id)
	phys := b.alloc.Allocate(virt)
	return r, regName(phys)
}

func (b *Backend) Preamble() {
	fmt.Fprintln(b.w, "; tiny target assembly")
}

func (b *Backend) Postamble() {
	if len(b.strOrder) > 0 {
		for _, s := range b.strOrder {
			b.EmitGlobalStr(fmt.Sprintf(".LC%d", b.strLits[s]), s)
		}
		b.EmitGlobalStrEnd()
	}
	fmt.Fprintln(b.w, "; end")
	if b.spAdjust != 0 {
		fmt.Fprintf(b.w, "; WARNING: sp_adjust invariant violated: delta=%d\n", b.spAdjust)
	}
}

func (b *Backend) EmitGlobalSym(sym *symtab.Symbol) {
	fmt.Fprintf(b.w, "%s:\n", sym.Name)
	if len(sym.InitList) > 0 {
		for _, v := range sym.InitList {
			fmt.Fprintf(b.w, "\t.word\t%d\n", v)
		}
		return
	}
	if sym.Size > 0 {
		fmt.Fprintf(b.w, "\t.space\t%d\n", sym.Size)
	}
}

func (b *Backend) EmitGlobalStr(label, text string) {
	fmt.Fprintf(b.w, "%s:\n\t.ascii\t%q\n", label, text)
}

func (b *Backend) EmitGlobalStrEnd() {
	fmt.Fprintln(b.w, "; end strings")
}

func (b *Backend) FuncPreamble(sym *symtab.Symbol) {
	b.alloc.Reset()
	b.spAdjust = 0
	fmt.Fprintf(b.w, "%s:\n", sym.Name)
	fmt.Fprintln(b.w, "\tpush\tfp")
	fmt.Fprintln(b.w, "\tmv\tfp, sp")
}

func (b *Backend) FuncPostamble(sym *symtab.Symbol, endLabel int) {
	fmt.Fprintf(b.w, "L%d:\n", endLabel)
	if fs := b.alloc.GetTotalFrameSize(); fs > 0 {
		fmt.Fprintf(b.w, "\tadi\tsp, sp, %d\n", fs)
	}
	fmt.Fprintln(b.w, "\tmv\tsp, fp")
	fmt.Fprintln(b.w, "\tpop\tfp")
	fmt.Fprintln(b.w, "\tret")
}

func (b *Backend) emitTo(op string, args ...string) codegen.Reg {
	dest := b.newVirtReg()
	fmt.Fprintf(b.w, "\t%s\t%s", op, b.reg(dest))
	for _, a := range args {
		fmt.Fprintf(b.w, ", %s", a)
	}
	fmt.Fprintln(b.w)
	return dest
}

func (b *Backend) newVirtReg() codegen.Reg {
	id := b.nextVirt
	b.alloc.Allocate(fmt.Sprintf("v%d", id))
	b.nextVirt++
	return codegen.Reg(id)
}

func (b *Backend) LoadInt(v int64, ty types.PrimType) codegen.Reg {
	return b.emitTo("ldi", fmt.Sprintf("%d", v))
}

func (b *Backend) LoadGlobal(sym *symtab.Symbol) codegen.Reg {
	return b.emitTo("ldw", sym.Name)
}

func (b *Backend) LoadLocal(sym *symtab.Symbol) codegen.Reg {
	return b.emitTo("ldw", fmt.Sprintf("[fp-%d]", sym.FrameOffset()))
}

func (b *Backend) StoreGlobal(val codegen.Reg, sym *symtab.Symbol) codegen.Reg {
	fmt.Fprintf(b.w, "\tstw\t%s, %s\n", b.reg(val), sym.Name)
	return val
}

func (b *Backend) StoreLocal(val codegen.Reg, sym *symtab.Symbol) codegen.Reg {
	fmt.Fprintf(b.w, "\tstw\t%s, [fp-%d]\n", b.reg(val), sym.FrameOffset())
	return val
}

func (b *Backend) Address(sym *symtab.Symbol) codegen.Reg {
	if sym.Visibility == symtab.VisLocal || sym.Visibility == symtab.VisParam {
		return b.emitTo("lea", fmt.Sprintf("[fp-%d]", sym.FrameOffset()))
	}
	return b.emitTo("lea", sym.Name)
}

func (b *Backend) LoadDeref(addr codegen.Reg, ty types.PrimType) codegen.Reg {
	op := "ldw"
	if ty.Base() == types.P_CHAR && !ty.IsPointer() {
		op = "ldb"
	}
	return b.emitTo(op, fmt.Sprintf("[%s]", b.reg(addr)))
}

func (b *Backend) StoreDeref(val, addr codegen.Reg, ty types.PrimType) codegen.Reg {
	op := "stw"
	if ty.Base() == types.P_CHAR && !ty.IsPointer() {
		op = "stb"
	}
	fmt.Fprintf(b.w, "\t%s\t%s, [%s]\n", op, b.reg(val), b.reg(addr))
	return val
}

func (b *Backend) LoadStringLit(s string) codegen.Reg {
	id, ok := b.strLits[s]
	if !ok {
		id = len(b.strLits)
		b.strLits[s] = id
		b.strOrder = append(b.strOrder, s)
	}
	return b.emitTo("lea", fmt.Sprintf(".LC%d", id))
}

func (b *Backend) binary(mnemonic string, a, c codegen.Reg) codegen.Reg {
	dest := b.emitTo(mnemonic, b.reg(a), b.reg(c))
	return dest
}

func (b *Backend) Add(a, c codegen.Reg, ty types.PrimType) codegen.Reg { return b.binary("add", a, c) }
func (b *Backend) Sub(a, c codegen.Reg, ty types.PrimType) codegen.Reg { return b.binary("sub", a, c) }

func (b *Backend) Mul(a, c codegen.Reg, ty types.PrimType) codegen.Reg {
	if ty.Base() == types.P_LONG {
		return b.callHelper(longHelpers[ast.Multiply], a, c)
	}
	return b.binary("mul", a, c)
}

func (b *Backend) Div(a, c codegen.Reg, ty types.PrimType, signed bool) codegen.Reg {
	if ty.Base() == types.P_LONG {
		return b.callHelper(longHelpers[ast.Divide], a, c)
	}
	if signed {
		return b.binary("divs", a, c)
	}
	return b.binary("divu", a, c)
}

func (b *Backend) Mod(a, c codegen.Reg, ty types.PrimType, signed bool) codegen.Reg {
	if ty.Base() == types.P_LONG {
		return b.callHelper(longHelpers[ast.Mod], a, c)
	}
	if signed {
		return b.binary("rems", a, c)
	}
	return b.binary("remu", a, c)
}

func (b *Backend) And(a, c codegen.Reg) codegen.Reg { return b.binary("and", a, c) }
func (b *Backend) Or(a, c codegen.Reg) codegen.Reg  { return b.binary("or", a, c) }
func (b *Backend) Xor(a, c codegen.Reg) codegen.Reg { return b.binary("xor", a, c) }

func (b *Backend) ShiftLeft(a, c codegen.Reg) codegen.Reg  { return b.binary("shl", a, c) }
func (b *Backend) ShiftRight(a, c codegen.Reg, signed bool) codegen.Reg {
	if signed {
		return b.binary("sar", a, c)
	}
	return b.binary("shr", a, c)
}

func (b *Backend) callHelper(name string, a, c codegen.Reg) codegen.Reg {
	fmt.Fprintf(b.w, "\tpush\t%s\n", b.reg(c))
	fmt.Fprintf(b.w, "\tpush\t%s\n", b.reg(a))
	fmt.Fprintf(b.w, "\tcall\t%s\n", name)
	fmt.Fprintf(b.w, "\tadi\tsp, sp, 4\n")
	return b.emitTo("mv", "r1")
}

func (b *Backend) Negate(a codegen.Reg, ty types.PrimType) codegen.Reg {
	if ty.Base() == types.P_LONG {
		return b.callHelper("__negatel", a, a)
	}
	return b.emitTo("neg", b.reg(a))
}

func (b *Backend) Invert(a codegen.Reg) codegen.Reg { return b.emitTo("not", b.reg(a)) }

func (b *Backend) LogNot(a codegen.Reg) codegen.Reg {
	return b.emitTo("seq", b.reg(a), "0")
}

func (b *Backend) ToBool(a codegen.Reg, jumpFalse bool, label int) codegen.Reg {
	fmt.Fprintf(b.w, "\tcmp\t%s, 0\n", b.reg(a))
	if jumpFalse {
		fmt.Fprintf(b.w, "\tbeq\tL%d\n", label)
	}
	return a
}

func (b *Backend) Widen(a codegen.Reg, from, to types.PrimType) codegen.Reg {
	if from == to {
		return a
	}
	if from.Base() == types.P_CHAR && to.Base() != types.P_CHAR {
		return b.emitTo("extb", b.reg(a))
	}
	if to.Base() == types.P_LONG && from.Base() != types.P_LONG {
		return b.emitTo("extw", b.reg(a))
	}
	return a
}

func (b *Backend) Scale(a codegen.Reg, factor int) codegen.Reg {
	if shift, ok := powerOfTwo(factor); ok {
		return b.emitTo("shl", b.reg(a), fmt.Sprintf("%d", shift))
	}
	return b.emitTo("mul", b.reg(a), fmt.Sprintf("%d", factor))
}

func powerOfTwo(v int) (int, bool) {
	if v <= 0 {
		return 0, false
	}
	for s := 0; s < 31; s++ {
		if 1<<uint(s) == v {
			return s, true
		}
	}
	return 0, false
}

// compareMnemonic maps a relational op to the tiny target's
// branch-if-true mnemonic.
var compareMnemonic = map[ast.Op]string{
	ast.Eq: "beq", ast.Ne: "bne",
	ast.Lt: "blts", ast.Le: "bles", ast.Gt: "bgts", ast.Ge: "bges",
}
var compareMnemonicU = map[ast.Op]string{
	ast.Eq: "beq", ast.Ne: "bne",
	ast.Lt: "bltu", ast.Le: "bleu", ast.Gt: "bgtu", ast.Ge: "bgeu",
}

var inverse = map[ast.Op]ast.Op{
	ast.Eq: ast.Ne, ast.Ne: ast.Eq,
	ast.Lt: ast.Ge, ast.Ge: ast.Lt,
	ast.Gt: ast.Le, ast.Le: ast.Gt,
}

// Compare implements a long-safe relational test: rather than
// comparing a long's two halves separately (which the original
// 6809 code generator got wrong for mixed-sign operands, producing
// bogus results whenever the high words differed in sign — the
// REDESIGN FLAG this backend fixes), it emits one full-width `cmp` of
// the two operands followed by a set-on-condition instruction. The
// same two instructions are emitted for every operand width; long
// operands get no helper call and no separate high/low handling.
func (b *Backend) Compare(op ast.Op, a, c codegen.Reg, signed bool) codegen.Reg {
	fmt.Fprintf(b.w, "\tcmp\t%s, %s\n", b.reg(a), b.reg(c))
	mnem := compareMnemonicU[op]
	if signed {
		mnem = compareMnemonic[op]
	}
	dest := b.emitTo("set"+mnem[1:], "")
	return dest
}

func (b *Backend) CompareAndJump(op ast.Op, a, c codegen.Reg, signed bool, label int) {
	fmt.Fprintf(b.w, "\tcmp\t%s, %s\n", b.reg(a), b.reg(c))
	inv := inverse[op]
	mnem := compareMnemonicU[inv]
	if signed {
		mnem = compareMnemonic[inv]
	}
	fmt.Fprintf(b.w, "\t%s\tL%d\n", mnem, label)
}

func (b *Backend) Label(l int) { fmt.Fprintf(b.w, "L%d:\n", l) }
func (b *Backend) Jump(l int)  { fmt.Fprintf(b.w, "\tjmp\tL%d\n", l) }

func (b *Backend) NewLabel() int {
	b.nextLbl++
	return b.nextLbl
}

func (b *Backend) CallPrepareArgs(n int) { b.curArgN = 0 }

func (b *Backend) CallSetArg(index int, val codegen.Reg) {
	fmt.Fprintf(b.w, "\tpush\t%s\n", b.reg(val))
	b.curArgN++
}

func (b *Backend) Call(sym *symtab.Symbol, argc int) codegen.Reg {
	fmt.Fprintf(b.w, "\tcall\t%s\n", sym.Name)
	if argc > 0 {
		fmt.Fprintf(b.w, "\tadi\tsp, sp, %d\n", argc*2)
	}
	return b.emitTo("mv", "r1")
}

func (b *Backend) Return(val codegen.Reg, sym *symtab.Symbol, endLabel int) {
	if val != codegen.NoReg {
		fmt.Fprintf(b.w, "\tmv\tr1, %s\n", b.reg(val))
	}
	fmt.Fprintf(b.w, "\tjmp\tL%d\n", endLabel)
}

func (b *Backend) InlineAsm(text string) {
	fmt.Fprintf(b.w, "\t%s\n", text)
}

func (b *Backend) FreeReg(r codegen.Reg) {
	b.alloc.Free(fmt.Sprintf("v%d", int(r)))
}

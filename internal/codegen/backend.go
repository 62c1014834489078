// Package codegen implements the target-independent tree-walking code
// generator. It walks the AST once, emitting instructions through the
// Backend interface; all target-specific knowledge (registers,
// instruction mnemonics, calling convention) lives behind that
// interface in internal/backend/il and internal/backend/tiny.
package codegen

import (
	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

// Reg is an opaque backend-allocated register/temporary handle. Its
// meaning (a physical register number, a spill slot, an SSA temp
// name) is entirely up to the Backend implementation; the generator
// only ever threads values it got back from the Backend into later
// Backend calls.
type Reg int

const NoReg Reg = -1

// Backend is the interface a target implements to receive code
// generation calls from the generic walker. Every method that
// produces a value returns the Reg holding it; methods that consume
// values take Regs produced by earlier calls. This trait-like split
// (generic tree walk vs. target-specific instruction selection)
// replaces the reference compiler's #include-based file selection of
// a single hard-wired backend.
type Backend interface {
	Manifest() types.Manifest

	Preamble()
	Postamble()
	FuncPreamble(sym *symtab.Symbol)
	FuncPostamble(sym *symtab.Symbol, endLabel int)

	// EmitGlobalSym reserves (and, when sym.InitList is non-empty,
	// initialises) the storage for one global variable or array. The
	// generator calls this once per data symbol in the symbol table,
	// separately from function generation.
	EmitGlobalSym(sym *symtab.Symbol)
	// EmitGlobalStr emits one string literal's storage under label,
	// and EmitGlobalStrEnd closes the string data out. Both run at
	// postamble time, once code generation has discovered every
	// string literal a function body referenced via LoadStringLit.
	EmitGlobalStr(label, text string)
	EmitGlobalStrEnd()

	LoadInt(v int64, ty types.PrimType) Reg
	LoadGlobal(sym *symtab.Symbol) Reg
	LoadLocal(sym *symtab.Symbol) Reg
	StoreGlobal(val Reg, sym *symtab.Symbol) Reg
	StoreLocal(val Reg, sym *symtab.Symbol) Reg
	Address(sym *symtab.Symbol) Reg
	LoadDeref(addr Reg, ty types.PrimType) Reg
	StoreDeref(val, addr Reg, ty types.PrimType) Reg
	LoadStringLit(s string) Reg

	Add(a, b Reg, ty types.PrimType) Reg
	Sub(a, b Reg, ty types.PrimType) Reg
	Mul(a, b Reg, ty types.PrimType) Reg
	Div(a, b Reg, ty types.PrimType, signed bool) Reg
	Mod(a, b Reg, ty types.PrimType, signed bool) Reg
	And(a, b Reg) Reg
	Or(a, b Reg) Reg
	Xor(a, b Reg) Reg
	ShiftLeft(a, b Reg) Reg
	ShiftRight(a, b Reg, signed bool) Reg
	Negate(a Reg, ty types.PrimType) Reg
	Invert(a Reg) Reg
	LogNot(a Reg) Reg
	ToBool(a Reg, jumpFalse bool, label int) Reg
	Widen(a Reg, from, to types.PrimType) Reg
	Scale(a Reg, factor int) Reg

	Compare(op ast.Op, a, b Reg, signed bool) Reg
	CompareAndJump(op ast.Op, a, b Reg, signed bool, label int) // jump to label if op is FALSE

	Label(l int)
	Jump(l int)
	NewLabel() int

	CallPrepareArgs(n int)
	CallSetArg(index int, val Reg)
	Call(sym *symtab.Symbol, argc int) Reg
	Return(val Reg, sym *symtab.Symbol, endLabel int)

	InlineAsm(text string)

	FreeReg(r Reg)
}

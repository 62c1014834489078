// Package symtab implements the compiler's symbol table: one flat
// slab of Symbol records for globals, a per-function slab for locals
// and parameters, plus the small auxiliary tables (struct/union tags,
// enum constants, typedefs) that the parser consults while building
// types.
//
// The shape mirrors struct symtable from the reference compiler: a
// single Symbol struct carries every symbol kind, with a handful of
// fields overloaded by StructuralKind the way the original source
// aliases st_posn to both st_endlabel and st_label.
package symtab

import (
	"fmt"

	"github.com/gmofish/ccyg/internal/types"
)

// StructuralKind says what kind of thing a Symbol names.
type StructuralKind int

const (
	KindVariable StructuralKind = iota
	KindFunction
	KindArray
	KindStruct
	KindUnion
	KindEnumType
	KindEnumVal
	KindTypedef
	KindNotAType
)

// Visibility says where a Symbol lives / who can see it.
type Visibility int

const (
	VisLocal Visibility = iota
	VisParam
	VisGlobal
	VisExternal
	VisStatic
	VisMember
)

// Symbol is one entry in the symbol table. Several fields are
// overloaded by StructuralKind, following the reference compiler's
// st_posn aliasing:
//   - for KindFunction, Posn holds the function's end label.
//   - for a goto target, Posn holds the label number.
//   - for a struct member, Posn holds the byte offset within the
//     enclosing struct/union.
//   - for a local variable, Posn holds the stack frame offset.
type Symbol struct {
	Name       string
	ID         int
	Type       types.PrimType
	Ctype      int // composite registry id, when Type is struct/union
	Kind       StructuralKind
	Visibility Visibility
	Size       int // total size in bytes; HasEllipsis reuses this field for varargs funcs
	NElems     int // array length, or parameter count for a function
	HasAddress bool
	Posn       int
	InitList   []int64 // initialiser values, or an enum constant's value

	Members []*Symbol // ordered member list for KindStruct/KindUnion
	Next    *Symbol   // chains symbols of the same kind together
}

func (s *Symbol) HasEllipsis() bool  { return s.Size < 0 }
func (s *Symbol) EndLabel() int      { return s.Posn }
func (s *Symbol) SetEndLabel(l int)  { s.Posn = l }
func (s *Symbol) Label() int         { return s.Posn }
func (s *Symbol) FrameOffset() int   { return s.Posn }
func (s *Symbol) MemberOffset() int  { return s.Posn }

// Table is the full symbol table for one translation unit: a global
// slab plus, while a function body is being parsed, a local slab that
// is discarded (FreeLocalSymbols) once the function ends.
type Table struct {
	globals  []*Symbol
	locals   []*Symbol
	params   []*Symbol
	structs  []*Symbol
	unions   []*Symbol
	enumTy   []*Symbol
	enumVal  []*Symbol
	typedefs []*Symbol

	byName map[string]*Symbol // fast lookup across locals+params+globals
	nextID int
}

func New() *Table {
	return &Table{byName: make(map[string]*Symbol)}
}

func (t *Table) newID() int {
	t.nextID++
	return t.nextID
}

// AddGlobal declares a file-scope variable or function. Redeclaring an
// existing global is a fatal error, with one exception matching C's
// linkage rules: a prior `extern` declaration may be followed by a
// defining (non-extern) declaration of the same name, which promotes
// the existing symbol in place rather than creating a second one; the
// reverse (a defining global followed by `extern`) is also accepted
// and simply keeps the definition. Any other clash (two definitions,
// or a kind mismatch) is rejected.
func (t *Table) AddGlobal(name string, ty types.PrimType, ctype int, kind StructuralKind, vis Visibility) (*Symbol, error) {
	if existing, ok := t.byName[name]; ok {
		if existing.Visibility != VisGlobal && existing.Visibility != VisExternal && existing.Visibility != VisStatic {
			return nil, fmt.Errorf("redeclaration of %q as a different kind of symbol", name)
		}
		if existing.Kind != kind {
			return nil, fmt.Errorf("redeclaration of %q with a different kind", name)
		}
		switch {
		case existing.Visibility == VisExternal && vis != VisExternal:
			existing.Visibility = vis
			existing.Type = ty
			existing.Ctype = ctype
			return existing, nil
		case vis == VisExternal:
			return existing, nil
		default:
			return nil, fmt.Errorf("redeclaration of %q", name)
		}
	}
	s := &Symbol{Name: name, ID: t.newID(), Type: ty, Ctype: ctype, Kind: kind, Visibility: vis}
	t.globals = append(t.globals, s)
	t.byName[name] = s
	return s, nil
}

func (t *Table) AddLocal(name string, ty types.PrimType, ctype int) (*Symbol, error) {
	if t.FindLocal(name) != nil {
		return nil, fmt.Errorf("redeclaration of %q", name)
	}
	s := &Symbol{Name: name, ID: t.newID(), Type: ty, Ctype: ctype, Kind: KindVariable, Visibility: VisLocal}
	t.locals = append(t.locals, s)
	t.byName[name] = s
	return s, nil
}

func (t *Table) AddParam(name string, ty types.PrimType, ctype int) (*Symbol, error) {
	for _, p := range t.params {
		if p.Name == name {
			return nil, fmt.Errorf("redeclaration of parameter %q", name)
		}
	}
	s := &Symbol{Name: name, ID: t.newID(), Type: ty, Ctype: ctype, Kind: KindVariable, Visibility: VisParam}
	t.params = append(t.params, s)
	t.byName[name] = s
	return s, nil
}

// AddMember appends a field to a struct/union Symbol's Members list,
// used while the parser walks a struct/union declaration.
func (t *Table) AddMember(owner *Symbol, name string, ty types.PrimType, ctype, offset int) *Symbol {
	s := &Symbol{Name: name, ID: t.newID(), Type: ty, Ctype: ctype, Kind: KindVariable, Visibility: VisMember, Posn: offset}
	owner.Members = append(owner.Members, s)
	return s
}

func (t *Table) AddStruct(name string) *Symbol {
	s := &Symbol{Name: name, ID: t.newID(), Kind: KindStruct, Type: types.P_STRUCT}
	t.structs = append(t.structs, s)
	if name != "" {
		t.byName["struct "+name] = s
	}
	return s
}

func (t *Table) AddUnion(name string) *Symbol {
	s := &Symbol{Name: name, ID: t.newID(), Kind: KindUnion, Type: types.P_UNION}
	t.unions = append(t.unions, s)
	if name != "" {
		t.byName["union "+name] = s
	}
	return s
}

func (t *Table) AddEnumType(name string) *Symbol {
	s := &Symbol{Name: name, ID: t.newID(), Kind: KindEnumType}
	t.enumTy = append(t.enumTy, s)
	if name != "" {
		t.byName["enum "+name] = s
	}
	return s
}

func (t *Table) AddEnumValue(name string, value int64) *Symbol {
	s := &Symbol{Name: name, ID: t.newID(), Kind: KindEnumVal, Type: types.P_INT, InitList: []int64{value}}
	t.enumVal = append(t.enumVal, s)
	t.byName[name] = s
	return s
}

func (t *Table) AddTypedef(name string, ty types.PrimType, ctype int) *Symbol {
	s := &Symbol{Name: name, ID: t.newID(), Kind: KindTypedef, Type: ty, Ctype: ctype}
	t.typedefs = append(t.typedefs, s)
	t.byName["typedef "+name] = s
	return s
}

// FindLocal looks up name among the current function's locals and
// parameters only (no fallback to globals).
func (t *Table) FindLocal(name string) *Symbol {
	for i := len(t.locals) - 1; i >= 0; i-- {
		if t.locals[i].Name == name {
			return t.locals[i]
		}
	}
	for _, p := range t.params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// FindSymbol looks up a variable/function name, preferring the
// current function's scope over file scope, matching C's shadowing
// rules.
func (t *Table) FindSymbol(name string) *Symbol {
	if s := t.FindLocal(name); s != nil {
		return s
	}
	for i := len(t.globals) - 1; i >= 0; i-- {
		if t.globals[i].Name == name {
			return t.globals[i]
		}
	}
	return nil
}

func (t *Table) FindMember(owner *Symbol, name string) *Symbol {
	for _, m := range owner.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (t *Table) FindStruct(name string) *Symbol { return t.findTagged(t.structs, name) }
func (t *Table) FindUnion(name string) *Symbol  { return t.findTagged(t.unions, name) }
func (t *Table) FindEnumType(name string) *Symbol { return t.findTagged(t.enumTy, name) }

func (t *Table) findTagged(list []*Symbol, name string) *Symbol {
	for _, s := range list {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (t *Table) FindEnumValue(name string) *Symbol {
	for _, s := range t.enumVal {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (t *Table) FindTypedef(name string) *Symbol {
	for _, s := range t.typedefs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// FreeLocalSymbols discards the current function's locals/params once
// code generation for that function has finished, matching the
// reference compiler's per-function frame reset.
func (t *Table) FreeLocalSymbols() {
	for _, s := range t.locals {
		delete(t.byName, s.Name)
	}
	for _, s := range t.params {
		delete(t.byName, s.Name)
	}
	t.locals = nil
	t.params = nil
}

// FreeStaticSymbols drops file-scope `static` globals at end of
// translation unit, since they are not visible to other compilation
// units and need not survive into the symbol file written for later
// phases.
func (t *Table) FreeStaticSymbols() {
	kept := t.globals[:0]
	for _, s := range t.globals {
		if s.Visibility == VisStatic {
			delete(t.byName, s.Name)
			continue
		}
		kept = append(kept, s)
	}
	t.globals = kept
}

// RestoreGlobal re-inserts a Symbol built by deserialising a symbol
// file, bypassing the redeclaration check and preserving its original
// ID (rather than minting a new one) so the AST file's SymID
// references, resolved separately, keep pointing at the right symbol.
func (t *Table) RestoreGlobal(s *Symbol) {
	t.globals = append(t.globals, s)
	t.byName[s.Name] = s
	if s.ID >= t.nextID {
		t.nextID = s.ID
	}
}

func (t *Table) Globals() []*Symbol  { return t.globals }
func (t *Table) Locals() []*Symbol   { return t.locals }
func (t *Table) Params() []*Symbol   { return t.params }
func (t *Table) Structs() []*Symbol  { return t.structs }
func (t *Table) Unions() []*Symbol   { return t.unions }

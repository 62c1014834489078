// Package types implements the compiler's bit-packed primitive type
// encoding and the composite (struct/union layout and typedef) registry.
//
// A PrimType packs two pieces of information into one integer: the
// low 4 bits count levels of pointer indirection, and the remaining
// bits select a base type. This lets PointerTo/ValueAt walk pointer
// chains with plain arithmetic instead of an allocated chain of type
// nodes, mirroring the encoding used by the original toolchain this
// compiler is descended from.
package types

// PrimType is a bit-packed primitive type: base type in the high
// bits, indirection count in the low 4 bits.
type PrimType int

const (
	indirectionBits = 4
	indirectionMask = PrimType(1<<indirectionBits) - 1

	P_NONE   PrimType = 0
	P_VOID   PrimType = 16
	P_CHAR   PrimType = 32
	P_INT    PrimType = 48
	P_LONG   PrimType = 64
	P_STRUCT PrimType = 80
	P_UNION  PrimType = 96
)

var baseNames = map[PrimType]string{
	P_NONE: "none", P_VOID: "void", P_CHAR: "char", P_INT: "int",
	P_LONG: "long", P_STRUCT: "struct", P_UNION: "union",
}

// Base strips the indirection bits, returning the underlying base type.
func (t PrimType) Base() PrimType { return t &^ indirectionMask }

// Indirection returns the pointer depth (0 for a non-pointer).
func (t PrimType) Indirection() int { return int(t & indirectionMask) }

// PointerTo returns the type one level more indirect than t.
func (t PrimType) PointerTo() PrimType { return t + 1 }

// ValueAt returns the type one level less indirect than t. Calling it
// on a non-pointer type is a programmer error in the caller (the
// parser must check IsPointer first).
func (t PrimType) ValueAt() PrimType { return t - 1 }

func (t PrimType) IsPointer() bool { return t.Indirection() > 0 }

func (t PrimType) IsInt() bool {
	b := t.Base()
	return t.Indirection() == 0 && (b == P_CHAR || b == P_INT || b == P_LONG)
}

func (t PrimType) IsStructOrUnion() bool {
	b := t.Base()
	return b == P_STRUCT || b == P_UNION
}

func (t PrimType) IsVoidPtr() bool {
	return t.Base() == P_VOID && t.Indirection() > 0
}

func (t PrimType) String() string {
	s := baseNames[t.Base()]
	if s == "" {
		s = "unknown"
	}
	for i := 0; i < t.Indirection(); i++ {
		s += "*"
	}
	return s
}

// Registry holds the composite type definitions (struct/union layouts
// and typedef names) that a bare PrimType cannot carry by
// itself. A composite PrimType (P_STRUCT/P_UNION with some
// indirection) stores its Registry key in the AST/symbol's ctype
// field rather than in the PrimType bits.
type Registry struct {
	structs  map[int]*Composite
	unions   map[int]*Composite
	nextID   int
	typedefs map[string]PrimType
	tdCtype  map[string]int
}

// Composite describes the layout of a struct or union.
type Composite struct {
	ID      int
	Name    string
	Size    int
	Align   int
	Members []Member
}

// Member is one field of a Composite.
type Member struct {
	Name   string
	Type   PrimType
	Ctype  int // composite id, if Type is itself struct/union
	Offset int
}

func NewRegistry() *Registry {
	return &Registry{
		structs:  make(map[int]*Composite),
		unions:   make(map[int]*Composite),
		typedefs: make(map[string]PrimType),
		tdCtype:  make(map[string]int),
	}
}

func (r *Registry) NewStruct(name string) *Composite {
	r.nextID++
	c := &Composite{ID: r.nextID, Name: name}
	r.structs[c.ID] = c
	return c
}

func (r *Registry) NewUnion(name string) *Composite {
	r.nextID++
	c := &Composite{ID: r.nextID, Name: name}
	r.unions[c.ID] = c
	return c
}

func (r *Registry) Struct(id int) *Composite { return r.structs[id] }
func (r *Registry) Union(id int) *Composite  { return r.unions[id] }

func (r *Registry) FindStructByName(name string) *Composite {
	for _, c := range r.structs {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (r *Registry) FindUnionByName(name string) *Composite {
	for _, c := range r.unions {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (r *Registry) DefineTypedef(name string, t PrimType, ctype int) {
	r.typedefs[name] = t
	r.tdCtype[name] = ctype
}

func (r *Registry) LookupTypedef(name string) (PrimType, int, bool) {
	t, ok := r.typedefs[name]
	return t, r.tdCtype[name], ok
}

// Manifest describes backend-specific primitive sizes, loaded from a
// YAML file selected with the driver's -m flag (see internal/manifest).
type Manifest struct {
	CharSize int
	IntSize  int
	LongSize int
	PtrSize  int
}

// TypeSize returns the storage size in bytes of t, given the active
// manifest for the target backend and the composite registry for
// struct/union lookups.
func TypeSize(t PrimType, ctype int, m Manifest, reg *Registry) int {
	if t.IsPointer() {
		return m.PtrSize
	}
	switch t.Base() {
	case P_CHAR:
		return m.CharSize
	case P_INT:
		return m.IntSize
	case P_LONG:
		return m.LongSize
	case P_STRUCT:
		if c := reg.Struct(ctype); c != nil {
			return c.Size
		}
	case P_UNION:
		if c := reg.Union(ctype); c != nil {
			return c.Size
		}
	}
	return 0
}

// ModifyType computes the result type of implicitly widening rtype to
// match ltype for a binary operator, or reports that the combination
// is not allowed (e.g. two unrelated pointer types). It mirrors the
// type rules of the classic modify_type() of the C-family toolchains
// this compiler descends from: integer operands widen to the wider of
// the two, and pointer +/- integer keeps the pointer type. It returns
// only the result type: it builds no widening, scaling or cast node,
// and op, the ctypes, reg and m do not affect the result. Pointer
// scaling is done by the parser (scalePointerArith, parseIndex).
func ModifyType(ltype, rtype PrimType, op int, lctype, rctype int, reg *Registry, m Manifest) (PrimType, bool) {
	if ltype.IsInt() && rtype.IsInt() {
		if rankOf(ltype) >= rankOf(rtype) {
			return ltype, true
		}
		return rtype, true
	}
	if ltype.IsPointer() && rtype.IsInt() {
		return ltype, true
	}
	if rtype.IsPointer() && ltype.IsInt() {
		return rtype, true
	}
	if ltype == rtype {
		return ltype, true
	}
	return P_NONE, false
}

func rankOf(t PrimType) int {
	switch t.Base() {
	case P_CHAR:
		return 1
	case P_INT:
		return 2
	case P_LONG:
		return 3
	}
	return 0
}

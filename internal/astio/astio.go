// Package astio serialises and deserialises the AST and symbol table
// between compiler phases. Nodes are written as fixed-size binary
// records plus a companion index file of (node id, byte offset)
// pairs, so the code generator can load a single function's tree
// without scanning the whole file — the same random-access idea the
// reference compiler's detree/desym tools use, reimplemented on top
// of encoding/binary instead of fread of a C struct. A record's offset
// is its position in write order times recordSize, not a function of
// its id, so a node is only found through the index.
package astio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/gmofish/ccyg/internal/ast"
	"github.com/gmofish/ccyg/internal/symtab"
	"github.com/gmofish/ccyg/internal/types"
)

// recordSize is the fixed width of one serialised node: enough fields
// that every Node variant fits without a variable-length tail.
const recordSize = 64

// WriteAST writes every completed function's AST (already glued into
// one Node chain per function) to w, and returns the node id -> byte
// offset index alongside it so the caller can hand it to WriteIndex.
func WriteAST(w io.Writer, roots []*ast.Node) (map[int]int64, error) {
	bw := bufio.NewWriter(w)
	index := make(map[int]int64)
	var offset int64

	var visit func(n *ast.Node) error
	seen := make(map[int]bool)
	visit = func(n *ast.Node) error {
		if n == nil || seen[n.ID] {
			return nil
		}
		seen[n.ID] = true
		if err := visit(n.Left); err != nil {
			return err
		}
		if err := visit(n.Mid); err != nil {
			return err
		}
		if err := visit(n.Right); err != nil {
			return err
		}
		if err := writeNode(bw, n); err != nil {
			return err
		}
		index[n.ID] = offset
		offset += recordSize
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	return index, bw.Flush()
}

func writeNode(w io.Writer, n *ast.Node) error {
	var buf [recordSize]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(n.ID))
	binary.LittleEndian.PutUint16(buf[4:], uint16(n.Op))
	binary.LittleEndian.PutUint32(buf[6:], uint32(n.Type))
	binary.LittleEndian.PutUint32(buf[10:], uint32(n.Ctype))
	if n.RValue {
		buf[14] = 1
	}
	binary.LittleEndian.PutUint32(buf[16:], uint32(n.LeftID))
	binary.LittleEndian.PutUint32(buf[20:], uint32(n.MidID))
	binary.LittleEndian.PutUint32(buf[24:], uint32(n.RightID))
	binary.LittleEndian.PutUint32(buf[28:], uint32(n.SymID))
	binary.LittleEndian.PutUint64(buf[32:], uint64(n.IntValue))
	binary.LittleEndian.PutUint32(buf[40:], uint32(n.Line))
	nameBytes := []byte(n.Name)
	if len(nameBytes) > 20 {
		nameBytes = nameBytes[:20]
	}
	copy(buf[44:], nameBytes)
	_, err := w.Write(buf[:])
	return err
}

// ReadNodeAt reads a single record at byte offset off in r, without
// resolving child pointers — the caller re-resolves Left/Mid/Right by
// looking up LeftID/MidID/RightID in the index, matching
// loadASTnode's on-demand child loading.
func ReadNodeAt(r io.ReaderAt, off int64) (*ast.Node, error) {
	var buf [recordSize]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return nil, err
	}
	n := &ast.Node{
		ID:      int(binary.LittleEndian.Uint32(buf[0:])),
		Op:      ast.Op(binary.LittleEndian.Uint16(buf[4:])),
		Type:    types.PrimType(binary.LittleEndian.Uint32(buf[6:])),
		Ctype:   int(binary.LittleEndian.Uint32(buf[10:])),
		RValue:  buf[14] != 0,
		LeftID:  int(binary.LittleEndian.Uint32(buf[16:])),
		MidID:   int(binary.LittleEndian.Uint32(buf[20:])),
		RightID: int(binary.LittleEndian.Uint32(buf[24:])),
		SymID:   int(binary.LittleEndian.Uint32(buf[28:])),
		IntValue: int64(binary.LittleEndian.Uint64(buf[32:])),
		Line:    int(binary.LittleEndian.Uint32(buf[40:])),
	}
	end := 44
	for end < recordSize && buf[end] != 0 {
		end++
	}
	n.Name = string(buf[44:end])
	return n, nil
}

// Index maps node id to its byte offset in the AST file, and resolves
// a full tree on demand.
type Index struct {
	offsets map[int]int64
	r       io.ReaderAt
	cache   map[int]*ast.Node
}

// WriteIndex writes the node id -> offset map built by WriteAST as a
// flat table of (id, offset) pairs.
func WriteIndex(w io.Writer, index map[int]int64) error {
	bw := bufio.NewWriter(w)
	for id, off := range index {
		var rec [12]byte
		binary.LittleEndian.PutUint32(rec[0:], uint32(id))
		binary.LittleEndian.PutUint64(rec[4:], uint64(off))
		if _, err := bw.Write(rec[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadIndex loads an index file written by WriteIndex.
func ReadIndex(r io.Reader) (map[int]int64, error) {
	idx := make(map[int]int64)
	br := bufio.NewReader(r)
	for {
		var rec [12]byte
		_, err := io.ReadFull(br, rec[:])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id := int(binary.LittleEndian.Uint32(rec[0:]))
		off := int64(binary.LittleEndian.Uint64(rec[4:]))
		idx[id] = off
	}
	return idx, nil
}

// NewIndex wraps an already-open AST file and index map for repeated
// random-access Load calls.
func NewIndex(r io.ReaderAt, offsets map[int]int64) *Index {
	return &Index{offsets: offsets, r: r, cache: make(map[int]*ast.Node)}
}

// Load resolves node id, recursively hydrating Left/Mid/Right, mirroring
// loadASTnode(id, followChain) with followChain always true — our
// trees are glued per-function and do not chain to other functions.
func (idx *Index) Load(id int) (*ast.Node, error) {
	if id == 0 {
		return nil, nil
	}
	if n, ok := idx.cache[id]; ok {
		return n, nil
	}
	off, ok := idx.offsets[id]
	if !ok {
		return nil, fmt.Errorf("astio: node id %d not in index", id)
	}
	n, err := ReadNodeAt(idx.r, off)
	if err != nil {
		return nil, err
	}
	idx.cache[id] = n
	if n.Left, err = idx.Load(n.LeftID); err != nil {
		return nil, err
	}
	if n.Mid, err = idx.Load(n.MidID); err != nil {
		return nil, err
	}
	if n.Right, err = idx.Load(n.RightID); err != nil {
		return nil, err
	}
	return n, nil
}

// OpenFunctionRoots opens path and loads every root id in roots (the
// top node id of each function, recorded separately by the parser),
// returning the full hydrated tree per function.
func OpenFunctionRoots(astPath, idxPath string, roots []int) ([]*ast.Node, func() error, error) {
	af, err := os.Open(astPath)
	if err != nil {
		return nil, nil, err
	}
	idxFile, err := os.Open(idxPath)
	if err != nil {
		af.Close()
		return nil, nil, err
	}
	offsets, err := ReadIndex(idxFile)
	idxFile.Close()
	if err != nil {
		af.Close()
		return nil, nil, err
	}
	idx := NewIndex(af, offsets)
	var out []*ast.Node
	for _, rootID := range roots {
		n, err := idx.Load(rootID)
		if err != nil {
			af.Close()
			return nil, nil, err
		}
		out = append(out, n)
	}
	return out, af.Close, nil
}

// symRecordSize is the fixed width of one serialised symbol record,
// the same scheme writeNode/ReadNodeAt use for AST nodes: a flat
// record array plus an auxiliary value blob for the variable-length
// tails (InitList, Members) that don't fit a fixed record.
const symRecordSize = 64

const symNameCap = 16

// symbolRecord is the on-disk shape of one Symbol. InitOffset/Count
// index into the file's shared InitList value blob; MemberOffset/Count
// index into the file's shared member-record pool, which a struct or
// union's own Members may recurse into.
type symbolRecord struct {
	ID           uint32
	Type         uint32
	Ctype        int32
	Kind         uint16
	Visibility   uint16
	Size         int32
	NElems       int32
	Posn         int32
	HasAddress   bool
	InitOffset   uint32
	InitCount    uint32
	MemberOffset uint32
	MemberCount  uint32
	Name         string
}

func (rec symbolRecord) marshal() [symRecordSize]byte {
	var buf [symRecordSize]byte
	binary.LittleEndian.PutUint32(buf[0:], rec.ID)
	binary.LittleEndian.PutUint32(buf[4:], rec.Type)
	binary.LittleEndian.PutUint32(buf[8:], uint32(rec.Ctype))
	binary.LittleEndian.PutUint16(buf[12:], rec.Kind)
	binary.LittleEndian.PutUint16(buf[14:], rec.Visibility)
	binary.LittleEndian.PutUint32(buf[16:], uint32(rec.Size))
	binary.LittleEndian.PutUint32(buf[20:], uint32(rec.NElems))
	binary.LittleEndian.PutUint32(buf[24:], uint32(rec.Posn))
	if rec.HasAddress {
		buf[28] = 1
	}
	binary.LittleEndian.PutUint32(buf[32:], rec.InitOffset)
	binary.LittleEndian.PutUint32(buf[36:], rec.InitCount)
	binary.LittleEndian.PutUint32(buf[40:], rec.MemberOffset)
	binary.LittleEndian.PutUint32(buf[44:], rec.MemberCount)
	nameBytes := []byte(rec.Name)
	if len(nameBytes) > symNameCap {
		nameBytes = nameBytes[:symNameCap]
	}
	copy(buf[48:], nameBytes)
	return buf
}

func unmarshalSymRecord(buf [symRecordSize]byte) symbolRecord {
	end := 48
	for end < symRecordSize && buf[end] != 0 {
		end++
	}
	return symbolRecord{
		ID:           binary.LittleEndian.Uint32(buf[0:]),
		Type:         binary.LittleEndian.Uint32(buf[4:]),
		Ctype:        int32(binary.LittleEndian.Uint32(buf[8:])),
		Kind:         binary.LittleEndian.Uint16(buf[12:]),
		Visibility:   binary.LittleEndian.Uint16(buf[14:]),
		Size:         int32(binary.LittleEndian.Uint32(buf[16:])),
		NElems:       int32(binary.LittleEndian.Uint32(buf[20:])),
		Posn:         int32(binary.LittleEndian.Uint32(buf[24:])),
		HasAddress:   buf[28] != 0,
		InitOffset:   binary.LittleEndian.Uint32(buf[32:]),
		InitCount:    binary.LittleEndian.Uint32(buf[36:]),
		MemberOffset: binary.LittleEndian.Uint32(buf[40:]),
		MemberCount:  binary.LittleEndian.Uint32(buf[44:]),
		Name:         string(buf[48:end]),
	}
}

func buildSymRecord(s *symtab.Symbol, members *[]*symtab.Symbol, inits *[]int64) symbolRecord {
	rec := symbolRecord{
		ID: uint32(s.ID), Type: uint32(s.Type), Ctype: int32(s.Ctype),
		Kind: uint16(s.Kind), Visibility: uint16(s.Visibility),
		Size: int32(s.Size), NElems: int32(s.NElems), Posn: int32(s.Posn),
		HasAddress: s.HasAddress, Name: s.Name,
	}
	if len(s.InitList) > 0 {
		rec.InitOffset = uint32(len(*inits))
		rec.InitCount = uint32(len(s.InitList))
		*inits = append(*inits, s.InitList...)
	}
	if len(s.Members) > 0 {
		rec.MemberOffset = uint32(len(*members))
		rec.MemberCount = uint32(len(s.Members))
		*members = append(*members, s.Members...)
	}
	return rec
}

// WriteSymbols writes the symbol table's global slab as fixed-size
// binary records, with InitList and Members values spilled into
// trailing blobs the records index into (the same record-plus-index
// shape WriteAST uses for nodes), so the generator's second pass sees
// every field a global or its struct/union members carry.
func WriteSymbols(w io.Writer, tbl *symtab.Table) error {
	bw := bufio.NewWriter(w)

	var members []*symtab.Symbol
	var inits []int64
	globalRecs := make([]symbolRecord, len(tbl.Globals()))
	for i, s := range tbl.Globals() {
		globalRecs[i] = buildSymRecord(s, &members, &inits)
	}
	memberRecs := make([]symbolRecord, 0, len(members))
	for i := 0; i < len(members); i++ {
		memberRecs = append(memberRecs, buildSymRecord(members[i], &members, &inits))
	}

	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:], uint32(len(globalRecs)))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(memberRecs)))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(inits)))
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	for _, rec := range globalRecs {
		buf := rec.marshal()
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	for _, rec := range memberRecs {
		buf := rec.marshal()
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	for _, v := range inits {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		if _, err := bw.Write(b[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSymbols parses the format written by WriteSymbols back into a
// fresh Table populated only with global symbols (locals do not
// survive past their own function and are never written here).
func ReadSymbols(r io.Reader) (*symtab.Table, error) {
	br := bufio.NewReader(r)

	var header [12]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		if err == io.EOF {
			return symtab.New(), nil
		}
		return nil, err
	}
	globalCount := binary.LittleEndian.Uint32(header[0:])
	memberCount := binary.LittleEndian.Uint32(header[4:])
	initCount := binary.LittleEndian.Uint32(header[8:])

	globalRecs := make([]symbolRecord, globalCount)
	for i := range globalRecs {
		var buf [symRecordSize]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, err
		}
		globalRecs[i] = unmarshalSymRecord(buf)
	}
	memberRecs := make([]symbolRecord, memberCount)
	for i := range memberRecs {
		var buf [symRecordSize]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, err
		}
		memberRecs[i] = unmarshalSymRecord(buf)
	}
	inits := make([]int64, initCount)
	for i := range inits {
		var buf [8]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, err
		}
		inits[i] = int64(binary.LittleEndian.Uint64(buf[:]))
	}

	builtMembers := make([]*symtab.Symbol, len(memberRecs))
	var resolveMember func(i int) *symtab.Symbol
	resolveMember = func(i int) *symtab.Symbol {
		if builtMembers[i] != nil {
			return builtMembers[i]
		}
		s := symbolFromRecord(memberRecs[i], inits)
		builtMembers[i] = s
		if memberRecs[i].MemberCount > 0 {
			s.Members = make([]*symtab.Symbol, memberRecs[i].MemberCount)
			for k := uint32(0); k < memberRecs[i].MemberCount; k++ {
				s.Members[k] = resolveMember(int(memberRecs[i].MemberOffset + k))
			}
		}
		return s
	}

	tbl := symtab.New()
	for _, rec := range globalRecs {
		s := symbolFromRecord(rec, inits)
		if rec.MemberCount > 0 {
			s.Members = make([]*symtab.Symbol, rec.MemberCount)
			for k := uint32(0); k < rec.MemberCount; k++ {
				s.Members[k] = resolveMember(int(rec.MemberOffset + k))
			}
		}
		tbl.RestoreGlobal(s)
	}
	return tbl, nil
}

func symbolFromRecord(rec symbolRecord, inits []int64) *symtab.Symbol {
	s := &symtab.Symbol{
		ID:         int(rec.ID),
		Name:       rec.Name,
		Type:       types.PrimType(rec.Type),
		Ctype:      int(rec.Ctype),
		Kind:       symtab.StructuralKind(rec.Kind),
		Visibility: symtab.Visibility(rec.Visibility),
		Size:       int(rec.Size),
		NElems:     int(rec.NElems),
		Posn:       int(rec.Posn),
		HasAddress: rec.HasAddress,
	}
	if rec.InitCount > 0 {
		s.InitList = append([]int64(nil), inits[rec.InitOffset:rec.InitOffset+rec.InitCount]...)
	}
	return s
}

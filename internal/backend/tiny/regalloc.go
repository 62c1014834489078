// Package tiny implements Backend B: an 8/16-bit target with a small
// fixed register file and spill-to-stack when it runs out, following
// the reference compiler's register allocator almost file-for-file
// (same R4-R6 preference order, same "always spill R6" policy when
// every register is busy).
package tiny

import "fmt"

// NumRegs is the size of the physical register file available to the
// allocator; R0-R3 are reserved (link/arg0-return/arg1/arg2, matching
// the calling convention), R4-R6 are the allocatable pool, R7 is SP.
const NumRegs = 8

// RegAllocator hands out physical registers to virtual values,
// spilling to a per-function stack slot when the pool is exhausted.
// It mirrors the teacher's RegAllocator: the first free register in the
// fixed order R4, R5, R6, and when none are free, it always spills whatever currently
// holds R6 and retries rather than picking a victim by any fancier
// heuristic.
type RegAllocator struct {
	virtToPhys map[string]int
	regInUse   [NumRegs]bool
	regVirt    [NumRegs]string
	spillSlots map[string]int
	nextSpill  int
	frameSize  int
}

func NewRegAllocator() *RegAllocator {
	return &RegAllocator{
		virtToPhys: make(map[string]int),
		spillSlots: make(map[string]int),
	}
}

// preferredOrder is R4, R5, R6: the three callee-saved temporaries
// free for the allocator's use within a function body.
var preferredOrder = [3]int{4, 5, 6}

// Allocate assigns virt a physical register, spilling an existing
// occupant if necessary, and returns the chosen register number.
func (a *RegAllocator) Allocate(virt string) int {
	for _, r := range preferredOrder {
		if !a.regInUse[r] {
			a.regInUse[r] = true
			a.regVirt[r] = virt
			a.virtToPhys[virt] = r
			return r
		}
	}
	return a.spillAndAllocate(virt)
}

// spillAndAllocate always evicts whatever currently occupies R6: the
// teacher's allocator does not try to pick the "best" victim, since
// on an 8/16-bit target with this few registers any choice spills
// about as often as any other, and a fixed choice keeps the frame
// layout predictable across runs.
func (a *RegAllocator) spillAndAllocate(virt string) int {
	const victim = 6
	if occupant := a.regVirt[victim]; occupant != "" {
		a.spillSlots[occupant] = a.allocSpillSlot()
		delete(a.virtToPhys, occupant)
	}
	a.regInUse[victim] = true
	a.regVirt[victim] = virt
	a.virtToPhys[virt] = victim
	return victim
}

func (a *RegAllocator) allocSpillSlot() int {
	slot := a.nextSpill
	a.nextSpill += 2 // word-sized slots
	if a.nextSpill > a.frameSize {
		a.frameSize = a.nextSpill
	}
	return slot
}

func (a *RegAllocator) Free(virt string) {
	if r, ok := a.virtToPhys[virt]; ok {
		a.regInUse[r] = false
		a.regVirt[r] = ""
		delete(a.virtToPhys, virt)
	}
}

func (a *RegAllocator) GetPhys(virt string) (int, bool) {
	r, ok := a.virtToPhys[virt]
	return r, ok
}

func (a *RegAllocator) IsSpilled(virt string) bool {
	_, ok := a.spillSlots[virt]
	return ok
}

func (a *RegAllocator) GetSpillSlot(virt string) int { return a.spillSlots[virt] }

func (a *RegAllocator) GetTotalFrameSize() int { return a.frameSize }

func (a *RegAllocator) Reset() {
	*a = *NewRegAllocator()
}

func regName(r int) string {
	if r < 0 || r >= NumRegs {
		return fmt.Sprintf("?r%d", r)
	}
	return [...]string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "sp"}[r]
}

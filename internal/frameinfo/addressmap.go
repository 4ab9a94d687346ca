// Package frameinfo reconstructs WebAssembly-level backtraces from raw host
// program counters observed during a trap or a stack walk, without parsing
// DWARF or consulting the OS loader.
package frameinfo

import "sort"

// InstructionMap is one entry in an AddressMap: it covers the half-open
// native-code range [CodeOffset, CodeOffset+CodeLen) within a function's
// compiled body, and records the byte offset of the corresponding
// instruction in the original module.
type InstructionMap struct {
	// CodeOffset is the byte offset of this instruction from the start of
	// the function's compiled body.
	CodeOffset uint32
	// CodeLen is the length in bytes of the compiled instruction(s) this
	// entry covers.
	CodeLen uint32
	// Src is the byte offset of this instruction in the original module.
	Src uint32
}

// AddressMap maps native-code offsets inside one compiled function to byte
// offsets in the original module. Instructions is sorted ascending by
// CodeOffset and its entries are mutually non-overlapping; StartSrc is the
// module byte offset where the function itself begins.
type AddressMap struct {
	StartSrc     uint32
	Instructions []InstructionMap
}

// Lookup finds the original-module source offset for relPC, a byte offset
// relative to the start of the function's compiled body. It implements the
// binary-search-minus-one algorithm: trap handlers sometimes report a pc
// biased by one byte into the faulting instruction (landing just past a
// call), so a miss at the binary search's insertion point falls back to
// checking whether the preceding entry's range covers relPC.
//
// ok reports whether an instruction entry covers relPC, either by an exact
// CodeOffset match or by falling inside the preceding entry's range; when it
// is false, src is still valid (the function's start offset) so callers
// always get a usable, if less precise, frame.
func (m *AddressMap) Lookup(relPC uint32) (src uint32, ok bool) {
	instructions := m.Instructions
	n := sort.Search(len(instructions), func(i int) bool {
		return instructions[i].CodeOffset >= relPC
	})

	if n < len(instructions) && instructions[n].CodeOffset == relPC {
		return instructions[n].Src, true
	}

	if n == 0 {
		return m.StartSrc, false
	}

	prev := instructions[n-1]
	if prev.CodeOffset <= relPC && relPC < prev.CodeOffset+prev.CodeLen {
		return prev.Src, true
	}
	return m.StartSrc, false
}

// validate checks the sortedness and non-overlap invariant spec.md §3
// requires of Instructions. It is only run when constructing a FunctionDebug
// from a serialised blob or directly from compiler output, never on the
// trap-handling lookup path.
func (m *AddressMap) validate() error {
	for i := 1; i < len(m.Instructions); i++ {
		prev, cur := m.Instructions[i-1], m.Instructions[i]
		if prev.CodeOffset+prev.CodeLen > cur.CodeOffset {
			return errInvalidAddressMap
		}
	}
	return nil
}

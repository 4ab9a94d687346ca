package frameinfo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTrapModule registers a 4-function module at base with one trapping
// instruction each, mirroring the module described in spec.md §8's
// end-to-end scenario: functions die(0), <unnamed>(1), foo(2), <unnamed>(3),
// with single-instruction bodies whose source offsets are
// 0x23, 0x27, 0x2c, 0x31 respectively, and an unreachable trap recorded at
// die's offset.
func buildTrapModule(t *testing.T, r *Registry, name string, base uintptr) (*Registration, *fakeModuleMetadata) {
	t.Helper()
	meta := &fakeModuleMetadata{name: name, functionNames: map[uint32]string{0: "die", 2: "foo"}}
	srcOffsets := []uint32{0x23, 0x27, 0x2c, 0x31}
	bodies := make([]FunctionBody, 4)
	debug := make([]FunctionDebug, 4)
	for i := 0; i < 4; i++ {
		start := base + uintptr(i*4)
		bodies[i] = FunctionBody{LocalIndex: uint32(i), Ptr: start, Len: 4}
		addressMap := AddressMap{
			StartSrc:     srcOffsets[i],
			Instructions: []InstructionMap{{CodeOffset: 0, CodeLen: 4, Src: srcOffsets[i]}},
		}
		var trapPoints TrapPoints
		if i == 0 {
			trapPoints = TrapPoints{Entries: []TrapPointEntry{{CodeOffset: 0, Kind: TrapKindUnreachable}}}
		}
		debug[i] = NewDecodedFunctionDebug(addressMap, trapPoints)
	}
	reg, ok := r.Register(meta, bodies, debug)
	require.True(t, ok)
	return reg, meta
}

func TestAssemble_UnreachableTrap(t *testing.T) {
	r := newTestRegistry()
	_, _ = buildTrapModule(t, r, "m", 100000)

	diePC := uintptr(100000)
	unnamedPC := uintptr(100004)
	fooPC := uintptr(100008)
	unnamed2PC := uintptr(100012)

	bt := Assemble(r, []uintptr{diePC, unnamedPC, fooPC, unnamed2PC}, diePC)

	require.Len(t, bt.Frames, 4)
	wantOffsets := []uint32{0x23, 0x27, 0x2c, 0x31}
	wantNames := []string{"die", "", "foo", ""}
	for i, f := range bt.Frames {
		require.Equal(t, wantOffsets[i], f.ModuleOffset())
		name, hasName := f.FunctionName()
		if wantNames[i] == "" {
			require.False(t, hasName)
		} else {
			require.True(t, hasName)
			require.Equal(t, wantNames[i], name)
		}
	}
	require.Equal(t, TrapKindUnreachable, bt.TrapKind)
}

func TestAssemble_StackOverflow(t *testing.T) {
	r := newTestRegistry()
	meta := &fakeModuleMetadata{name: "rec_mod", functionNames: map[uint32]string{0: "run"}}
	bodies := []FunctionBody{{LocalIndex: 0, Ptr: 200000, Len: 4}}
	debug := []FunctionDebug{NewDecodedFunctionDebug(
		AddressMap{StartSrc: 0x10, Instructions: []InstructionMap{{CodeOffset: 0, CodeLen: 4, Src: 0x10}}},
		TrapPoints{Entries: []TrapPointEntry{{CodeOffset: 0, Kind: TrapKindStackOverflow}}},
	)}
	_, ok := r.Register(meta, bodies, debug)
	require.True(t, ok)

	pcs := make([]uintptr, 40)
	for i := range pcs {
		pcs[i] = 200000
	}

	bt := Assemble(r, pcs, 200000)
	require.GreaterOrEqual(t, len(bt.Frames), 32)
	for _, f := range bt.Frames {
		require.Equal(t, "rec_mod", f.ModuleName())
		name, ok := f.FunctionName()
		require.True(t, ok)
		require.Equal(t, "run", name)
	}
	require.Equal(t, TrapKindStackOverflow, bt.TrapKind)
}

func TestAssemble_MultiModuleTrace(t *testing.T) {
	r := newTestRegistry()
	_, _ = buildTrapModule(t, r, "a", 300000)
	metaB := &fakeModuleMetadata{name: "b", functionNames: map[uint32]string{0: "middle"}}
	bodiesB := []FunctionBody{
		{LocalIndex: 0, Ptr: 400000, Len: 4},
		{LocalIndex: 1, Ptr: 400004, Len: 4},
	}
	debugB := []FunctionDebug{
		NewDecodedFunctionDebug(AddressMap{StartSrc: 0x40, Instructions: []InstructionMap{{CodeOffset: 0, CodeLen: 4, Src: 0x40}}}, TrapPoints{}),
		NewDecodedFunctionDebug(AddressMap{StartSrc: 0x44, Instructions: []InstructionMap{{CodeOffset: 0, CodeLen: 4, Src: 0x44}}}, TrapPoints{}),
	}
	_, ok := r.Register(metaB, bodiesB, debugB)
	require.True(t, ok)

	pcs := []uintptr{300000, 300004, 300008, 300012, 400000, 400004}
	bt := Assemble(r, pcs, 300000)

	require.Len(t, bt.Frames, 6)
	wantModules := []string{"a", "a", "a", "a", "b", "b"}
	for i, f := range bt.Frames {
		require.Equal(t, wantModules[i], f.ModuleName())
	}
}

func TestAssemble_DropsHostFrames(t *testing.T) {
	r := newTestRegistry()
	_, _ = buildTrapModule(t, r, "m", 500000)

	bt := Assemble(r, []uintptr{500000, 0xdeadbeef, 500004}, 500000)
	require.Len(t, bt.Frames, 2)
}

func TestAssemble_LazyDecode(t *testing.T) {
	r := newTestRegistry()
	meta := &fakeModuleMetadata{name: "m", functionNames: map[uint32]string{}}
	blob := EncodeDebug(
		AddressMap{StartSrc: 0x99, Instructions: []InstructionMap{{CodeOffset: 0, CodeLen: 4, Src: 0x99}}},
		TrapPoints{},
	)
	bodies := []FunctionBody{{LocalIndex: 0, Ptr: 600000, Len: 4}}
	debug := []FunctionDebug{NewSerialisedFunctionDebug(blob)}
	_, ok := r.Register(meta, bodies, debug)
	require.True(t, ok)

	bt := Assemble(r, []uintptr{600000}, 600000)
	require.Len(t, bt.Frames, 1)
	require.Equal(t, uint32(0x99), bt.Frames[0].ModuleOffset())
}

func TestBacktrace_String(t *testing.T) {
	r := newTestRegistry()
	_, _ = buildTrapModule(t, r, "m", 700000)
	bt := Assemble(r, []uintptr{700000}, 700000)
	s := bt.String()
	require.True(t, strings.HasPrefix(s, "wasm stack trace:"))
	require.Contains(t, s, "die (m[0]:0x23)")
}

func TestBacktrace_String_Empty(t *testing.T) {
	bt := Backtrace{}
	require.Equal(t, "wasm stack trace:\n\t<empty>", bt.String())
}

package frameinfo

import "sort"

// ModuleMetadata is the module-identity collaborator the surrounding
// compiler/engine provides at registration time (spec.md §6: "a sharable
// handle to module metadata"). The registry never mutates it and holds it
// only by reference; the surrounding runtime is free to retain its own
// handle to the same value for the module's lifetime.
type ModuleMetadata interface {
	// Name returns the module's identifier from its name section, or "" if
	// none was present or decoded.
	Name() string
	// FunctionName returns the name of the function at the given
	// module-wide function index, and whether one was recorded.
	FunctionName(funcIndex uint32) (string, bool)
	// Promote maps a local-function index (dense, zero-based, locally
	// defined functions only) to the module-wide function index, which is
	// offset by the count of imported functions preceding it in the
	// function index space.
	Promote(localIndex uint32) uint32
}

// FunctionInfo is per-local-function bookkeeping kept alongside the
// function's compiled code. It lives in ModuleFrameInfo's end-address map.
type FunctionInfo struct {
	// Start is the host address where this function's compiled body begins.
	Start uintptr
	// LocalIndex is the function's index among this module's locally
	// defined functions (not imports), dense from zero.
	LocalIndex uint32
}

// FunctionBody describes where one local function's compiled machine code
// lives, as supplied by the engine at Register time.
type FunctionBody struct {
	LocalIndex uint32
	Ptr        uintptr
	Len        uintptr
}

// moduleFrameInfo holds everything the registry needs to symbolicate a pc
// that falls within one registered module: its host-address span, a map
// from each function's end address to its FunctionInfo, the module's
// shared metadata, and the lazily-decoded debug cell per local function.
//
// The registry owns every moduleFrameInfo exclusively; ModuleMetadata is the
// only field shared with an external holder (spec.md "Ownership").
type moduleFrameInfo struct {
	low, high uintptr

	// endAddrs and functions are index-correlated and both sorted
	// ascending by endAddrs[i], mirroring the registry's own sorted-slice
	// range map (see registry.go).
	endAddrs  []uintptr
	functions []FunctionInfo

	metadata ModuleMetadata
	debug    []FunctionDebug // indexed by local-function index
}

// functionAt finds the FunctionInfo whose body contains pc. Each body covers
// the half-open range [Start, end), so a pc equal to one function's end
// address belongs to the function that starts there; the last function also
// covers its own end address, which is the module's high bound.
func (m *moduleFrameInfo) functionAt(pc uintptr) (*FunctionInfo, bool) {
	if len(m.endAddrs) == 0 {
		return nil, false
	}
	n := sort.Search(len(m.endAddrs), func(i int) bool {
		return m.endAddrs[i] > pc
	})
	if n == len(m.endAddrs) {
		n--
	}
	fn := &m.functions[n]
	if pc < fn.Start || pc > m.endAddrs[n] {
		return nil, false
	}
	return fn, true
}

// buildModuleFrameInfo sorts bodies by end address and builds the
// end-address map, enforcing spec.md §3 "Map shape": exactly one entry per
// local function, and checking function containment within [low, high]
// when debugAssertions is enabled.
func buildModuleFrameInfo(metadata ModuleMetadata, bodies []FunctionBody, debug []FunctionDebug) *moduleFrameInfo {
	if len(bodies) == 0 {
		return nil
	}
	if len(debug) != len(bodies) {
		invariantViolation("debug cell count %d does not match function body count %d", len(debug), len(bodies))
	}

	type entry struct {
		end uintptr
		fn  FunctionInfo
	}
	entries := make([]entry, len(bodies))
	low := ^uintptr(0)
	var high uintptr
	seen := make(map[uint32]bool, len(bodies))
	for i, b := range bodies {
		if seen[b.LocalIndex] {
			invariantViolation("duplicate local function index %d in registration", b.LocalIndex)
		}
		seen[b.LocalIndex] = true
		if b.LocalIndex >= uint32(len(bodies)) {
			invariantViolation("local function index %d out of range for %d functions", b.LocalIndex, len(bodies))
		}

		end := b.Ptr + b.Len
		entries[i] = entry{end: end, fn: FunctionInfo{Start: b.Ptr, LocalIndex: b.LocalIndex}}
		if b.Ptr < low {
			low = b.Ptr
		}
		if end > high {
			high = end
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].end < entries[j].end })

	endAddrs := make([]uintptr, len(entries))
	functions := make([]FunctionInfo, len(entries))
	for i, e := range entries {
		endAddrs[i] = e.end
		functions[i] = e.fn
		if debugAssertions && (e.fn.Start < low || e.end > high) {
			invariantViolation("function at [%#x, %#x) is not contained in module range [%#x, %#x)", e.fn.Start, e.end, low, high)
		}
	}

	return &moduleFrameInfo{
		low: low, high: high,
		endAddrs: endAddrs, functions: functions,
		metadata: metadata, debug: debug,
	}
}

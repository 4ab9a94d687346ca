package frameinfo

import (
	"sort"
	"sync"
)

// Registry is a process-wide, read-mostly structure ordering registered
// modules' frame information by the highest host address each occupies. It
// supports address-to-module, address-to-function, address-to-source, and
// address-to-trap-kind lookup, and enforces non-overlap of module ranges
// (spec.md §4.1).
//
// A single readers-writer lease protects it (spec.md §5). Readers are every
// lookup and NeedsDecode; writers are Register, EnsureDecoded, and
// deregistration via Registration.Close.
type Registry struct {
	mu sync.RWMutex

	// modules is kept sorted ascending by modules[i].high, mirroring
	// internal/engine/wazevo's sortedCompiledModules: a plain sorted slice
	// searched with sort.Search stands in for the "ordered map keyed by
	// upper bound" spec.md §9 asks for, since Go's standard library has no
	// balanced tree and spec.md permits any ordered-map implementation.
	modules []*moduleFrameInfo

	// degraded reproduces the *observable* effect of a poisoned lease
	// (spec.md §5/§7): once set, by a panic recovered mid-write, lookups
	// behave as "registry unavailable" and deregistration silently
	// no-ops. Go's sync.RWMutex has no poisoning of its own, so this flag
	// is how frameinfo emulates it.
	degraded bool
}

var (
	globalOnce     sync.Once
	globalRegistry *Registry
)

// Global returns the process-wide Registry singleton, constructing it on
// first use (spec.md §9: "a single module-scoped singleton with lazy
// initialisation").
func Global() *Registry {
	globalOnce.Do(func() { globalRegistry = &Registry{} })
	return globalRegistry
}

// Registration is a scoped resource returned by Register. Calling Close
// deregisters the module; it is the sole deregistration path (spec.md §3
// "Ownership"). Close is safe to call from panic-unwinding cleanup and is
// idempotent.
type Registration struct {
	registry *Registry
	high     uintptr
	closed   bool
}

// Close deregisters the module this Registration was returned for. It must
// run on every exit path of the scope that registered the module, including
// panics (spec.md §9 "RAII-style scoped release"); Go has no destructors, so
// callers are expected to `defer reg.Close()` immediately after a successful
// Register.
func (r *Registration) Close() {
	if r == nil || r.closed {
		return
	}
	r.closed = true

	reg := r.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.degraded {
		// Poisoned: skip removal rather than risk compounding the failure
		// (spec.md §5 "Deregistration must be robust to this").
		return
	}
	reg.removeLocked(r.high)
}

// Register records a newly compiled module's frame information. bodies
// gives the host code pointer and length of every locally defined function,
// indexed densely by local-function index; debug is the parallel slice of
// initial FunctionDebug cells. If bodies is empty, Register returns
// (nil, false): there is nothing to register and no handle to release
// (spec.md §4.1).
//
// Register fails fatally (panics) if the module's address range would
// overlap an already-registered module: that is a compiler/engine bug, not
// a condition callers can recover from (spec.md §4.1, §7).
func (r *Registry) Register(metadata ModuleMetadata, bodies []FunctionBody, debug []FunctionDebug) (*Registration, bool) {
	mfi := buildModuleFrameInfo(metadata, bodies, debug)
	if mfi == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.degraded {
		invariantViolation("registry is degraded after a prior panic; refusing further registration")
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.degraded = true
			panic(rec)
		}
	}()

	r.checkNonOverlapLocked(mfi.low, mfi.high)

	index := sort.Search(len(r.modules), func(i int) bool { return r.modules[i].high >= mfi.high })
	r.modules = append(r.modules, nil)
	copy(r.modules[index+1:], r.modules[index:])
	r.modules[index] = mfi

	return &Registration{registry: r, high: mfi.high}, true
}

// checkNonOverlapLocked implements spec.md §4.1's "Non-overlap check on
// insert". original_source/lib/engine/src/trap/frame_info.rs's register()
// only asserts against the immediate left/right BTreeMap neighbors of the
// new range's min/max keys; that catches adjacent-or-reused placement but
// misses a new range that nests around an existing module's high-water key
// (e.g. an existing [100, 200) against an incoming [150, 250)), a case
// spec.md calls out by name as one that must still abort. So this check
// instead finds the single module that could possibly overlap — the first,
// by ascending high, with high >= lo — and tests it directly for interval
// overlap. Because every module already registered is pairwise
// non-overlapping (the invariant this function itself maintains), any
// module before that candidate in sorted order has high < lo and so cannot
// overlap either; one O(log n) probe is sufficient.
func (r *Registry) checkNonOverlapLocked(lo, hi uintptr) {
	idx := sort.Search(len(r.modules), func(i int) bool { return r.modules[i].high >= lo })
	if idx == len(r.modules) {
		return
	}
	candidate := r.modules[idx]
	if lo <= candidate.high && candidate.low <= hi {
		invariantViolation("module range [%#x, %#x] overlaps already-registered module [%#x, %#x]", lo, hi, candidate.low, candidate.high)
	}
}

func (r *Registry) removeLocked(high uintptr) {
	index := sort.Search(len(r.modules), func(i int) bool { return r.modules[i].high >= high })
	if index >= len(r.modules) || r.modules[index].high != high {
		return
	}
	copy(r.modules[index:], r.modules[index+1:])
	r.modules[len(r.modules)-1] = nil
	r.modules = r.modules[:len(r.modules)-1]
}

// moduleAt finds the registered module containing pc using spec.md §4.1's
// range lookup algorithm: the first entry whose key (high) is >= pc is the
// only candidate, since the non-overlap invariant guarantees no
// lower-keyed module could also contain pc.
func (r *Registry) moduleAt(pc uintptr) (*moduleFrameInfo, bool) {
	n := sort.Search(len(r.modules), func(i int) bool { return r.modules[i].high >= pc })
	if n == len(r.modules) {
		return nil, false
	}
	m := r.modules[n]
	if pc < m.low || pc > m.high {
		return nil, false
	}
	return m, true
}

// LookupFrame returns the frame descriptor for pc, or (zero, false) if pc
// falls in no registered module, outside every function body within its
// module, or the registry is degraded (spec.md §4.1, §7).
func (r *Registry) LookupFrame(pc uintptr) (FrameDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.degraded {
		return FrameDescriptor{}, false
	}

	module, ok := r.moduleAt(pc)
	if !ok {
		return FrameDescriptor{}, false
	}
	fn, ok := module.functionAt(pc)
	if !ok {
		return FrameDescriptor{}, false
	}

	debug := &module.debug[fn.LocalIndex]
	if !debug.isDecoded() {
		// The caller did not escalate to EnsureDecoded first; return a
		// frame that names the function but carries zero source offsets
		// (the start offset lives in the undecoded blob) rather than
		// dereferencing an undecoded blob (spec.md §4.2 "readers must not
		// dereference it").
		funcIndex := module.metadata.Promote(fn.LocalIndex)
		name, hasName := module.metadata.FunctionName(funcIndex)
		return FrameDescriptor{
			moduleName: module.metadata.Name(), funcIndex: funcIndex,
			functionName: name, hasName: hasName,
		}, true
	}

	relPC := uint32(pc - fn.Start)
	src, _ := debug.addressMap.Lookup(relPC)
	funcIndex := module.metadata.Promote(fn.LocalIndex)
	name, hasName := module.metadata.FunctionName(funcIndex)
	return FrameDescriptor{
		moduleName: module.metadata.Name(),
		funcIndex:  funcIndex,
		functionName: name, hasName: hasName,
		funcStartSrc: debug.addressMap.StartSrc,
		instrSrc:     src,
	}, true
}

// LookupTrapKind returns the trap kind recorded at pc, or (TrapKindUnknown,
// false) if pc does not correspond to a compiler-declared trap site, falls
// outside every registered module/function, or the registry is degraded
// (spec.md §4.5).
func (r *Registry) LookupTrapKind(pc uintptr) (TrapKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.degraded {
		return TrapKindUnknown, false
	}

	module, ok := r.moduleAt(pc)
	if !ok {
		return TrapKindUnknown, false
	}
	fn, ok := module.functionAt(pc)
	if !ok {
		return TrapKindUnknown, false
	}
	debug := &module.debug[fn.LocalIndex]
	if !debug.isDecoded() {
		return TrapKindUnknown, false
	}
	return debug.trapPoints.Lookup(uint32(pc - fn.Start))
}

// NeedsDecode reports whether the function debug cell containing pc is
// still Serialised, or (false, false) if pc matches no registered module or
// function. It is a cheap read-only probe meant to run before acquiring a
// write lease to call EnsureDecoded (spec.md §4.1).
func (r *Registry) NeedsDecode(pc uintptr) (bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.degraded {
		return false, false
	}

	module, ok := r.moduleAt(pc)
	if !ok {
		return false, false
	}
	fn, ok := module.functionAt(pc)
	if !ok {
		return false, false
	}
	return !module.debug[fn.LocalIndex].isDecoded(), true
}

// EnsureDecoded transitions the function debug cell containing pc to
// Decoded if it is not already, under the write lease. It is idempotent and
// returns false if pc matches no registered module or function, or if the
// registry is degraded (spec.md §4.1, §4.2).
func (r *Registry) EnsureDecoded(pc uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.degraded {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.degraded = true
			panic(rec)
		}
	}()

	module, ok := r.moduleAt(pc)
	if !ok {
		return false
	}
	fn, ok := module.functionAt(pc)
	if !ok {
		return false
	}
	module.debug[fn.LocalIndex].decode()
	return true
}

// ModuleCount returns the number of currently registered modules. It is a
// diagnostics aid, not named in spec.md, mirroring
// internal/engine/wazevo.engine.CompiledModuleCount.
func (r *Registry) ModuleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

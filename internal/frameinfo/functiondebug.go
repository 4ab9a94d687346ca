package frameinfo

// FunctionDebug is a two-state cell: it either holds an opaque serialised
// blob or a decoded (AddressMap, TrapPoints) pair. The transition from
// serialised to decoded is one-way (spec.md §3 "Decode monotonicity") and
// happens under the registry's write lease, never concurrently with a read
// of addressMap/trapPoints.
//
// This is deliberately a flag plus both payload fields rather than an
// interface with two implementations: spec.md §9 asks for a tagged union,
// not virtual dispatch. The transition fills addressMap and trapPoints,
// drops blob, and sets decoded = true, all under the write lease.
type FunctionDebug struct {
	decoded bool
	blob    []byte

	addressMap AddressMap
	trapPoints TrapPoints
}

// NewSerialisedFunctionDebug constructs a cell in the Serialised state. blob
// is opaque to every read path until EnsureDecoded runs; callers must not
// interpret it directly.
func NewSerialisedFunctionDebug(blob []byte) FunctionDebug {
	return FunctionDebug{blob: blob}
}

// NewDecodedFunctionDebug constructs a cell already in the Decoded state,
// for compilers that produce address maps and trap points directly instead
// of through a serialised intermediate form. It panics if either table is
// not strictly ascending and non-overlapping.
func NewDecodedFunctionDebug(addressMap AddressMap, trapPoints TrapPoints) FunctionDebug {
	if err := addressMap.validate(); err != nil {
		invariantViolation("%v", err)
	}
	if err := trapPoints.validate(); err != nil {
		invariantViolation("%v", err)
	}
	return FunctionDebug{decoded: true, addressMap: addressMap, trapPoints: trapPoints}
}

// isDecoded reports whether the cell is already in the Decoded state.
func (f *FunctionDebug) isDecoded() bool {
	return f.decoded
}

// decode transitions the cell to Decoded if it is not already there. It is
// idempotent and must only be called while holding the registry's write
// lease. A malformed blob is a compiler bug, not a user error, so decode
// panics rather than returning an error (spec.md §7).
func (f *FunctionDebug) decode() {
	if f.decoded {
		return
	}
	addressMap, trapPoints, err := DecodeDebug(f.blob)
	if err != nil {
		invariantViolation("corrupt function debug blob: %v", err)
	}
	if err := addressMap.validate(); err != nil {
		invariantViolation("%v", err)
	}
	if err := trapPoints.validate(); err != nil {
		invariantViolation("%v", err)
	}
	f.addressMap = addressMap
	f.trapPoints = trapPoints
	f.blob = nil
	f.decoded = true
}

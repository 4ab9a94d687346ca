package frameinfo

import (
	"errors"
	"fmt"
)

// debugAssertions gates the function-containment check (spec.md §7:
// "Invariant checks are mandatory in debug builds, elidable in release
// builds except for the registration non-overlap check, which is always
// enforced"). The non-overlap check itself is never gated by this flag.
var debugAssertions = true

var (
	errInvalidAddressMap = errors.New("frameinfo: address map entries are not strictly ascending and non-overlapping")
	errInvalidTrapPoints = errors.New("frameinfo: trap point entries are not strictly ascending")
)

// invariantViolation panics with a descriptive message. Registration
// non-overlap, malformed side tables, and missing local-function indices
// are bugs in the surrounding compiler/engine, not user errors: spec.md §7
// specifies these abort rather than propagate as an error value.
func invariantViolation(format string, args ...interface{}) {
	panic(fmt.Sprintf("frameinfo: invariant violation: "+format, args...))
}

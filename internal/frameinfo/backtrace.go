package frameinfo

import (
	"fmt"
	"strings"
)

// Backtrace is the result of symbolicating a raw stack walk captured at
// trap time: a sequence of frame descriptors, innermost first, and
// optionally the trap kind at the originating program counter (spec.md
// §4.6). It is the only entry point that writes to the Registry, to drive
// lazy decode of functions seen for the first time.
type Backtrace struct {
	Frames []FrameDescriptor
	// TrapKind is the classification of pc0, or TrapKindUnknown if pc0 did
	// not correspond to a compiler-declared trap site.
	TrapKind TrapKind
}

// Assemble builds a Backtrace from pcs, an ordered sequence of raw program
// counters captured at trap time (innermost-to-outermost), and pc0, the
// program counter where the trap originated. Frames belonging to no
// registered module (host frames) are dropped, never surfaced (spec.md
// §4.6 step 2).
//
// Assemble is the only caller in this package allowed to call
// Registry.EnsureDecoded: every other lookup is read-only.
func Assemble(reg *Registry, pcs []uintptr, pc0 uintptr) Backtrace {
	for _, pc := range allPCs(pcs, pc0) {
		if needs, known := reg.NeedsDecode(pc); known && needs {
			reg.EnsureDecoded(pc)
		}
	}

	frames := make([]FrameDescriptor, 0, len(pcs))
	for _, pc := range pcs {
		if frame, ok := reg.LookupFrame(pc); ok {
			frames = append(frames, frame)
		}
	}

	trapKind, _ := reg.LookupTrapKind(pc0)
	return Backtrace{Frames: frames, TrapKind: trapKind}
}

func allPCs(pcs []uintptr, pc0 uintptr) []uintptr {
	all := make([]uintptr, 0, len(pcs)+1)
	all = append(all, pcs...)
	all = append(all, pc0)
	return all
}

// String renders the backtrace in the teacher's wasm-stack-trace style
// (internal/wasmdebug.ErrorBuilder's "wasm stack trace:\n\t..." format),
// one frame per line, innermost first.
func (b Backtrace) String() string {
	if len(b.Frames) == 0 {
		return "wasm stack trace:\n\t<empty>"
	}
	var sb strings.Builder
	sb.WriteString("wasm stack trace:")
	for _, f := range b.Frames {
		fmt.Fprintf(&sb, "\n\t%s", f.String())
	}
	return sb.String()
}

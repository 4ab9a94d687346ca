package frameinfo

import "fmt"

// FrameDescriptor is the public, immutable result of symbolicating one
// program counter. It is a by-value copy: it survives deregistration of the
// module it was looked up from (spec.md §4.6).
type FrameDescriptor struct {
	moduleName   string
	funcIndex    uint32
	functionName string
	hasName      bool
	funcStartSrc uint32
	instrSrc     uint32
}

// ModuleName is the identifier of the module this frame belongs to, from
// its name section. It may be empty.
func (f FrameDescriptor) ModuleName() string { return f.moduleName }

// FuncIndex is the module-wide function index (including imports).
func (f FrameDescriptor) FuncIndex() uint32 { return f.funcIndex }

// FunctionName is the function's symbolic name, if one was recorded.
func (f FrameDescriptor) FunctionName() (string, bool) { return f.functionName, f.hasName }

// ModuleOffset is the byte offset of this frame's instruction in the
// original module.
func (f FrameDescriptor) ModuleOffset() uint32 { return f.instrSrc }

// FuncOffset is the byte offset of this frame's instruction from the start
// of its defining function in the original module.
func (f FrameDescriptor) FuncOffset() uint32 { return f.instrSrc - f.funcStartSrc }

// String renders the conventional form spec.md §6 names:
// "<fn> (<module>[<func_index>]:0x<module_offset:hex>)". When no function
// name was recorded, "<unknown>" stands in for <fn>.
func (f FrameDescriptor) String() string {
	name := f.functionName
	if !f.hasName {
		name = "<unknown>"
	}
	return fmt.Sprintf("%s (%s[%d]:0x%x)", name, f.moduleName, f.funcIndex, f.instrSrc)
}

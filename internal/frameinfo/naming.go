package frameinfo

import "strconv"

// FuncName derives a display name for a function from its module name,
// optional recorded name, and index, in the style of
// internal/wasmdebug.FuncName: "<module>.<function>", falling back to
// "<module>.$<index>" when no function name was recorded. Either name may
// be empty.
func FuncName(moduleName, funcName string, funcIndex uint32) string {
	if funcName == "" {
		funcName = "$" + strconv.FormatUint(uint64(funcIndex), 10)
	}
	return moduleName + "." + funcName
}

// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModule is the import module name guest code links against.
const HostModule = "svm"

var (
	ErrUnsupportedImport = errors.New("unsupported import")

	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// hostFuncs is the closed set of host functions a template may import,
// keyed by import name. Anything outside this table fails deployment.
var hostFuncs = map[string]hostFunc{
	"reg_read":   {fn: regRead, params: []api.ValueType{i32, i32}, results: []api.ValueType{i64}},
	"reg_write":  {fn: regWrite, params: []api.ValueType{i32, i32, i64}},
	"mem_to_reg": {fn: memToReg, params: []api.ValueType{i32, i32, i32, i32}},
	"reg_to_mem": {fn: regToMem, params: []api.ValueType{i32, i32, i32}},
	"page_read":  {fn: pageRead, params: []api.ValueType{i32, i32, i32, i32}},
	"page_write": {fn: pageWrite, params: []api.ValueType{i32, i32, i32, i32}},
}

type hostFunc struct {
	fn      interface{}
	params  []api.ValueType
	results []api.ValueType
}

func registerHostModule(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	for name, hf := range hostFuncs {
		builder = builder.NewFunctionBuilder().WithFunc(hf.fn).Export(name)
	}
	return builder
}

// validateImports checks a module's import table against the
// host-function whitelist: exact module, name, and signature, and no
// imports of any other kind. This runs once, at template deployment,
// never per invocation.
func validateImports(code []byte, compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != HostModule {
			return fmt.Errorf("%w: module %q", ErrUnsupportedImport, module)
		}
		hf, ok := hostFuncs[name]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnsupportedImport, module, name)
		}
		if !typesEqual(def.ParamTypes(), hf.params) || !typesEqual(def.ResultTypes(), hf.results) {
			return fmt.Errorf("%w: %s.%s has wrong signature", ErrUnsupportedImport, module, name)
		}
	}
	return scanImportSection(code)
}

// Import descriptor kinds in the binary import section.
const (
	importSectionID byte = 0x02

	importKindFunc   byte = 0x00
	importKindTable  byte = 0x01
	importKindMemory byte = 0x02
	importKindGlobal byte = 0x03
)

var importKindNames = map[byte]string{
	importKindTable:  "table",
	importKindMemory: "memory",
	importKindGlobal: "global",
}

// scanImportSection walks the binary import section and rejects table,
// memory, and global imports. The compiled module only surfaces imported
// functions, so without this scan a global or table import compiles
// cleanly and fails at every instantiation instead of at deployment.
// [code] has already passed wasm validation when this runs.
func scanImportSection(code []byte) error {
	pos := 8 // magic + version
	for pos < len(code) {
		id := code[pos]
		size, n := binary.Uvarint(code[pos+1:])
		if n <= 0 {
			return fmt.Errorf("%w: malformed section header", ErrInvalidModule)
		}
		body := pos + 1 + n
		end := body + int(size)
		if end > len(code) {
			return fmt.Errorf("%w: truncated section", ErrInvalidModule)
		}
		if id == importSectionID {
			return scanImports(code[body:end])
		}
		pos = end
	}
	return nil
}

func scanImports(sec []byte) error {
	count, pos := binary.Uvarint(sec)
	if pos <= 0 {
		return fmt.Errorf("%w: malformed import section", ErrInvalidModule)
	}
	for i := uint64(0); i < count; i++ {
		module, n := readName(sec[pos:])
		if n == 0 {
			return fmt.Errorf("%w: malformed import module", ErrInvalidModule)
		}
		pos += n
		name, n := readName(sec[pos:])
		if n == 0 {
			return fmt.Errorf("%w: malformed import name", ErrInvalidModule)
		}
		pos += n
		if pos >= len(sec) {
			return fmt.Errorf("%w: truncated import entry", ErrInvalidModule)
		}
		kind := sec[pos]
		pos++
		switch kind {
		case importKindFunc:
			_, n := binary.Uvarint(sec[pos:])
			if n <= 0 {
				return fmt.Errorf("%w: malformed import type index", ErrInvalidModule)
			}
			pos += n
		case importKindTable, importKindMemory, importKindGlobal:
			return fmt.Errorf("%w: %s.%s is a %s import", ErrUnsupportedImport, module, name, importKindNames[kind])
		default:
			return fmt.Errorf("%w: unknown import kind %#x", ErrInvalidModule, kind)
		}
	}
	return nil
}

func readName(buf []byte) (string, int) {
	l, n := binary.Uvarint(buf)
	if n <= 0 || n+int(l) > len(buf) {
		return "", 0
	}
	return string(buf[n : n+int(l)]), n + int(l)
}

func typesEqual(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

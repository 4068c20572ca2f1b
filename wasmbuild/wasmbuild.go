// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wasmbuild assembles minimal wasm binaries in memory. It covers
// just enough of the binary format (types, imports, one memory, exports,
// code) to build guest templates in tests and tooling without an external
// toolchain.
package wasmbuild

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Module accumulates sections and serializes them with Bytes. Function
// indices follow the wasm index space: imported functions first, then
// local functions in declaration order.
type Module struct {
	types    [][]byte
	imports  [][]byte
	funcSigs []uint32
	bodies   [][]byte
	exports  [][]byte
	memPages int

	importedFuncs uint32
}

func New() *Module {
	return &Module{memPages: -1}
}

// Type declares a function type and returns its index.
func (m *Module) Type(params, results []byte) uint32 {
	enc := []byte{0x60}
	enc = append(enc, uleb(uint64(len(params)))...)
	enc = append(enc, params...)
	enc = append(enc, uleb(uint64(len(results)))...)
	enc = append(enc, results...)
	m.types = append(m.types, enc)
	return uint32(len(m.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
// All imports must be declared before any local function.
func (m *Module) ImportFunc(module, name string, typeIdx uint32) uint32 {
	enc := encName(module)
	enc = append(enc, encName(name)...)
	enc = append(enc, 0x00) // func import
	enc = append(enc, uleb(uint64(typeIdx))...)
	m.imports = append(m.imports, enc)
	m.importedFuncs++
	return m.importedFuncs - 1
}

// ImportGlobal declares an immutable global import of value type
// [valType].
func (m *Module) ImportGlobal(module, name string, valType byte) {
	enc := encName(module)
	enc = append(enc, encName(name)...)
	enc = append(enc, 0x03, valType, 0x00) // global import, immutable
	m.imports = append(m.imports, enc)
}

// ImportTable declares a funcref table import with [min] initial entries
// and no maximum.
func (m *Module) ImportTable(module, name string, min uint32) {
	enc := encName(module)
	enc = append(enc, encName(name)...)
	enc = append(enc, 0x01, 0x70, 0x00) // table import, funcref, min only
	enc = append(enc, uleb(uint64(min))...)
	m.imports = append(m.imports, enc)
}

// ImportMemory declares a memory import with [min] initial pages and no
// maximum. Mutually exclusive with Memory.
func (m *Module) ImportMemory(module, name string, min uint32) {
	enc := encName(module)
	enc = append(enc, encName(name)...)
	enc = append(enc, 0x02, 0x00) // memory import, min only
	enc = append(enc, uleb(uint64(min))...)
	m.imports = append(m.imports, enc)
}

// Memory declares a single memory with [minPages] initial pages.
func (m *Module) Memory(minPages uint32) {
	m.memPages = int(minPages)
}

// Func declares a local function with no locals and the given body
// instructions (the terminating end opcode is appended automatically).
// Returns the function index.
func (m *Module) Func(typeIdx uint32, body []byte) uint32 {
	m.funcSigs = append(m.funcSigs, typeIdx)
	m.bodies = append(m.bodies, body)
	return m.importedFuncs + uint32(len(m.funcSigs)-1)
}

// Export exports function [funcIdx] under [name].
func (m *Module) Export(name string, funcIdx uint32) {
	enc := encName(name)
	enc = append(enc, 0x00) // func export
	enc = append(enc, uleb(uint64(funcIdx))...)
	m.exports = append(m.exports, enc)
}

// Bytes serializes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		out = append(out, section(0x01, vec(m.types))...)
	}
	if len(m.imports) > 0 {
		out = append(out, section(0x02, vec(m.imports))...)
	}
	if len(m.funcSigs) > 0 {
		sigs := make([][]byte, len(m.funcSigs))
		for i, t := range m.funcSigs {
			sigs[i] = uleb(uint64(t))
		}
		out = append(out, section(0x03, vec(sigs))...)
	}
	if m.memPages >= 0 {
		limits := append([]byte{0x00}, uleb(uint64(m.memPages))...)
		out = append(out, section(0x05, vec([][]byte{limits}))...)
	}
	if len(m.exports) > 0 {
		out = append(out, section(0x07, vec(m.exports))...)
	}
	if len(m.bodies) > 0 {
		codes := make([][]byte, len(m.bodies))
		for i, body := range m.bodies {
			code := append(uleb(0), body...) // zero local declarations
			code = append(code, 0x0b)        // end
			codes[i] = append(uleb(uint64(len(code))), code...)
		}
		out = append(out, section(0x0a, vec(codes))...)
	}
	return out
}

// Instruction helpers.

func I32Const(v int32) []byte  { return append([]byte{0x41}, sleb(int64(v))...) }
func I64Const(v int64) []byte  { return append([]byte{0x42}, sleb(v)...) }
func LocalGet(i uint32) []byte { return append([]byte{0x20}, uleb(uint64(i))...) }
func Call(fn uint32) []byte    { return append([]byte{0x10}, uleb(uint64(fn))...) }

// I32Store8 stores the low byte of the stack top at address+offset
// (alignment 0).
func I32Store8(offset uint32) []byte {
	enc := []byte{0x3a, 0x00}
	return append(enc, uleb(uint64(offset))...)
}

var (
	I64Add      = []byte{0x7c}
	Unreachable = []byte{0x00}
)

// Body concatenates instruction sequences.
func Body(instrs ...[]byte) []byte {
	var out []byte
	for _, ins := range instrs {
		out = append(out, ins...)
	}
	return out
}

func encName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func vec(items [][]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"github.com/svm-labs/svm/engine"
	"github.com/svm-labs/svm/wasmbuild"
)

// incCode builds a template exporting inc(reg_idx: i32): read 64-bit
// register reg_idx, add one, write it back. Registers only, no storage.
func incCode() []byte {
	m := wasmbuild.New()
	tRead := m.Type([]byte{wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I64})
	tWrite := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I64}, nil)
	tInc := m.Type([]byte{wasmbuild.I32}, nil)

	regRead := m.ImportFunc(engine.HostModule, "reg_read", tRead)
	regWrite := m.ImportFunc(engine.HostModule, "reg_write", tWrite)

	inc := m.Func(tInc, wasmbuild.Body(
		wasmbuild.I32Const(64),
		wasmbuild.LocalGet(0),
		wasmbuild.I32Const(64),
		wasmbuild.LocalGet(0),
		wasmbuild.Call(regRead),
		wasmbuild.I64Const(1),
		wasmbuild.I64Add,
		wasmbuild.Call(regWrite),
	))
	m.Export("inc", inc)
	return m.Bytes()
}

// pageCode builds a template exporting put (stages [1,2,3] at the start
// of page 0 and returns), put_trap (stages the same bytes then traps on
// an unreachable), and boom (traps immediately).
func pageCode() []byte {
	m := wasmbuild.New()
	tPage := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, nil)
	tVoid := m.Type(nil, nil)

	pageWrite := m.ImportFunc(engine.HostModule, "page_write", tPage)
	m.Memory(1)

	store := wasmbuild.Body(
		wasmbuild.I32Const(0), wasmbuild.I32Const(1), wasmbuild.I32Store8(0),
		wasmbuild.I32Const(0), wasmbuild.I32Const(2), wasmbuild.I32Store8(1),
		wasmbuild.I32Const(0), wasmbuild.I32Const(3), wasmbuild.I32Store8(2),
		wasmbuild.I32Const(0), // page
		wasmbuild.I32Const(0), // offset
		wasmbuild.I32Const(0), // ptr
		wasmbuild.I32Const(3), // len
		wasmbuild.Call(pageWrite),
	)
	put := m.Func(tVoid, store)
	putTrap := m.Func(tVoid, wasmbuild.Body(store, wasmbuild.Unreachable))
	boom := m.Func(tVoid, wasmbuild.Body(wasmbuild.Unreachable))
	m.Export("put", put)
	m.Export("put_trap", putTrap)
	m.Export("boom", boom)
	return m.Bytes()
}

// badImportCode builds a module requiring an import outside the host
// whitelist.
func badImportCode() []byte {
	m := wasmbuild.New()
	tVoid := m.Type([]byte{wasmbuild.I32}, nil)
	m.ImportFunc("env", "host_escape", tVoid)
	return m.Bytes()
}

// globalImportCode builds a module importing a global from the host
// module. Only function imports are supported.
func globalImportCode() []byte {
	m := wasmbuild.New()
	m.ImportGlobal(engine.HostModule, "g", wasmbuild.I32)
	return m.Bytes()
}

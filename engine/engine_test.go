// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/svm-labs/svm/register"
	"github.com/svm-labs/svm/storage"
	"github.com/svm-labs/svm/wasmbuild"
)

func newTestEngine(t *testing.T) (*Engine, context.Context) {
	ctx := context.Background()
	e, err := New(ctx, Config{MemoryLimitPages: 16})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e, ctx
}

// incModule imports reg_read/reg_write and exports inc(reg_idx: i32)
// which adds one to 64-bit register reg_idx.
func incModule() []byte {
	m := wasmbuild.New()
	tRead := m.Type([]byte{wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I64})
	tWrite := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I64}, nil)
	tInc := m.Type([]byte{wasmbuild.I32}, nil)

	regRead := m.ImportFunc(HostModule, "reg_read", tRead)
	regWrite := m.ImportFunc(HostModule, "reg_write", tWrite)

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

// pageModule exports put, which stages [1,2,3] at the start of page 0,
// and put_trap, which does the same then hits an unreachable.
func pageModule() []byte {
	m := wasmbuild.New()
	tPage := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, nil)
	tVoid := m.Type(nil, nil)

	pageWrite := m.ImportFunc(HostModule, "page_write", tPage)
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
	m.Export("put", put)
	m.Export("put_trap", putTrap)
	return m.Bytes()
}

func TestCompileAcceptsWhitelistedImports(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	compiled, err := e.Compile(ctx, incModule())
	assert.NoError(err)
	assert.NoError(compiled.Close(ctx))
}

func TestCompileRejectsUnknownImportName(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	m := wasmbuild.New()
	tVoid := m.Type([]byte{wasmbuild.I32}, nil)
	m.ImportFunc(HostModule, "bogus", tVoid)

	_, err := e.Compile(ctx, m.Bytes())
	assert.ErrorIs(err, ErrUnsupportedImport)
}

func TestCompileRejectsUnknownImportModule(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	m := wasmbuild.New()
	tVoid := m.Type([]byte{wasmbuild.I32}, nil)
	m.ImportFunc("env", "reg_read", tVoid)

	_, err := e.Compile(ctx, m.Bytes())
	assert.ErrorIs(err, ErrUnsupportedImport)
}

func TestCompileRejectsWrongSignature(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	// reg_read with an i32 result instead of i64.
	m := wasmbuild.New()
	tBad := m.Type([]byte{wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I32})
	m.ImportFunc(HostModule, "reg_read", tBad)

	_, err := e.Compile(ctx, m.Bytes())
	assert.ErrorIs(err, ErrUnsupportedImport)
}

func TestCompileRejectsGlobalImport(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	// A whitelisted function import alongside the global: the function
	// alone is fine, the global must still fail deployment.
	m := wasmbuild.New()
	tRead := m.Type([]byte{wasmbuild.I32, wasmbuild.I32}, []byte{wasmbuild.I64})
	m.ImportFunc(HostModule, "reg_read", tRead)
	m.ImportGlobal(HostModule, "g", wasmbuild.I32)

	_, err := e.Compile(ctx, m.Bytes())
	assert.ErrorIs(err, ErrUnsupportedImport)
}

func TestCompileRejectsTableImport(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	m := wasmbuild.New()
	m.ImportTable(HostModule, "t", 1)

	_, err := e.Compile(ctx, m.Bytes())
	assert.ErrorIs(err, ErrUnsupportedImport)
}

func TestCompileRejectsMemoryImport(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	m := wasmbuild.New()
	m.ImportMemory(HostModule, "mem", 1)

	_, err := e.Compile(ctx, m.Bytes())
	assert.ErrorIs(err, ErrUnsupportedImport)
}

func TestCompileRejectsGarbage(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	_, err := e.Compile(ctx, []byte{1, 2, 3})
	assert.ErrorIs(err, ErrInvalidModule)
}

func TestGuestRegisterRoundTrip(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	compiled, err := e.Compile(ctx, incModule())
	assert.NoError(err)

	env := &Env{Regs: register.NewFile()}
	assert.NoError(env.Regs.WriteUint(register.Bits64, 5, 41))

	callCtx := WithEnv(ctx, env)
	mod, err := e.Instantiate(callCtx, compiled)
	assert.NoError(err)
	defer mod.Close(ctx)

	_, err = mod.ExportedFunction("inc").Call(callCtx, 5)
	assert.NoError(err)
	assert.NoError(env.Fault())

	v, err := env.Regs.ReadUint(register.Bits64, 5)
	assert.NoError(err)
	assert.Equal(uint64(42), v)
}

func TestGuestPageWrite(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	compiled, err := e.Compile(ctx, pageModule())
	assert.NoError(err)

	ps := storage.NewPageStore(memdb.New())
	txn, err := ps.Open(ids.ID{1}, 4)
	assert.NoError(err)
	defer txn.Abort()

	env := &Env{Regs: register.NewFile(), Store: txn}
	callCtx := WithEnv(ctx, env)
	mod, err := e.Instantiate(callCtx, compiled)
	assert.NoError(err)
	defer mod.Close(ctx)

	_, err = mod.ExportedFunction("put").Call(callCtx)
	assert.NoError(err)
	assert.NoError(env.Fault())

	page, err := txn.ReadPage(0)
	assert.NoError(err)
	assert.Equal([]byte{1, 2, 3}, page[:3])
}

// moveModule exports move, which exchanges data through guest memory:
// it stores [1,2,3,4] at address 0, loads them into 256-bit register 2
// via mem_to_reg, echoes the full register back to address 8 via
// reg_to_mem, and copies page 0 bytes [1,4) to address 64 via page_read.
func moveModule() []byte {
	m := wasmbuild.New()
	tMemToReg := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, nil)
	tRegToMem := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, nil)
	tPageRead := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, nil)
	tVoid := m.Type(nil, nil)

	memToReg := m.ImportFunc(HostModule, "mem_to_reg", tMemToReg)
	regToMem := m.ImportFunc(HostModule, "reg_to_mem", tRegToMem)
	pageRead := m.ImportFunc(HostModule, "page_read", tPageRead)
	m.Memory(1)

	move := m.Func(tVoid, wasmbuild.Body(
		wasmbuild.I32Const(0), wasmbuild.I32Const(1), wasmbuild.I32Store8(0),
		wasmbuild.I32Const(0), wasmbuild.I32Const(2), wasmbuild.I32Store8(1),
		wasmbuild.I32Const(0), wasmbuild.I32Const(3), wasmbuild.I32Store8(2),
		wasmbuild.I32Const(0), wasmbuild.I32Const(4), wasmbuild.I32Store8(3),
		wasmbuild.I32Const(0),   // ptr
		wasmbuild.I32Const(4),   // len
		wasmbuild.I32Const(256), // bits
		wasmbuild.I32Const(2),   // idx
		wasmbuild.Call(memToReg),
		wasmbuild.I32Const(256), // bits
		wasmbuild.I32Const(2),   // idx
		wasmbuild.I32Const(8),   // ptr
		wasmbuild.Call(regToMem),
		wasmbuild.I32Const(0),  // page
		wasmbuild.I32Const(1),  // offset
		wasmbuild.I32Const(64), // ptr
		wasmbuild.I32Const(3),  // len
		wasmbuild.Call(pageRead),
	))
	m.Export("move", move)
	return m.Bytes()
}

func TestGuestMemoryExchange(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	compiled, err := e.Compile(ctx, moveModule())
	assert.NoError(err)

	ps := storage.NewPageStore(memdb.New())
	txn, err := ps.Open(ids.ID{1}, 4)
	assert.NoError(err)
	defer txn.Abort()
	assert.NoError(txn.WritePage(0, []byte{0, 7, 8, 9}))

	env := &Env{Regs: register.NewFile(), Store: txn}
	callCtx := WithEnv(ctx, env)
	mod, err := e.Instantiate(callCtx, compiled)
	assert.NoError(err)
	defer mod.Close(ctx)

	_, err = mod.ExportedFunction("move").Call(callCtx)
	assert.NoError(err)
	assert.NoError(env.Fault())

	// mem_to_reg zero-extends [1,2,3,4] into the 32-byte register.
	want := make([]byte, 32)
	copy(want, []byte{1, 2, 3, 4})
	regVal, err := env.Regs.Read(register.Bits256, 2)
	assert.NoError(err)
	assert.Equal(want, regVal)

	// reg_to_mem writes the full register width back.
	echoed, ok := mod.Memory().Read(8, 32)
	assert.True(ok)
	assert.Equal(want, echoed)

	// page_read copied the staged page slice.
	pageSlice, ok := mod.Memory().Read(64, 3)
	assert.True(ok)
	assert.Equal([]byte{7, 8, 9}, pageSlice)
}

func TestHostCallWithoutMemoryIsFault(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	// page_write imported but no memory section declared.
	m := wasmbuild.New()
	tPage := m.Type([]byte{wasmbuild.I32, wasmbuild.I32, wasmbuild.I32, wasmbuild.I32}, nil)
	tVoid := m.Type(nil, nil)
	pageWrite := m.ImportFunc(HostModule, "page_write", tPage)
	nomem := m.Func(tVoid, wasmbuild.Body(
		wasmbuild.I32Const(0), wasmbuild.I32Const(0),
		wasmbuild.I32Const(0), wasmbuild.I32Const(0),
		wasmbuild.Call(pageWrite),
	))
	m.Export("nomem", nomem)

	compiled, err := e.Compile(ctx, m.Bytes())
	assert.NoError(err)

	ps := storage.NewPageStore(memdb.New())
	txn, err := ps.Open(ids.ID{1}, 4)
	assert.NoError(err)
	defer txn.Abort()

	env := &Env{Regs: register.NewFile(), Store: txn}
	callCtx := WithEnv(ctx, env)
	mod, err := e.Instantiate(callCtx, compiled)
	assert.NoError(err)
	defer mod.Close(ctx)

	_, err = mod.ExportedFunction("nomem").Call(callCtx)
	assert.Error(err)
	// A host-call fault, not a guest trap.
	assert.ErrorIs(env.Fault(), ErrNoMemory)
}

func TestGuestTrapSurfacesAsError(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	compiled, err := e.Compile(ctx, pageModule())
	assert.NoError(err)

	ps := storage.NewPageStore(memdb.New())
	txn, err := ps.Open(ids.ID{1}, 4)
	assert.NoError(err)
	defer txn.Abort()

	env := &Env{Regs: register.NewFile(), Store: txn}
	callCtx := WithEnv(ctx, env)
	mod, err := e.Instantiate(callCtx, compiled)
	assert.NoError(err)
	defer mod.Close(ctx)

	_, err = mod.ExportedFunction("put_trap").Call(callCtx)
	assert.Error(err)
	// Guest trap, not a host-call fault.
	assert.NoError(env.Fault())
}

func TestHostCallFaultAbortsExecution(t *testing.T) {
	assert := assert.New(t)
	e, ctx := newTestEngine(t)

	// inc on an out-of-range register index.
	compiled, err := e.Compile(ctx, incModule())
	assert.NoError(err)

	env := &Env{Regs: register.NewFile()}
	callCtx := WithEnv(ctx, env)
	mod, err := e.Instantiate(callCtx, compiled)
	assert.NoError(err)
	defer mod.Close(ctx)

	_, err = mod.ExportedFunction("inc").Call(callCtx, 99)
	assert.Error(err)
	assert.ErrorIs(env.Fault(), register.ErrIndexOutOfRange)
}

// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/svm-labs/svm/register"
	"github.com/svm-labs/svm/storage"
)

var (
	ErrMemoryOutOfRange = errors.New("guest memory access out of range")
	ErrNoMemory         = errors.New("module declares no memory")
	ErrPageRange        = errors.New("page slice out of range")

	errNoEnv = errors.New("no invocation env on context")
)

// Env is the per-invocation state host functions operate on: the register
// file and the open storage transaction. Guest code never sees host
// memory; every exchange goes through these two.
type Env struct {
	Regs  *register.File
	Store *storage.Transaction

	fault error
}

// Fault returns the first host-call validation failure recorded during
// execution, if any. The orchestrator uses it to distinguish host-call
// faults from guest traps when classifying an aborted invocation.
func (e *Env) Fault() error { return e.fault }

// fail records the fault and unwinds guest execution. The panic is
// recovered by the wazero call path and surfaces as the call error.
func (e *Env) fail(err error) {
	if e.fault == nil {
		e.fault = err
	}
	panic(err)
}

type envKey struct{}

// WithEnv attaches the invocation env to [ctx]; host functions retrieve
// it from the call context.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func envOf(ctx context.Context) *Env {
	env, ok := ctx.Value(envKey{}).(*Env)
	if !ok {
		panic(errNoEnv)
	}
	return env
}

// guestMemory returns the module's memory, recording a host-call fault if
// the module declared none. Nothing stops a template from importing the
// memory-exchange host functions without a memory section; that misuse is
// a fault, not a guest trap.
func guestMemory(env *Env, m api.Module) api.Memory {
	mem := m.Memory()
	if mem == nil {
		env.fail(ErrNoMemory)
	}
	return mem
}

// reg_read(bits, idx) -> value
func regRead(ctx context.Context, bits, idx uint32) uint64 {
	env := envOf(ctx)
	v, err := env.Regs.ReadUint(bits, idx)
	if err != nil {
		env.fail(err)
	}
	return v
}

// reg_write(bits, idx, value)
func regWrite(ctx context.Context, bits, idx uint32, value uint64) {
	env := envOf(ctx)
	if err := env.Regs.WriteUint(bits, idx, value); err != nil {
		env.fail(err)
	}
}

// mem_to_reg(ptr, len, bits, idx)
func memToReg(ctx context.Context, m api.Module, ptr, length, bits, idx uint32) {
	env := envOf(ctx)
	data, ok := guestMemory(env, m).Read(ptr, length)
	if !ok {
		env.fail(fmt.Errorf("%w: read [%d, %d)", ErrMemoryOutOfRange, ptr, ptr+length))
	}
	if err := env.Regs.Write(bits, idx, data); err != nil {
		env.fail(err)
	}
}

// reg_to_mem(bits, idx, ptr)
func regToMem(ctx context.Context, m api.Module, bits, idx, ptr uint32) {
	env := envOf(ctx)
	data, err := env.Regs.Read(bits, idx)
	if err != nil {
		env.fail(err)
	}
	if !guestMemory(env, m).Write(ptr, data) {
		env.fail(fmt.Errorf("%w: write [%d, %d)", ErrMemoryOutOfRange, ptr, ptr+uint32(len(data))))
	}
}

// page_read(page, offset, ptr, len)
func pageRead(ctx context.Context, m api.Module, page, offset, ptr, length uint32) {
	env := envOf(ctx)
	if uint64(offset)+uint64(length) > storage.PageSize {
		env.fail(fmt.Errorf("%w: [%d, %d)", ErrPageRange, offset, uint64(offset)+uint64(length)))
	}
	data, err := env.Store.ReadPage(page)
	if err != nil {
		env.fail(err)
	}
	if !guestMemory(env, m).Write(ptr, data[offset:offset+length]) {
		env.fail(fmt.Errorf("%w: write [%d, %d)", ErrMemoryOutOfRange, ptr, ptr+length))
	}
}

// page_write(page, offset, ptr, len)
func pageWrite(ctx context.Context, m api.Module, page, offset, ptr, length uint32) {
	env := envOf(ctx)
	if uint64(offset)+uint64(length) > storage.PageSize {
		env.fail(fmt.Errorf("%w: [%d, %d)", ErrPageRange, offset, uint64(offset)+uint64(length)))
	}
	buf, ok := guestMemory(env, m).Read(ptr, length)
	if !ok {
		env.fail(fmt.Errorf("%w: read [%d, %d)", ErrMemoryOutOfRange, ptr, ptr+length))
	}
	// Read-modify-write keeps the staged page whole.
	data, err := env.Store.ReadPage(page)
	if err != nil {
		env.fail(err)
	}
	copy(data[offset:], buf)
	if err := env.Store.WritePage(page, data); err != nil {
		env.fail(err)
	}
}

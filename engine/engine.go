// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine wraps the wasm execution backend. It compiles template
// code deterministically, enforces the closed host-import whitelist at
// compile time, and instantiates compiled modules against the host
// functions that expose the register file and page storage.
package engine

import (
	"context"
	"errors"
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var ErrInvalidModule = errors.New("invalid wasm module")

// Config tunes the execution backend.
type Config struct {
	// MemoryLimitPages caps guest memory per instance, in 64KiB wasm
	// pages. 0 keeps the backend default.
	MemoryLimitPages uint32
}

// Engine owns one wazero runtime with the host module instantiated. The
// interpreter configuration keeps translation deterministic and free of
// platform-specific codegen.
type Engine struct {
	rt wazero.Runtime
}

func New(ctx context.Context, cfg Config) (*Engine, error) {
	rcfg := wazero.NewRuntimeConfigInterpreter()
	if cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	if _, err := registerHostModule(rt.NewHostModuleBuilder(HostModule)).Instantiate(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiating host module: %w", err)
	}

	log.Debug("engine ready", "memoryLimitPages", cfg.MemoryLimitPages)
	return &Engine{rt: rt}, nil
}

// Compile translates [code] and validates its import table against the
// host-function whitelist. A module that needs anything outside the
// whitelist is not installable; this is where it fails, not at call time.
func (e *Engine) Compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	compiled, err := e.rt.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidModule, err)
	}
	if err := validateImports(code, compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	return compiled, nil
}

// Instantiate creates a fresh, anonymous instance of a compiled module.
// No start functions run; the orchestrator invokes exports explicitly.
// Anonymous naming lets concurrent invocations instantiate the same
// template simultaneously.
func (e *Engine) Instantiate(ctx context.Context, compiled wazero.CompiledModule) (api.Module, error) {
	return e.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions())
}

func (e *Engine) Close(ctx context.Context) error {
	return e.rt.Close(ctx)
}

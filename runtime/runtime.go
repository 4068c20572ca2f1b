// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runtime drives wasm contract invocations end to end: it
// resolves an app to its template's compiled module, links the module to
// the register-file and page-storage host functions, executes the
// requested export, and commits or aborts the app's storage transaction
// based on the outcome.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/version"
	"github.com/tetratelabs/wazero"

	"github.com/svm-labs/svm/engine"
	"github.com/svm-labs/svm/register"
	"github.com/svm-labs/svm/registry"
	"github.com/svm-labs/svm/storage"
)

const Name = "svm"

var (
	Version = &version.Semantic{Major: 0, Minor: 1, Patch: 0}

	ErrUnknownExport = errors.New("unknown export")
	ErrExecutionTrap = errors.New("execution trap")

	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	registryPrefix = []byte("registry")
	pagesPrefix    = []byte("pages")
)

// Config tunes the runtime.
type Config struct {
	// MemoryLimitPages caps guest memory per invocation, in 64KiB wasm
	// pages. 0 keeps the backend default.
	MemoryLimitPages uint32
}

// Runtime is the invocation orchestrator. It is safe for concurrent use:
// invocations on distinct apps run in parallel, invocations on the same
// app are rejected with storage.ErrConcurrentAccess while one is open.
type Runtime struct {
	registry *registry.Registry
	pages    *storage.PageStore
	engine   *engine.Engine

	// Compiled templates, keyed by template address. Import validity is
	// proven once at deployment; invocations reuse the cached module.
	modulesLock sync.RWMutex
	modules     map[ids.ID]wazero.CompiledModule
}

// New builds a runtime over [db], which holds both the registry records
// and the committed app pages.
func New(ctx context.Context, db database.Database, cfg Config) (*Runtime, error) {
	log.Info("initializing runtime", "version", Version, "memoryLimitPages", cfg.MemoryLimitPages)

	eng, err := engine.New(ctx, engine.Config{MemoryLimitPages: cfg.MemoryLimitPages})
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}

	return &Runtime{
		registry: registry.New(prefixdb.New(registryPrefix, db)),
		pages:    storage.NewPageStore(prefixdb.New(pagesPrefix, db)),
		engine:   eng,
		modules:  make(map[ids.ID]wazero.CompiledModule),
	}, nil
}

// Close releases the execution backend.
func (rt *Runtime) Close(ctx context.Context) error {
	return rt.engine.Close(ctx)
}

// DeployTemplate validates, compiles, and persists [code] as a template
// owning [pages] state pages per app. A module importing anything outside
// the host whitelist fails here with engine.ErrUnsupportedImport; such a
// template is not installable at all.
func (rt *Runtime) DeployTemplate(ctx context.Context, code []byte, pages uint32) (ids.ID, error) {
	compiled, err := rt.engine.Compile(ctx, code)
	if err != nil {
		return ids.Empty, err
	}

	addr, err := rt.registry.PutTemplate(&registry.Template{Code: code, Pages: pages})
	if err != nil {
		_ = compiled.Close(ctx)
		return ids.Empty, err
	}

	rt.modulesLock.Lock()
	if _, ok := rt.modules[addr]; ok {
		// Identical code redeployed; keep the existing module.
		_ = compiled.Close(ctx)
	} else {
		rt.modules[addr] = compiled
	}
	rt.modulesLock.Unlock()

	return addr, nil
}

// SpawnApp registers a new app bound to [template]. The binding is
// immutable for the app's lifetime.
func (rt *Runtime) SpawnApp(ctx context.Context, template, creator ids.ID, salt []byte) (ids.ID, error) {
	return rt.registry.PutApp(&registry.App{
		Template: template,
		Creator:  creator,
		Salt:     salt,
	})
}

// GetTemplate resolves a deployed template.
func (rt *Runtime) GetTemplate(addr ids.ID) (*registry.Template, error) {
	return rt.registry.GetTemplate(addr)
}

// GetApp resolves a registered app.
func (rt *Runtime) GetApp(addr ids.ID) (*registry.App, error) {
	return rt.registry.GetApp(addr)
}

// ReadPage returns the committed value of one of [app]'s pages through a
// short-lived transaction. Useful for queries and state inspection.
func (rt *Runtime) ReadPage(app ids.ID, page uint32) ([]byte, error) {
	record, err := rt.registry.GetApp(app)
	if err != nil {
		return nil, err
	}
	tmpl, err := rt.registry.GetTemplate(record.Template)
	if err != nil {
		return nil, err
	}

	txn, err := rt.pages.Open(app, tmpl.Pages)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()
	return txn.ReadPage(page)
}

// Invoke runs one invocation to completion. On a normal export return the
// staged pages are committed and the designated output registers are
// returned in the receipt; on any trap, host-call fault, or resolution
// failure the transaction is aborted and the app's state is unchanged.
func (rt *Runtime) Invoke(ctx context.Context, inv Invocation) (*Receipt, error) {
	// Resolving
	app, err := rt.registry.GetApp(inv.App)
	if err != nil {
		return nil, err
	}
	tmpl, err := rt.registry.GetTemplate(app.Template)
	if err != nil {
		// App creation enforces the binding; a dangling template is an
		// internal-consistency fault, not caller input.
		log.Error("app bound to missing template", "app", inv.App, "template", app.Template)
		return nil, err
	}
	compiled, err := rt.compiledModule(ctx, app.Template, tmpl)
	if err != nil {
		return nil, err
	}

	txn, err := rt.pages.Open(inv.App, tmpl.Pages)
	if err != nil {
		return nil, err
	}

	// Registers are scoped to this invocation and start all-zero.
	regs := register.NewFile()
	for _, arg := range inv.Args {
		if err := regs.Write(arg.Bits, arg.Index, arg.Value); err != nil {
			txn.Abort()
			return nil, err
		}
	}

	// Linking
	env := &engine.Env{Regs: regs, Store: txn}
	execCtx := engine.WithEnv(ctx, env)

	mod, err := rt.engine.Instantiate(execCtx, compiled)
	if err != nil {
		txn.Abort()
		return nil, fmt.Errorf("linking template %s: %w", app.Template, err)
	}
	defer func() { _ = mod.Close(ctx) }()

	fn := mod.ExportedFunction(inv.Method)
	if fn == nil {
		txn.Abort()
		return nil, fmt.Errorf("%w: %q", ErrUnknownExport, inv.Method)
	}

	// Executing
	log.Debug("executing", "app", inv.App, "method", inv.Method)
	results, err := fn.Call(execCtx, inv.Params...)
	if err != nil {
		txn.Abort()
		if fault := env.Fault(); fault != nil {
			return nil, fmt.Errorf("%w: host call: %s", ErrExecutionTrap, fault)
		}
		return nil, fmt.Errorf("%w: %s", ErrExecutionTrap, err)
	}

	outputs := make([][]byte, len(inv.Returns))
	for i, slot := range inv.Returns {
		out, err := regs.Read(slot.Bits, slot.Index)
		if err != nil {
			txn.Abort()
			return nil, err
		}
		outputs[i] = out
	}

	// Committing. A failure here means the guest executed but nothing
	// persisted; it must stay distinguishable from an execution trap.
	if err := txn.Commit(); err != nil {
		txn.Abort()
		return nil, err
	}

	return &Receipt{
		App:       inv.App,
		Method:    inv.Method,
		Results:   results,
		Outputs:   outputs,
		Committed: true,
	}, nil
}

// compiledModule returns the cached compiled module for [addr], compiling
// the stored code on a cache miss (e.g. after a restart).
func (rt *Runtime) compiledModule(ctx context.Context, addr ids.ID, tmpl *registry.Template) (wazero.CompiledModule, error) {
	rt.modulesLock.RLock()
	compiled, ok := rt.modules[addr]
	rt.modulesLock.RUnlock()
	if ok {
		return compiled, nil
	}

	rt.modulesLock.Lock()
	defer rt.modulesLock.Unlock()
	if compiled, ok := rt.modules[addr]; ok {
		return compiled, nil
	}

	compiled, err := rt.engine.Compile(ctx, tmpl.Code)
	if err != nil {
		return nil, err
	}
	rt.modules[addr] = compiled
	log.Debug("compiled stored template", "template", addr)
	return compiled, nil
}

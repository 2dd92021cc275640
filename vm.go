// Package metervm runs untrusted, gas-metered WebAssembly modules behind
// a small closed ABI: a debug logging call, two gas-introspection calls,
// and a sha256 hashing call. It instruments guest bytecode with a
// basic-block metering pass ahead of compilation (see instrument.go) and
// executes it on wazero, since wazero itself has no built-in fuel/gas
// hook.
package metervm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"

	"github.com/eth2030/metervm/internal/metrics"
)

// vmExportPrefix is prepended to every entrypoint name, the ABI contract
// a guest's build-side bindgen step (out of scope for this repo, see
// SPEC_FULL.md §1) is responsible for producing.
const vmExportPrefix = "__vm_"

// VM is the embedding facade. A VM owns one wazero.Runtime and one
// compile cache; both are safe for concurrent use by multiple goroutines
// calling Execute, as long as each call supplies its own GasMeter (5.
// Concurrency & Resource Model: no shared mutable state across
// invocations beyond the read-only compiled module cache).
type VM struct {
	runtime  wazero.Runtime
	config   *Config
	compiler *Compiler
	metrics  *metrics.Registry
	tracer   trace.Tracer
}

// New returns a VM using DefaultConfig.
func New() *VM {
	return newVM(DefaultConfig())
}

// WithConfig returns a VM using the given cost schedule and knobs instead
// of the default.
func WithConfig(cfg *Config) *VM {
	return newVM(cfg)
}

func newVM(cfg *Config) *VM {
	ctx := context.Background()
	runtime := wazero.NewRuntimeWithConfig(ctx,
		wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.MaxMemoryPages))
	if err := registerHostModules(ctx, runtime); err != nil {
		// Host module registration only fails on a build-time mistake in
		// this package's own function signatures, never on guest input -
		// panicking here mirrors the reference's own Vm::new(), which
		// calls expect() on its one-time setup step.
		panic(err)
	}

	reg := metrics.NewRegistry()
	return &VM{
		runtime:  runtime,
		config:   cfg,
		compiler: NewCompiler(runtime, cfg, reg),
		metrics:  reg,
		tracer:   noop.NewTracerProvider().Tracer("metervm"),
	}
}

// Close releases the underlying wazero runtime. Call it when the VM will
// no longer be used; a VM left open for the process lifetime (the common
// embedding pattern) need not call this.
func (v *VM) Close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}

// Execute compiles (or fetches from cache) code, instantiates it, and
// calls its exported __vm_<entry> function under meter's budget. Gas
// spent is reconciled back into meter regardless of whether execution
// succeeds, so a caller can always inspect meter.Spent()/Left() after
// Execute returns.
func (v *VM) Execute(ctx context.Context, code []byte, entry string, meter *GasMeter) error {
	cc := newCallContext(v.runtime, v.compiler, v.config, v.metrics, v.tracer)
	return cc.Execute(ctx, code, entry, meter)
}

// Metrics exposes the VM's invocation/gas/compile-cache counters for an
// embedder that wants to export them into its own monitoring stack.
func (v *VM) Metrics() *metrics.Registry {
	return v.metrics
}

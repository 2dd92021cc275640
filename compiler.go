package metervm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tetratelabs/wazero"

	"github.com/eth2030/metervm/internal/metrics"
)

// Compiler turns raw guest bytecode into a wazero-compiled, metering-
// instrumented module, single-pass and without any optimization passes:
// 4.3's design rationale (predictable compile time over peak throughput)
// rules out the corpus's own ewasm_optimizer.go-style rewrite passes, so
// this never runs more than the one instrumentation walk plus wazero's
// own compile, once over the raw bytes (validation and the import check)
// and once over the instrumented result.
type Compiler struct {
	runtime wazero.Runtime
	config  *Config
	cache   *compileCache
	metrics *metrics.Registry
}

// NewCompiler wraps a wazero runtime (owned by the caller, typically one
// per VM) with the metering instrumentation pass and a compile cache.
func NewCompiler(runtime wazero.Runtime, cfg *Config, reg *metrics.Registry) *Compiler {
	return &Compiler{
		runtime: runtime,
		config:  cfg,
		cache:   newCompileCache(64),
		metrics: reg,
	}
}

// Compile returns a compiled, instrumented module for the given raw
// bytecode, served from cache when the same bytes were seen before.
func (c *Compiler) Compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	hash := hashModule(code)
	if compiled, ok := c.cache.get(hash); ok {
		c.metrics.CompileHits.Inc()
		return compiled, nil
	}

	// Imports are checked on the guest's own module: the instrumented one
	// always carries the metering import this package adds itself.
	raw, err := c.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompileError, err)
	}
	err = checkImports(raw)
	raw.Close(ctx)
	if err != nil {
		return nil, err
	}

	instrumented, err := instrument(code, c.config)
	if err != nil {
		return nil, err
	}

	compiled, err := c.runtime.CompileModule(ctx, instrumented)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModule, err)
	}

	c.metrics.CompileMisses.Inc()
	log.Debug("compiled wasm module", "bytes", len(code), "cache_size", c.cache.size())
	c.cache.put(hash, compiled)
	return compiled, nil
}

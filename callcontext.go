package metervm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eth2030/metervm/internal/metrics"
)

// CallContext owns one VM's runtime and drives the execute algorithm
// (4.7): compile, instantiate, push a stack frame, invoke the entrypoint,
// reconcile gas, pop the frame, map any error. The frame stack supports
// nesting (a host operation that itself triggers another Execute would
// push a second frame) even though none of the four host operations this
// engine ships do that today - kept general as a designated extension
// point, matching the reference's own CallContext.
type CallContext struct {
	runtime  wazero.Runtime
	compiler *Compiler
	config   *Config
	metrics  *metrics.Registry
	tracer   trace.Tracer

	stack []*StackFrame
}

func newCallContext(runtime wazero.Runtime, compiler *Compiler, cfg *Config, reg *metrics.Registry, tracer trace.Tracer) *CallContext {
	return &CallContext{runtime: runtime, compiler: compiler, config: cfg, metrics: reg, tracer: tracer}
}

func (c *CallContext) top() *StackFrame {
	return c.stack[len(c.stack)-1]
}

func (c *CallContext) push(f *StackFrame) { c.stack = append(c.stack, f) }

func (c *CallContext) pop() *StackFrame {
	n := len(c.stack) - 1
	f := c.stack[n]
	c.stack = c.stack[:n]
	return f
}

// Execute compiles code, instantiates it, invokes __vm_<entry>, and
// reconciles gas spent back into callerMeter. It follows the reference's
// twelve-step algorithm: span -> compile -> register imports -> instantiate
// -> push frame with a cloned meter -> call entrypoint -> reconcile gas ->
// map error -> pop frame.
func (c *CallContext) Execute(ctx context.Context, code []byte, entry string, callerMeter *GasMeter) error {
	ctx, span := c.tracer.Start(ctx, "metervm.execute",
		trace.WithAttributes(
			attribute.Int64("gas_limit", int64(callerMeter.Limit())),
			attribute.Int("stack_depth", len(c.stack)),
		))
	defer span.End()

	c.metrics.Invocations.Inc()
	timer := metrics.NewTimer(c.metrics.InvokeDuration)
	defer timer.Stop()

	compiled, err := c.compiler.Compile(ctx, code)
	if err != nil {
		return err
	}

	modCfg := wazero.NewModuleConfig().WithName("")
	mod, err := c.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstantiationError, err)
	}
	defer mod.Close(ctx)

	startSpent := callerMeter.Spent()
	frameMeter := callerMeter.Clone()

	frame := &StackFrame{entrypoint: entry, meter: frameMeter, module: mod}
	if mem := mod.Memory(); mem != nil {
		frame.memory = newMemory(mem)
	}
	c.push(frame)
	defer c.pop()

	env := newEnv(c)
	callCtx := withEnv(ctx, env)

	fn := mod.ExportedFunction(vmExportPrefix + entry)
	if fn == nil {
		return wrapf(ErrExportError, "entrypoint %q not found", vmExportPrefix+entry)
	}

	_, callErr := fn.Call(callCtx)

	delta := frameMeter.Spent() - startSpent
	c.metrics.GasSpent.Observe(float64(delta))
	if updateErr := callerMeter.Update(delta); updateErr != nil {
		callerMeter.Exhaust()
	}

	if callErr != nil {
		mapped := mapRuntimeError(callErr)
		if errors.Is(mapped, ErrOutOfGas) {
			c.metrics.OutOfGas.Inc()
		}
		log.Debug("metervm execution failed", "entry", entry, "err", mapped)
		return mapped
	}
	return nil
}

// mapRuntimeError classifies a wazero Call error into this package's
// closed taxonomy. Do not clone or re-wrap before inspecting with
// errors.As: a type already belonging to this package (the common case,
// since every host operation panics with one of our own sentinel-backed
// error types) must be returned unchanged rather than flattened into a
// generic runtime error, mirroring the reference's own
// "don't clone before downcasting" rule in error.rs (there, cloning a
// wasmer RuntimeError before downcasting makes the Arc refcount-check the
// downcast depends on fail; here, the analogous hazard is re-wrapping a
// typed error until errors.As can no longer see through it).
func mapRuntimeError(err error) error {
	var vmErr *ExecutionPanicError
	if errors.As(err, &vmErr) {
		return err
	}
	if errors.Is(err, ErrOutOfGas) || errors.Is(err, ErrInvalidData) || errors.Is(err, ErrInvalidUTF8) {
		return err
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return &TrapError{Code: exitErr.Error()}
	}

	if code, ok := wazeroTrapCode(err); ok {
		return &TrapError{Code: code}
	}

	return fmt.Errorf("%w: %v", ErrRuntimeError, err)
}

// wazeroTrapCode extracts the trap code from a wazero compiled-engine
// runtime trap (unreachable, out-of-bounds memory access, integer
// divide-by-zero, indirect-call type mismatch, stack overflow, and so on).
// Unlike WASI's proc_exit/deadline-exceeded paths, these are not surfaced
// as a distinct exported error type (wazero's trap sentinels live in an
// internal package this module cannot import) - they are formatted into
// the Call error's message as "wasm error: <code>\nwasm stack trace:\n...",
// so this is a text-format contract with the wazero release pinned in
// go.mod rather than a type assertion. That format has been stable across
// wazero's public releases; a future wazero upgrade that changes it would
// make this fall through to the generic ErrRuntimeError path rather than
// silently misclassify.
func wazeroTrapCode(err error) (string, bool) {
	const prefix = "wasm error: "
	msg := err.Error()
	idx := strings.Index(msg, prefix)
	if idx < 0 {
		return "", false
	}
	code := msg[idx+len(prefix):]
	if nl := strings.IndexByte(code, '\n'); nl >= 0 {
		code = code[:nl]
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	return code, true
}

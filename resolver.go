package metervm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// allowedEnvImports is the closed set of host primitives a guest module
// may import under the "env" namespace. Anything else declared by the
// module - including an attempt to import from the reserved "metering"
// namespace this engine owns - is rejected at load time.
var allowedEnvImports = map[string]bool{
	"debug":        true,
	"gas_consumed": true,
	"gas_left":     true,
	"sha256":       true,
}

// checkImports enumerates a compiled module's imports and rejects the
// module outright if it declares anything outside the closed host-call
// set, or anything under the metering namespace. The reference's own
// resolver silently falls through on an unrecognized import name (a
// debug_assert that is compiled out in release builds); this is the one
// place SPEC_FULL deliberately changes that behavior into a hard,
// always-enforced load-time error.
func checkImports(compiled wazero.CompiledModule) error {
	for _, imp := range compiled.ImportedFunctions() {
		moduleName, name, ok := imp.Import()
		if !ok {
			continue
		}
		switch moduleName {
		case "env":
			if !allowedEnvImports[name] {
				return wrapf(ErrInvalidModule, "unknown host import env.%s", name)
			}
		case meteringModuleName:
			return wrapf(ErrInvalidModule, "module declares reserved import %s.%s", meteringModuleName, name)
		default:
			return wrapf(ErrInvalidModule, "unknown import namespace %q", moduleName)
		}
	}
	return nil
}

// envKey is the context.Context key CallContext.Execute stashes the
// active Env under, and the host function closures below read it back
// from. Host modules are instantiated once per VM (they cannot be
// re-instantiated under the same name on a live wazero.Runtime), but the
// Env they operate on changes on every call - and on every nested call a
// host operation triggers - so the indirection goes through the call's
// context rather than being baked into the closure.
type envKeyType struct{}

var envKey = envKeyType{}

func envFromContext(ctx context.Context) *Env {
	env, _ := ctx.Value(envKey).(*Env)
	return env
}

func withEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey, env)
}

// registerHostModules instantiates the "env" namespace (the four host
// primitives) plus the reserved "metering" namespace (the single charge
// function the instrumentation pass calls) once for the lifetime of rt.
func registerHostModules(ctx context.Context, rt wazero.Runtime) error {
	envBuilder := rt.NewHostModuleBuilder("env")
	envBuilder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			if err := hostDebug(envFromContext(ctx), ptr, length); err != nil {
				panic(err)
			}
		}).
		Export("debug")
	envBuilder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) uint64 {
			v, err := hostGasConsumed(envFromContext(ctx))
			if err != nil {
				panic(err)
			}
			return v
		}).
		Export("gas_consumed")
	envBuilder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) uint64 {
			v, err := hostGasLeft(envFromContext(ctx))
			if err != nil {
				panic(err)
			}
			return v
		}).
		Export("gas_left")
	envBuilder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, inPtr, inLen, outPtr uint32) {
			if err := hostSha256(envFromContext(ctx), inPtr, inLen, outPtr); err != nil {
				panic(err)
			}
		}).
		Export("sha256")
	if _, err := envBuilder.Instantiate(ctx); err != nil {
		return fmt.Errorf("metervm: instantiating env host module: %w", err)
	}

	meteringBuilder := rt.NewHostModuleBuilder(meteringModuleName)
	meteringBuilder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, cost uint64) {
			if err := envFromContext(ctx).charge(cost); err != nil {
				panic(err)
			}
		}).
		Export(meteringFuncName)
	if _, err := meteringBuilder.Instantiate(ctx); err != nil {
		return fmt.Errorf("metervm: instantiating metering host module: %w", err)
	}
	return nil
}

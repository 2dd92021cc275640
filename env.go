package metervm

// Env is the handle every host-call closure captures. It is scoped to one
// outer Execute call and always points at the top-of-stack frame, so a
// host call always charges and reads/writes against whichever frame is
// currently executing, even if that frame is a nested invocation.
type Env struct {
	ctx *CallContext
}

func newEnv(ctx *CallContext) *Env {
	return &Env{ctx: ctx}
}

func (e *Env) frame() *StackFrame {
	return e.ctx.top()
}

// charge deducts cost from the active frame's gas meter. Returns
// ErrOutOfGas if the charge would exceed the budget; callers (the host
// operation wrappers) must charge before doing any work, per 4.4/4.9.
func (e *Env) charge(cost uint64) error {
	return e.frame().meter.Update(cost)
}

func (e *Env) memory() *Memory {
	return e.frame().memory
}

func (e *Env) config() *Config {
	return e.ctx.config
}

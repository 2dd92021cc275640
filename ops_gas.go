package metervm

// hostGasConsumed implements the guest's gas_consumed() -> u64 call.
func hostGasConsumed(env *Env) (uint64, error) {
	if err := env.charge(env.config().Host.GasConsumed); err != nil {
		return 0, err
	}
	return env.frame().meter.Spent(), nil
}

// hostGasLeft implements the guest's gas_left() -> u64 call.
func hostGasLeft(env *Env) (uint64, error) {
	if err := env.charge(env.config().Host.GasLeft); err != nil {
		return 0, err
	}
	return env.frame().meter.Left(), nil
}

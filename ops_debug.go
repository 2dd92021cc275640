package metervm

import "github.com/ethereum/go-ethereum/log"

// hostDebug implements the guest's debug(ptr, len) call: charges gas, then
// reads and UTF-8-validates the guest string, then logs it. Charging
// happens before the read so a guest cannot get a free read by pointing
// at a string long enough to exhaust gas mid-copy - the charge already
// landed by the time any bytes move.
func hostDebug(env *Env, ptr, length uint32) error {
	if err := env.charge(env.config().Host.Debug); err != nil {
		return err
	}
	msg, err := env.memory().ReadString(ptr, length)
	if err != nil {
		return err
	}
	log.Debug("guest debug message", "msg", msg)
	return nil
}

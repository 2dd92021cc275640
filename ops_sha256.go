package metervm

import "crypto/sha256"

// hostSha256 implements the guest's sha256(in_ptr, in_len, out_ptr) call.
// Gas is charged for the full input length before any memory is touched
// (4.4/4.9's atomicity rule), matching the reference's own sha256.rs,
// which calls context.charge_gas before context.read_memory. The digest
// is computed with the standard library's crypto/sha256, the same
// primitive the retrieved corpus's own sha256hash EVM precompile uses
// (core/vm/precompiles.go) - there is no third-party sha256 implementation
// anywhere in the corpus to prefer over it.
func hostSha256(env *Env, inPtr, inLen, outPtr uint32) error {
	if err := env.charge(env.config().Sha256Cost(int(inLen))); err != nil {
		return err
	}
	data, err := env.memory().Read(inPtr, inLen)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(data)
	return env.memory().Write(outPtr, digest[:])
}

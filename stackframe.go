package metervm

import "github.com/tetratelabs/wazero/api"

// StackFrame is one level of nested execution, mirroring the reference's
// StackFrame (ret/memory/gas_meter/instance). A fresh frame is pushed for
// every CallContext.Execute and popped on return; nested invocations (a
// guest's host call itself triggering another Execute) push additional
// frames on the same stack.
type StackFrame struct {
	entrypoint string
	meter      *GasMeter
	memory     *Memory
	module     api.Module
}

package metervm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// TestExecuteSucceedsWithAmpleGas covers S1: a well-formed module with an
// ample gas budget runs to completion and reports gas actually spent.
func TestExecuteSucceedsWithAmpleGas(t *testing.T) {
	code := newTestModule().
		withFunc("invoke", instrBody(opI32Const, 0x2A, opDrop)).
		build()

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(1_000_000)
	if err := vm.Execute(context.Background(), code, "invoke", meter); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if meter.Spent() == 0 {
		t.Fatal("expected some gas to be spent")
	}
	if meter.Spent() >= meter.Limit() {
		t.Fatalf("spent %d should stay well under limit %d", meter.Spent(), meter.Limit())
	}
}

// TestExecuteOutOfGas covers S3: a module run under a budget too small to
// cover even the entry block's charge aborts with ErrOutOfGas, and the
// caller's meter reports full exhaustion.
func TestExecuteOutOfGas(t *testing.T) {
	code := newTestModule().
		withFunc("invoke", instrBody(opI32Const, 0x01, opDrop)).
		build()

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(0)
	err := vm.Execute(context.Background(), code, "invoke", meter)
	if !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("Execute error = %v, want ErrOutOfGas", err)
	}
	if meter.Left() != 0 {
		t.Fatalf("Left() = %d after out-of-gas, want 0", meter.Left())
	}
}

// TestExecuteUnknownImportRejected covers the closed-import-set
// requirement: a module importing anything outside the four host calls
// is rejected at load time, not silently ignored.
func TestExecuteUnknownImportRejected(t *testing.T) {
	code := buildModuleWithUnknownImport(t)

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(1_000_000)
	err := vm.Execute(context.Background(), code, "invoke", meter)
	if !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("Execute error = %v, want ErrInvalidModule", err)
	}
}

// TestExecuteMissingEntrypoint covers the export-not-found case: calling
// an entrypoint the module does not export.
func TestExecuteMissingEntrypoint(t *testing.T) {
	code := newTestModule().
		withFunc("invoke", instrBody()).
		build()

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(1_000_000)
	err := vm.Execute(context.Background(), code, "does_not_exist", meter)
	if !errors.Is(err, ErrExportError) {
		t.Fatalf("Execute error = %v, want ErrExportError", err)
	}
}

// TestExecuteDebugHostCall covers the debug() host call: it must run to
// completion (logging is side-effecting only, not observable from here)
// and must still charge gas for the call.
func TestExecuteDebugHostCall(t *testing.T) {
	msg := []byte("hello from guest")
	code := newTestModule().
		withImports(importDebug).
		withData(0, msg).
		withFunc("invoke", instrBody(
			opI32Const, 0x00, // ptr
			opI32Const, byte(len(msg)), // len (fits in one LEB128 byte for this message)
			opCall, 0x00, // call import 0 (debug)
		)).
		build()

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(1_000_000)
	if err := vm.Execute(context.Background(), code, "invoke", meter); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if meter.Spent() < DefaultConfig().Host.Debug {
		t.Fatalf("spent %d should include at least the debug host-call cost", meter.Spent())
	}
}

// TestExecuteDebugHostCallRejectsInvalidUTF8 covers the debug() host
// call's InvalidUtf8 error path: a malformed byte sequence must be
// rejected, not lossily accepted. 0xC0 0x80 is the canonical overlong
// 2-byte encoding of NUL - structurally well-formed continuation bytes,
// but not valid UTF-8 - the case a naive continuation-byte-only validator
// gets wrong.
func TestExecuteDebugHostCallRejectsInvalidUTF8(t *testing.T) {
	bad := []byte{0xC0, 0x80}
	code := newTestModule().
		withImports(importDebug).
		withData(0, bad).
		withFunc("invoke", instrBody(
			opI32Const, 0x00, // ptr
			opI32Const, byte(len(bad)), // len
			opCall, 0x00, // call import 0 (debug)
		)).
		build()

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(1_000_000)
	err := vm.Execute(context.Background(), code, "invoke", meter)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("Execute error = %v, want ErrInvalidUTF8", err)
	}
}

// TestExecuteGasConsumedHostCall covers gas_consumed()/gas_left(): both
// must be callable without the module itself tripping an out-of-gas
// error before returning.
func TestExecuteGasConsumedHostCall(t *testing.T) {
	code := newTestModule().
		withImports(importGasConsumed, importGasLeft).
		withFunc("invoke", instrBody(
			opCall, 0x00, // gas_consumed -> i64
			opDrop,
			opCall, 0x01, // gas_left -> i64
			opDrop,
		)).
		build()

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(1_000_000)
	if err := vm.Execute(context.Background(), code, "invoke", meter); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

// TestExecuteUnreachableTrap covers S5: a guest that executes `unreachable`
// must surface as a trap from this package's closed taxonomy (ErrTrap),
// not fall through to the generic ErrRuntimeError catch-all.
func TestExecuteUnreachableTrap(t *testing.T) {
	code := newTestModule().
		withFunc("invoke", instrBody(opUnreachable)).
		build()

	vm := New()
	defer vm.Close(context.Background())

	meter := NewGasMeter(1_000_000)
	err := vm.Execute(context.Background(), code, "invoke", meter)
	if !errors.Is(err, ErrTrap) {
		t.Fatalf("Execute error = %v, want ErrTrap", err)
	}
	var te *TrapError
	if !errors.As(err, &te) {
		t.Fatalf("Execute error = %v, want *TrapError", err)
	}
	if !strings.Contains(te.Code, "unreachable") {
		t.Fatalf("TrapError.Code = %q, want it to mention unreachable", te.Code)
	}
}

// buildModuleWithUnknownImport hand-assembles a module that imports
// "env"."not_a_real_host_call", which must be rejected at compile time.
func buildModuleWithUnknownImport(t *testing.T) []byte {
	t.Helper()

	typeSec := appendULEB128(nil, 1)
	typeSec = append(typeSec, encodeFuncType(nil, nil)...)

	importSec := appendULEB128(nil, 1)
	importSec = append(importSec, byte(len("env")))
	importSec = append(importSec, "env"...)
	name := "not_a_real_host_call"
	importSec = append(importSec, byte(len(name)))
	importSec = append(importSec, name...)
	importSec = append(importSec, importKindFunc)
	importSec = appendULEB128(importSec, 0)

	funcSec := appendULEB128(nil, 1)
	funcSec = appendULEB128(funcSec, 0)

	exportSec := appendULEB128(nil, 1)
	exportName := "__vm_invoke"
	exportSec = append(exportSec, byte(len(exportName)))
	exportSec = append(exportSec, exportName...)
	exportSec = append(exportSec, 0x00)
	exportSec = appendULEB128(exportSec, 1) // index 1: first (and only) defined func

	codeSec := appendULEB128(nil, 1)
	body := []byte{0x00, opEnd}
	codeSec = appendULEB128(codeSec, uint32(len(body)))
	codeSec = append(codeSec, body...)

	return encodeModule([]wasmSection{
		{id: secType, data: typeSec},
		{id: secImport, data: importSec},
		{id: secFunction, data: funcSec},
		{id: secExport, data: exportSec},
		{id: secCode, data: codeSec},
	})
}

package metervm

import "testing"

func TestInstrumentAddsMeteringImportAndType(t *testing.T) {
	raw := newTestModule().
		withFunc("invoke", instrBody(opI32Const, 0x01, opDrop)).
		build()

	cfg := DefaultConfig()
	out, err := instrument(raw, cfg)
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}

	sections, importedFuncCount, err := parseModule(out)
	if err != nil {
		t.Fatalf("parseModule(instrumented): %v", err)
	}
	if importedFuncCount != 1 {
		t.Fatalf("importedFuncCount = %d, want 1 (the injected metering import)", importedFuncCount)
	}

	importData := findSection(sections, secImport)
	count, n, err := decodeULEB128(importData)
	if err != nil || count != 1 {
		t.Fatalf("import section should have exactly 1 entry, got count=%d err=%v", count, err)
	}
	_ = n

	typeData := findSection(sections, secType)
	typeCount, _, err := decodeULEB128(typeData)
	if err != nil {
		t.Fatalf("decode type count: %v", err)
	}
	// Original minimal module has 1 type (() -> ()); instrumentation adds
	// exactly one more for the charge function.
	if typeCount != 2 {
		t.Fatalf("typeCount = %d, want 2", typeCount)
	}
}

func TestInstrumentKeepsExistingImports(t *testing.T) {
	raw := newTestModule().
		withImports(importDebug).
		withFunc("invoke", instrBody(opI32Const, 0x00, opI32Const, 0x00, opCall, 0x00, opDrop)).
		build()

	cfg := DefaultConfig()
	out, err := instrument(raw, cfg)
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}

	sections, importedFuncCount, err := parseModule(out)
	if err != nil {
		t.Fatalf("parseModule: %v", err)
	}
	// One pre-existing "env.debug" import plus the injected metering
	// import.
	if importedFuncCount != 2 {
		t.Fatalf("importedFuncCount = %d, want 2", importedFuncCount)
	}
	if findSection(sections, secCode) == nil {
		t.Fatal("code section missing after instrumentation")
	}
}

func TestInstrumentModuleWithoutFunctions(t *testing.T) {
	// A module with imports but no defined functions: the builder still
	// emits a Code section with zero bodies, so instrumentation runs over
	// it and has nothing to meter.
	raw := newTestModule().withImports(importDebug).build()
	// Strip the (empty) function/code sections the builder always emits
	// by building directly would be more work than it's worth; instead
	// just confirm a round trip through instrument succeeds without error
	// even in the degenerate all-empty-functions case.
	cfg := DefaultConfig()
	if _, err := instrument(raw, cfg); err != nil {
		t.Fatalf("instrument on empty-bodied module: %v", err)
	}
}

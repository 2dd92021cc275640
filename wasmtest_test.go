package metervm

// Hand-assembled WASM module builder used across this package's tests.
// There is no Rust toolchain in this repo to compile a real guest with,
// so tests build the same binary shape the reference's build-side
// bindgen step would produce directly, the way the reference's own
// BuildMinimalWasm/BuildEngineWasm test helpers do.

type testImport int

const (
	importDebug testImport = iota
	importGasConsumed
	importGasLeft
	importSha256
)

var testImportSig = map[testImport]struct {
	module, name string
	params       []byte // wasm valtype bytes
	results      []byte
}{
	importDebug:       {"env", "debug", []byte{0x7F, 0x7F}, nil},
	importGasConsumed: {"env", "gas_consumed", nil, []byte{0x7E}},
	importGasLeft:     {"env", "gas_left", nil, []byte{0x7E}},
	importSha256:      {"env", "sha256", []byte{0x7F, 0x7F, 0x7F}, nil},
}

// testModuleBuilder assembles a minimal valid module: zero or more host
// imports, one memory, and one or more zero-arg/zero-result exported
// functions named "__vm_"+export, whose bodies are supplied raw (already
// ending in 0x0B/end).
type testModuleBuilder struct {
	imports     []testImport
	memoryPages uint32
	funcs       []testFunc
	dataOffset  uint32
	data        []byte
	hasData     bool
}

type testFunc struct {
	export string
	body   []byte // instructions only, no locals header, must end in opEnd
}

func newTestModule() *testModuleBuilder {
	return &testModuleBuilder{memoryPages: 1}
}

func (b *testModuleBuilder) withImports(imps ...testImport) *testModuleBuilder {
	b.imports = imps
	return b
}

func (b *testModuleBuilder) withData(offset uint32, data []byte) *testModuleBuilder {
	b.dataOffset = offset
	b.data = data
	b.hasData = true
	return b
}

func (b *testModuleBuilder) withFunc(export string, body []byte) *testModuleBuilder {
	b.funcs = append(b.funcs, testFunc{export: export, body: body})
	return b
}

func (b *testModuleBuilder) build() []byte {
	// Type table: type 0 is always () -> (), used by every defined
	// function. Import types follow, one per import in import order, not
	// deduplicated even when two imports share a signature.
	var types [][]byte
	types = append(types, encodeFuncType(nil, nil)) // type 0: () -> ()
	importTypeIdx := make([]uint32, len(b.imports))
	for i, imp := range b.imports {
		sig := testImportSig[imp]
		importTypeIdx[i] = uint32(len(types))
		types = append(types, encodeFuncType(sig.params, sig.results))
	}

	var typeSec []byte
	typeSec = appendULEB128(typeSec, uint32(len(types)))
	for _, t := range types {
		typeSec = append(typeSec, t...)
	}

	var importSec []byte
	importSec = appendULEB128(importSec, uint32(len(b.imports)))
	for i, imp := range b.imports {
		sig := testImportSig[imp]
		importSec = append(importSec, byte(len(sig.module)))
		importSec = append(importSec, sig.module...)
		importSec = append(importSec, byte(len(sig.name)))
		importSec = append(importSec, sig.name...)
		importSec = append(importSec, importKindFunc)
		importSec = appendULEB128(importSec, importTypeIdx[i])
	}

	funcSec := appendULEB128(nil, uint32(len(b.funcs)))
	for range b.funcs {
		funcSec = appendULEB128(funcSec, 0) // type 0
	}

	memSec := appendULEB128(nil, 1)
	memSec = append(memSec, 0x00) // flags: no max
	memSec = appendULEB128(memSec, b.memoryPages)

	var exportSec []byte
	numExports := len(b.funcs)
	if b.memoryPages > 0 {
		numExports++
	}
	exportSec = appendULEB128(exportSec, uint32(numExports))
	importedFuncCount := uint32(len(b.imports))
	for i, f := range b.funcs {
		name := "__vm_" + f.export
		exportSec = append(exportSec, byte(len(name)))
		exportSec = append(exportSec, name...)
		exportSec = append(exportSec, 0x00) // func kind
		exportSec = appendULEB128(exportSec, importedFuncCount+uint32(i))
	}
	if b.memoryPages > 0 {
		exportSec = append(exportSec, byte(len("memory")))
		exportSec = append(exportSec, "memory"...)
		exportSec = append(exportSec, 0x02) // memory kind
		exportSec = appendULEB128(exportSec, 0)
	}

	codeSec := appendULEB128(nil, uint32(len(b.funcs)))
	for _, f := range b.funcs {
		body := append([]byte{0x00}, f.body...) // 0 local decl groups
		codeSec = appendULEB128(codeSec, uint32(len(body)))
		codeSec = append(codeSec, body...)
	}

	sections := []wasmSection{
		{id: secType, data: typeSec},
		{id: secImport, data: importSec},
		{id: secFunction, data: funcSec},
		{id: secMemory, data: memSec},
		{id: secExport, data: exportSec},
		{id: secCode, data: codeSec},
	}
	if b.hasData {
		var dataSec []byte
		dataSec = appendULEB128(dataSec, 1) // one data segment
		dataSec = appendULEB128(dataSec, 0) // memory index 0
		dataSec = append(dataSec, opI32Const)
		dataSec = appendSLEB128(dataSec, int64(b.dataOffset))
		dataSec = append(dataSec, opEnd)
		dataSec = appendULEB128(dataSec, uint32(len(b.data)))
		dataSec = append(dataSec, b.data...)
		sections = append(sections, wasmSection{id: secData, data: dataSec})
	}
	return encodeModule(sections)
}

func encodeFuncType(params, results []byte) []byte {
	out := []byte{0x60}
	out = appendULEB128(out, uint32(len(params)))
	out = append(out, params...)
	out = appendULEB128(out, uint32(len(results)))
	out = append(out, results...)
	return out
}

// instrBody is a convenience for assembling a raw instruction sequence
// ending in opEnd.
func instrBody(b ...byte) []byte {
	return append(b, opEnd)
}

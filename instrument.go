package metervm

import "encoding/binary"

// Wasm binary format constants, following the reference's own
// ewasm_jit.go naming for the magic/section layout this pass walks.
const (
	wasmMagic   uint32 = 0x6D736100 // "\0asm" little-endian
	wasmVersion uint32 = 1
)

const (
	secCustom   byte = 0
	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secTable    byte = 4
	secMemory   byte = 5
	secGlobal   byte = 6
	secExport   byte = 7
	secStart    byte = 8
	secElement  byte = 9
	secCode     byte = 10
	secData     byte = 11
)

const (
	importKindFunc   byte = 0
	importKindTable  byte = 1
	importKindMemory byte = 2
	importKindGlobal byte = 3
)

// meteringModuleName and meteringFuncName identify the reserved host
// import the instrumentation pass injects calls to. This namespace is
// reserved: a guest module that itself declares an import under it is
// rejected at load time by the resolver (4.4), since it would otherwise
// collide with the charge calls this pass injects.
const (
	meteringModuleName = "metering"
	meteringFuncName   = "charge"
)

// wasmSection is a single parsed top-level section, verbatim bytes kept
// for every section this pass does not itself rewrite.
type wasmSection struct {
	id   byte
	data []byte
}

// instrument runs the metering injection pass over a raw module, producing
// a new module with:
//   - a new function type (i64) -> () appended to the Type section
//   - a new "metering"."charge" function import appended to the Import section
//   - every module-defined function's Code section body rewritten so each
//     basic block's accumulated cost is charged by a call placed just
//     before the boundary opcode that ends the block, and every existing
//     call-to-module-function target index bumped
//     by one to account for the newly inserted import.
//
// It never touches guest semantics: it only adds charge calls and shifts
// indices to make room for them, mirroring what wasmer-middlewares'
// Metering does at the wasmer compiler-middleware layer, just performed as
// an explicit bytecode-to-bytecode rewrite ahead of wazero's own compile
// step since wazero has no middleware hook of its own.
func instrument(raw []byte, cfg *Config) ([]byte, error) {
	sections, importedFuncCount, err := parseModule(raw)
	if err != nil {
		return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
	}

	var typeSec, codeSec *wasmSection
	for i := range sections {
		switch sections[i].id {
		case secType:
			typeSec = &sections[i]
		case secCode:
			codeSec = &sections[i]
		}
	}
	if codeSec == nil {
		// A module with no code section has nothing to meter; pass it
		// through unchanged (still subject to the resolver's import checks).
		return raw, nil
	}

	newTypeIdx, newTypeData := appendChargeFuncType(typeSec)
	sections = replaceOrInsertSection(sections, secType, newTypeData)

	newImportData := appendMeteringImport(findSection(sections, secImport), newTypeIdx)
	sections = replaceOrInsertSection(sections, secImport, newImportData)

	meteringFuncIdx := importedFuncCount

	newCode, err := instrumentCodeSection(codeSec.data, importedFuncCount, meteringFuncIdx, cfg)
	if err != nil {
		return nil, err
	}
	for i := range sections {
		if sections[i].id == secCode {
			sections[i].data = newCode
		}
	}

	return encodeModule(sections), nil
}

func findSection(sections []wasmSection, id byte) []byte {
	for _, s := range sections {
		if s.id == id {
			return s.data
		}
	}
	return nil
}

func replaceOrInsertSection(sections []wasmSection, id byte, data []byte) []wasmSection {
	for i := range sections {
		if sections[i].id == id {
			sections[i].data = data
			return sections
		}
	}
	// Insert in the module's canonical section order (by id, ascending),
	// which is where a well-formed module would carry it anyway.
	out := make([]wasmSection, 0, len(sections)+1)
	inserted := false
	for _, s := range sections {
		if !inserted && s.id > id {
			out = append(out, wasmSection{id: id, data: data})
			inserted = true
		}
		out = append(out, s)
	}
	if !inserted {
		out = append(out, wasmSection{id: id, data: data})
	}
	return out
}

// parseModule decodes the header and top-level sections, and counts
// func-kind imports so callers can compute the function index space.
func parseModule(raw []byte) ([]wasmSection, uint32, error) {
	if len(raw) < 8 {
		return nil, 0, errWasmTooShort
	}
	magic := binary.LittleEndian.Uint32(raw[0:4])
	version := binary.LittleEndian.Uint32(raw[4:8])
	if magic != wasmMagic {
		return nil, 0, errWasmBadMagic
	}
	if version != wasmVersion {
		return nil, 0, errWasmBadVersion
	}

	var sections []wasmSection
	offset := 8
	for offset < len(raw) {
		id := raw[offset]
		offset++
		size, n, err := decodeULEB128(raw[offset:])
		if err != nil {
			return nil, 0, errWasmBadSection
		}
		offset += n
		if offset+int(size) > len(raw) {
			return nil, 0, errWasmSectionTooLong
		}
		data := make([]byte, size)
		copy(data, raw[offset:offset+int(size)])
		sections = append(sections, wasmSection{id: id, data: data})
		offset += int(size)
	}

	importedFuncCount := countImportedFuncs(findSection(sections, secImport))
	return sections, importedFuncCount, nil
}

func encodeModule(sections []wasmSection) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], wasmMagic)
	binary.LittleEndian.PutUint32(buf[4:8], wasmVersion)
	for _, s := range sections {
		buf = append(buf, s.id)
		buf = appendULEB128(buf, uint32(len(s.data)))
		buf = append(buf, s.data...)
	}
	return buf
}

// countImportedFuncs parses an import section and counts func-kind
// entries, the prefix of the function index space before any
// module-defined function.
func countImportedFuncs(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	count, n, err := decodeULEB128(data)
	if err != nil {
		return 0
	}
	offset := n
	var funcs uint32
	for i := uint32(0); i < count && offset < len(data); i++ {
		modLen, n2, err2 := decodeULEB128(data[offset:])
		if err2 != nil {
			return funcs
		}
		offset += n2 + int(modLen)
		if offset >= len(data) {
			return funcs
		}
		nameLen, n3, err3 := decodeULEB128(data[offset:])
		if err3 != nil {
			return funcs
		}
		offset += n3 + int(nameLen)
		if offset >= len(data) {
			return funcs
		}
		kind := data[offset]
		offset++
		switch kind {
		case importKindFunc:
			funcs++
			_, n4, _ := decodeULEB128(data[offset:])
			offset += n4
		case importKindTable:
			offset++ // elem type; the table's limits follow
			offset = skipLimits(data, offset)
		case importKindMemory:
			offset = skipLimits(data, offset)
		case importKindGlobal:
			offset += 1 + 1 // valtype + mutability
		}
	}
	return funcs
}

func skipLimits(data []byte, offset int) int {
	if offset >= len(data) {
		return offset
	}
	flags := data[offset]
	offset++
	_, n, _ := decodeULEB128(data[offset:])
	offset += n
	if flags&0x01 != 0 {
		_, n2, _ := decodeULEB128(data[offset:])
		offset += n2
	}
	return offset
}

// appendChargeFuncType appends a (i64) -> () function type (the charge
// function takes one i64 cost operand and returns nothing) and returns its
// index plus the rewritten Type section bytes.
func appendChargeFuncType(typeSec *wasmSection) (uint32, []byte) {
	var data []byte
	var count uint32
	if typeSec != nil {
		var n int
		var err error
		count, n, err = decodeULEB128(typeSec.data)
		if err == nil {
			data = append(data, typeSec.data[n:]...)
		}
	}
	data = append(data, 0x60, 0x01, 0x7E, 0x00) // form=func, 1 param i64, 0 results
	out := appendULEB128(nil, count+1)
	out = append(out, data...)
	return count, out
}

// appendMeteringImport appends the metering.charge import entry to the
// Import section, referencing typeIdx.
func appendMeteringImport(importData []byte, typeIdx uint32) []byte {
	var body []byte
	var count uint32
	if importData != nil {
		var n int
		var err error
		count, n, err = decodeULEB128(importData)
		if err == nil {
			body = append(body, importData[n:]...)
		}
	}
	body = append(body, byte(len(meteringModuleName)))
	body = append(body, meteringModuleName...)
	body = append(body, byte(len(meteringFuncName)))
	body = append(body, meteringFuncName...)
	body = append(body, importKindFunc)
	body = appendULEB128(body, typeIdx)

	out := appendULEB128(nil, count+1)
	out = append(out, body...)
	return out
}

// instrumentCodeSection rewrites every function body in the Code section,
// injecting a charge call at the start of the function and before every
// basic-block boundary instruction, and shifting every existing call
// target that refers to a module-defined function by one (to account for
// the new import appended after the existing ones).
func instrumentCodeSection(data []byte, importedFuncCount, meteringFuncIdx uint32, cfg *Config) ([]byte, error) {
	count, n, err := decodeULEB128(data)
	if err != nil {
		return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
	}
	offset := n
	out := appendULEB128(nil, count)

	for f := uint32(0); f < count; f++ {
		if offset >= len(data) {
			return nil, &InstrumentationError{Kind: InvalidByteCode}
		}
		bodySize, n2, err := decodeULEB128(data[offset:])
		if err != nil {
			return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
		}
		offset += n2
		if offset+int(bodySize) > len(data) {
			return nil, &InstrumentationError{Kind: InvalidByteCode}
		}
		body := data[offset : offset+int(bodySize)]
		offset += int(bodySize)

		newBody, err := instrumentFuncBody(body, importedFuncCount, meteringFuncIdx, cfg)
		if err != nil {
			return nil, err
		}
		out = appendULEB128(out, uint32(len(newBody)))
		out = append(out, newBody...)
	}
	return out, nil
}

// instrumentFuncBody rewrites one function body: locals declarations are
// copied unchanged, then the instruction stream is scanned, accumulating
// the cost of every instruction since the last charge (the boundary opcode
// itself included) and emitting `i64.const <cost>` +
// `call $metering.charge` immediately before the function's first
// instruction (charging that instruction alone) and before every
// subsequent boundary opcode. A charge site is emitted even when its cost
// is zero, so a module instrumented with metering disabled has the same
// call sites as a metered one.
func instrumentFuncBody(body []byte, importedFuncCount, meteringFuncIdx uint32, cfg *Config) ([]byte, error) {
	localDeclCount, n, err := decodeULEB128(body)
	if err != nil {
		return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
	}
	offset := n
	for i := uint32(0); i < localDeclCount; i++ {
		_, n2, err := decodeULEB128(body[offset:])
		if err != nil {
			return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
		}
		offset += n2 + 1 // count + valtype byte
	}

	out := append([]byte(nil), body[:offset]...)

	var pending uint64
	emitCharge := func() {
		out = append(out, opI64Const)
		out = appendSLEB128(out, int64(pending))
		out = append(out, opCall)
		out = appendULEB128(out, meteringFuncIdx)
		pending = 0
	}
	// The first instruction is charged on its own, before it runs, so a
	// function is charged on entry even when its body is only `end`.
	firstInstr := true

	for offset < len(body) {
		op := body[offset]
		instrStart := offset
		offset++

		pending += opcodeCost(cfg, op)
		if firstInstr || isBlockBoundary(op) {
			emitCharge()
			firstInstr = false
		}

		switch op {
		case opBlock, opLoop, opIf:
			_, n2, err := decodeSLEB128(body[offset:]) // blocktype (s33, treated as sleb here)
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
		case opBr, opBrIf:
			_, n2, err := decodeULEB128(body[offset:])
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
		case opBrTable:
			cnt, n2, err := decodeULEB128(body[offset:])
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
			for i := uint32(0); i <= cnt; i++ {
				_, n3, err := decodeULEB128(body[offset:])
				if err != nil {
					return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
				}
				offset += n3
			}
		case opCall:
			target, n2, err := decodeULEB128(body[offset:])
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
			if target >= importedFuncCount {
				target++ // shift past the newly inserted metering import
			}
			out = append(out, body[instrStart+1:offset-n2]...)
			out = appendULEB128(out, target)
			continue
		case opCallIndirect:
			_, n2, err := decodeULEB128(body[offset:]) // type index
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
			_, n3, err := decodeULEB128(body[offset:]) // table index
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n3
		case opLocalGet, opLocalSet, opLocalTee, opGlobalGet, opGlobalSet:
			_, n2, err := decodeULEB128(body[offset:])
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
		case opI32Load, opI64Load, opF32Load, opF64Load,
			opI32Load8S, opI32Load8U, opI32Load16S, opI32Load16U,
			opI64Load8S, opI64Load8U, opI64Load16S, opI64Load16U, opI64Load32S, opI64Load32U,
			opI32Store, opI64Store, opF32Store, opF64Store,
			opI32Store8, opI32Store16, opI64Store8, opI64Store16, opI64Store32:
			_, n2, err := decodeULEB128(body[offset:]) // align
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
			_, n3, err := decodeULEB128(body[offset:]) // offset
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n3
		case opMemorySize, opMemoryGrow:
			offset++ // reserved byte
		case opI32Const:
			_, n2, err := decodeSLEB128(body[offset:])
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
		case opI64Const:
			_, n2, err := decodeSLEB128(body[offset:])
			if err != nil {
				return nil, &InstrumentationError{Kind: InvalidByteCode, Err: err}
			}
			offset += n2
		case opF32Const:
			offset += 4
		case opF64Const:
			offset += 8
		}

		out = append(out, body[instrStart:offset]...)
	}
	return out, nil
}

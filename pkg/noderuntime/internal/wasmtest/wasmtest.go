// Package wasmtest assembles minimal core WASM binaries for tests: modules
// whose exports return constants and whose data segments carry fixed JSON
// payloads. Section sizes and LEB128 immediates are computed, not hand
// counted, so test modules stay valid as they grow.
package wasmtest

import "encoding/binary"

const (
	secType   = 1
	secImport = 2
	secFunc   = 3
	secMemory = 5
	secExport = 7
	secCode   = 10
	secData   = 11
)

// Fixed function-type table shared by every built module. Unused entries are
// harmless; indices stay stable for callers.
const (
	// TypeI64 is () -> i64.
	TypeI64 = 0
	// TypeRun is (i32, i32) -> i64.
	TypeRun = 1
	// TypeI32 is () -> i32.
	TypeI32 = 2
	// TypeAlloc is (i32) -> i32.
	TypeAlloc = 3
	// TypeDealloc is (i32, i32) -> ().
	TypeDealloc = 4
	// TypeVoid is () -> ().
	TypeVoid = 5
)

type fn struct {
	name    string
	typeIdx int
	body    []byte // instructions, without the trailing end opcode
}

type dataSeg struct {
	offset uint32
	bytes  []byte
}

type imp struct {
	module  string
	name    string
	typeIdx int
}

// Builder accumulates functions, imports, and data segments, then emits a
// complete core module. Every built module declares one linear memory of one
// page (no max) and exports it as "memory" unless SkipMemory is set.
type Builder struct {
	funcs      []fn
	data       []dataSeg
	imports    []imp
	SkipMemory bool
}

// New returns an empty Builder.
func New() *Builder { return &Builder{} }

// PackPtrLen encodes the ptr/len success convention used by the ABI.
func PackPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// WrapComponent wraps a core module in a Component Model envelope the way
// componentizing toolchains do: the component preamble followed by a
// core-module section carrying the module verbatim.
func WrapComponent(core []byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
	out = append(out, 0x01) // core-module section
	out = append(out, uleb128(uint64(len(core)))...)
	return append(out, core...)
}

// EmptyComponent returns a component binary with no embedded core module.
func EmptyComponent() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
}

// AddImport declares one imported function; imported functions occupy the
// low function indices, so call instructions in local bodies must account
// for them.
func (b *Builder) AddImport(module, name string, typeIdx int) {
	b.imports = append(b.imports, imp{module: module, name: name, typeIdx: typeIdx})
}

// AddI64Func adds an exported () -> i64 function returning value.
func (b *Builder) AddI64Func(name string, value uint64) {
	b.funcs = append(b.funcs, fn{name: name, typeIdx: TypeI64, body: append([]byte{0x42}, sleb128(int64(value))...)})
}

// AddI32Func adds an exported () -> i32 function returning value.
func (b *Builder) AddI32Func(name string, value int32) {
	b.funcs = append(b.funcs, fn{name: name, typeIdx: TypeI32, body: append([]byte{0x41}, sleb128(int64(value))...)})
}

// AddRunFunc adds an exported (i32, i32) -> i64 function that ignores its
// arguments and returns value.
func (b *Builder) AddRunFunc(name string, value uint64) {
	b.funcs = append(b.funcs, fn{name: name, typeIdx: TypeRun, body: append([]byte{0x42}, sleb128(int64(value))...)})
}

// AddRunUnreachable adds an exported (i32, i32) -> i64 function whose body
// traps immediately.
func (b *Builder) AddRunUnreachable(name string) {
	b.funcs = append(b.funcs, fn{name: name, typeIdx: TypeRun, body: []byte{0x00}})
}

// AddAllocFunc adds an exported (i32) -> i32 allocator stub returning ptr.
func (b *Builder) AddAllocFunc(name string, ptr int32) {
	b.funcs = append(b.funcs, fn{name: name, typeIdx: TypeAlloc, body: append([]byte{0x41}, sleb128(int64(ptr))...)})
}

// AddDeallocFunc adds an exported (i32, i32) -> () no-op.
func (b *Builder) AddDeallocFunc(name string) {
	b.funcs = append(b.funcs, fn{name: name, typeIdx: TypeDealloc, body: nil})
}

// AddVoidFunc adds an exported () -> () function; with trap set its body is
// a single unreachable instruction, otherwise it is a no-op.
func (b *Builder) AddVoidFunc(name string, trap bool) {
	var body []byte
	if trap {
		body = []byte{0x00}
	}
	b.funcs = append(b.funcs, fn{name: name, typeIdx: TypeVoid, body: body})
}

// AddData places bytes at offset in the module's linear memory.
func (b *Builder) AddData(offset uint32, bytes []byte) {
	b.data = append(b.data, dataSeg{offset: offset, bytes: bytes})
}

// Build emits the module bytes.
func (b *Builder) Build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D}
	out = binary.LittleEndian.AppendUint32(out, 1)

	// Type section: the fixed six-entry table.
	types := uleb128(6)
	types = append(types, 0x60, 0x00, 0x01, 0x7E)             // () -> i64
	types = append(types, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7E) // (i32,i32) -> i64
	types = append(types, 0x60, 0x00, 0x01, 0x7F)             // () -> i32
	types = append(types, 0x60, 0x01, 0x7F, 0x01, 0x7F)       // (i32) -> i32
	types = append(types, 0x60, 0x02, 0x7F, 0x7F, 0x00)       // (i32,i32) -> ()
	types = append(types, 0x60, 0x00, 0x00)                   // () -> ()
	out = appendSection(out, secType, types)

	if len(b.imports) > 0 {
		imports := uleb128(uint64(len(b.imports)))
		for _, im := range b.imports {
			imports = append(imports, name(im.module)...)
			imports = append(imports, name(im.name)...)
			imports = append(imports, 0x00) // func import
			imports = append(imports, uleb128(uint64(im.typeIdx))...)
		}
		out = appendSection(out, secImport, imports)
	}

	if len(b.funcs) > 0 {
		funcSec := uleb128(uint64(len(b.funcs)))
		for _, f := range b.funcs {
			funcSec = append(funcSec, uleb128(uint64(f.typeIdx))...)
		}
		out = appendSection(out, secFunc, funcSec)
	}

	if !b.SkipMemory {
		out = appendSection(out, secMemory, []byte{0x01, 0x00, 0x01}) // one memory, min 1 page, no max
	}

	exportCount := len(b.funcs)
	if !b.SkipMemory {
		exportCount++
	}
	exports := uleb128(uint64(exportCount))
	if !b.SkipMemory {
		exports = append(exports, name("memory")...)
		exports = append(exports, 0x02, 0x00)
	}
	for i, f := range b.funcs {
		exports = append(exports, name(f.name)...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb128(uint64(len(b.imports)+i))...)
	}
	out = appendSection(out, secExport, exports)

	if len(b.funcs) > 0 {
		code := uleb128(uint64(len(b.funcs)))
		for _, f := range b.funcs {
			body := []byte{0x00} // no locals
			body = append(body, f.body...)
			body = append(body, 0x0B)
			code = append(code, uleb128(uint64(len(body)))...)
			code = append(code, body...)
		}
		out = appendSection(out, secCode, code)
	}

	if len(b.data) > 0 {
		data := uleb128(uint64(len(b.data)))
		for _, seg := range b.data {
			data = append(data, 0x00) // active, memory 0
			data = append(data, 0x41)
			data = append(data, sleb128(int64(seg.offset))...)
			data = append(data, 0x0B)
			data = append(data, uleb128(uint64(len(seg.bytes)))...)
			data = append(data, seg.bytes...)
		}
		out = appendSection(out, secData, data)
	}

	return out
}

func appendSection(out []byte, id byte, contents []byte) []byte {
	out = append(out, id)
	out = append(out, uleb128(uint64(len(contents)))...)
	return append(out, contents...)
}

func name(s string) []byte {
	out := uleb128(uint64(len(s)))
	return append(out, s...)
}

func uleb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb128(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		signBit := b&0x40 != 0
		if (v == 0 && !signBit) || (v == -1 && signBit) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

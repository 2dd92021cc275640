package metervm

import (
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

// Memory is a bounds-checked view over a guest instance's linear memory.
// It never returns a slice aliasing the live guest memory: every Read
// copies into a caller-owned buffer before returning, so a host operation
// that triggers memory.grow after reading (e.g. sha256 hashing a borrowed
// region, then writing the digest) never observes memory relocated out
// from under it. This resolves the reference's own open question about
// growth during a borrowed read by always copying rather than re-resolving
// the pointer.
type Memory struct {
	mem api.Memory
}

func newMemory(mem api.Memory) *Memory {
	return &Memory{mem: mem}
}

// Read copies length bytes starting at ptr into a new buffer. Returns
// ErrInvalidData if the range is out of bounds.
func (m *Memory) Read(ptr, length uint32) ([]byte, error) {
	buf, ok := m.mem.Read(ptr, length)
	if !ok {
		return nil, wrapf(ErrInvalidData, "memory read out of bounds: ptr=%d len=%d", ptr, length)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// Write copies data into guest memory at ptr. Returns ErrInvalidData if
// the range is out of bounds.
func (m *Memory) Write(ptr uint32, data []byte) error {
	if !m.mem.Write(ptr, data) {
		return wrapf(ErrInvalidData, "memory write out of bounds: ptr=%d len=%d", ptr, len(data))
	}
	return nil
}

// ReadString reads length bytes at ptr and validates them as UTF-8,
// mapping to ErrInvalidUTF8 on failure, matching the reference's debug
// host call which rejects non-UTF-8 guest strings rather than lossily
// converting them.
func (m *Memory) ReadString(ptr, length uint32) (string, error) {
	buf, err := m.Read(ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}

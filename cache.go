package metervm

import (
	"container/list"
	"sync"

	"github.com/tetratelabs/wazero"
	"golang.org/x/crypto/sha3"
)

// moduleHash is a content hash of raw, uninstrumented module bytes, used
// as the compile cache key. Keccak-256 is used rather than sha256 to
// match the hashing idiom the corpus's own module-hash-as-cache-key code
// uses elsewhere (core/vm/ewasm_jit.go's wasmHash, crypto/keccak.go).
type moduleHash [32]byte

func hashModule(code []byte) moduleHash {
	var h moduleHash
	d := sha3.NewLegacyKeccak256()
	d.Write(code)
	d.Sum(h[:0])
	return h
}

// compileCache is a thread-safe LRU cache from module hash to an
// already-instrumented, already-wazero-compiled module, avoiding
// re-running the metering instrumentation pass and wazero's own compile
// step for bytecode this process has already seen. Modeled directly on
// the corpus's own JITCache (core/vm/ewasm_jit.go), generalized from a
// types.Hash key to this package's own moduleHash and from the corpus's
// simulated WasmModule entries to real wazero.CompiledModule values.
type compileCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[moduleHash]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	hash     moduleHash
	compiled wazero.CompiledModule
}

func newCompileCache(capacity int) *compileCache {
	if capacity <= 0 {
		capacity = 32
	}
	return &compileCache{
		capacity: capacity,
		entries:  make(map[moduleHash]*list.Element),
		order:    list.New(),
	}
}

func (c *compileCache) get(hash moduleHash) (wazero.CompiledModule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).compiled, true
}

func (c *compileCache) put(hash moduleHash, compiled wazero.CompiledModule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[hash]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheEntry).compiled = compiled
		return
	}
	el := c.order.PushFront(&cacheEntry{hash: hash, compiled: compiled})
	c.entries[hash] = el
	if c.order.Len() > c.capacity {
		c.evictLRU()
	}
}

func (c *compileCache) evictLRU() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, entry.hash)
}

func (c *compileCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

package scripting

import (
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// CacheStats describes bytecode cache activity.
type CacheStats struct {
	Hits     int // lookups served from the cache, including cached failures
	Misses   int // compiler invocations
	Failures int // keys cached as compile failures
	Entries  int
}

type cacheEntry struct {
	proto *lua.FunctionProto
	err   *ScriptError
}

// bytecodeCache maps cache keys to compiled functions or to the error
// the compiler returned for them.
type bytecodeCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	hits    int
	misses  int
}

func newBytecodeCache() *bytecodeCache {
	return &bytecodeCache{entries: make(map[string]*cacheEntry)}
}

// get returns the entry for key, compiling code on a miss. The second
// result reports whether the entry was already cached.
func (c *bytecodeCache) get(code, key string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.entries[key]; ok {
		c.hits++
		return ent, true
	}
	c.misses++
	ent := &cacheEntry{}
	ent.proto, ent.err = compile(code, key)
	c.entries[key] = ent
	return ent, false
}

func (c *bytecodeCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

func (c *bytecodeCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
	for _, ent := range c.entries {
		if ent.err != nil {
			st.Failures++
		}
	}
	return st
}

func compile(code, key string) (*lua.FunctionProto, *ScriptError) {
	chunk, err := parse.Parse(strings.NewReader(code), key)
	if err != nil {
		return nil, newError(CompilationFailed, key, err, "parse")
	}
	proto, err := lua.Compile(chunk, key)
	if err != nil {
		return nil, newError(CompilationFailed, key, err, "compile")
	}
	return proto, nil
}

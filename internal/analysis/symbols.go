package analysis

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"stackview/internal/elfx"

	"github.com/ianlancetaylor/demangle"
)

// Function is a function symbol ready for display.
type Function struct {
	elfx.Symbol
	Demangled string
}

// DisplayName returns the demangled name when it differs from the raw one.
func (f Function) DisplayName() string {
	if f.Demangled != "" {
		return f.Demangled
	}
	return f.Name
}

// demangleCache memoizes demangling; it is shared by the TUI's loader
// goroutine and the command handlers.
type demangleCache struct {
	mu    sync.RWMutex
	names map[string]string
	hits  atomic.Int64
}

var cache = &demangleCache{names: make(map[string]string)}

// CachedDemangle performs demangling with caching support.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	if cached, exists := cache.names[mangled]; exists {
		cache.mu.RUnlock()
		cache.hits.Add(1)
		return cached
	}
	cache.mu.RUnlock()

	demangled := demangle.Filter(mangled, demangle.NoClones)

	cache.mu.Lock()
	cache.names[mangled] = demangled
	cache.mu.Unlock()
	return demangled
}

// DemangleCacheStats returns the number of cached names and cache hits.
func DemangleCacheStats() (entries, hits int) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return len(cache.names), int(cache.hits.Load())
}

// ListFunctions returns the image's function symbols sorted by address.
func ListFunctions(img *elfx.Image) []Function {
	out := make([]Function, 0, len(img.Symbols))
	for _, sym := range img.Symbols {
		fn := Function{Symbol: sym}
		if d := CachedDemangle(sym.Name); d != sym.Name {
			fn.Demangled = d
		}
		out = append(out, fn)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// ResolveFunction finds a function by raw name, demangled name or hex
// address ("0x1234").
func ResolveFunction(img *elfx.Image, query string) (Function, bool) {
	if sym, ok := img.FindFunctionByName(query); ok {
		return Function{Symbol: sym, Demangled: demangledOrEmpty(sym.Name)}, true
	}
	if strings.HasPrefix(query, "0x") {
		if va, err := strconv.ParseUint(query[2:], 16, 64); err == nil {
			if sym, ok := img.FunctionAt(va); ok {
				return Function{Symbol: sym, Demangled: demangledOrEmpty(sym.Name)}, true
			}
		}
	}
	for _, fn := range ListFunctions(img) {
		if fn.Demangled == query || strings.TrimSuffix(fn.Demangled, "()") == query {
			return fn, true
		}
	}
	return Function{}, false
}

func demangledOrEmpty(name string) string {
	if d := CachedDemangle(name); d != name {
		return d
	}
	return ""
}

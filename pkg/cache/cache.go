// Package cache memoizes parsed programs so scripts that are run
// repeatedly, or by many contexts at once, are parsed a single time.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/parser"
)

// DefaultCapacity is the number of programs kept by New(0).
const DefaultCapacity = 64

// Key identifies a source text together with the file name its spans
// refer to.
type Key [32]byte

// KeyOf hashes filename and source.
func KeyOf(source, filename string) Key {
	h := blake3.New()
	_, _ = h.WriteString(filename)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(source)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// Cache is a bounded LRU of parsed programs. It is safe for concurrent
// use. Cached programs are shared and must not be mutated.
type Cache struct {
	programs *lru.Cache[Key, *ast.Program]

	hits, misses atomic.Int64
}

// New returns a cache holding up to capacity programs. A capacity of zero
// or less selects DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only fails for a non-positive size.
	programs, _ := lru.New[Key, *ast.Program](capacity)
	return &Cache{programs: programs}
}

// Get returns the program cached under k.
func (c *Cache) Get(k Key) (*ast.Program, bool) {
	prog, ok := c.programs.Get(k)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return prog, true
}

// Put stores program under k, evicting the least recently used entry when
// the cache is full.
func (c *Cache) Put(k Key, program *ast.Program) {
	c.programs.Add(k, program)
}

// Len returns the number of cached programs.
func (c *Cache) Len() int { return c.programs.Len() }

// Clear drops every cached program.
func (c *Cache) Clear() { c.programs.Purge() }

// Stats returns the hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// ParseCached parses source through c. Programs with diagnostics are not
// cached. A nil cache parses directly.
func (c *Cache) ParseCached(source, filename string) (*ast.Program, []diagnostics.Diagnostic) {
	if c == nil {
		return parser.Parse(source, filename)
	}
	k := KeyOf(source, filename)
	if prog, ok := c.Get(k); ok {
		return prog, nil
	}
	prog, diags := parser.Parse(source, filename)
	if len(diags) > 0 {
		return nil, diags
	}
	c.Put(k, prog)
	return prog, nil
}

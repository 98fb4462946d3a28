package testutil

import (
	"fmt"
	"sync"
)

// SeqIDGenerator produces "prefix-1", "prefix-2", ... in order.
//
// Unlike engine.FixedGenerator it never exhausts, which suits scenarios
// that create an unknown number of entities while still producing
// byte-identical golden traces across runs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SeqIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqIDGenerator creates a generator with the given prefix.
// An empty prefix defaults to "id".
func NewSeqIDGenerator(prefix string) *SeqIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SeqIDGenerator{prefix: prefix}
}

// Generate returns the next id in sequence.
func (g *SeqIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

package expressions

import (
	"context"
	"sync"
)

// Engine evaluates expressions against graph data. CEL backs widget
// constraints and Expr backs node predicates. Document queries go through
// GoJQEngine.Query, which streams several outputs.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// maxCachedPrograms bounds each engine's compile cache. Queries come from
// callers, so the set of distinct expressions is open ended.
const maxCachedPrograms = 256

// programCache memoizes compiled programs by expression text. When full it
// starts over rather than tracking recency.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
	limit int
}

func newProgramCache[P any](limit int) *programCache[P] {
	return &programCache[P]{progs: make(map[string]P), limit: limit}
}

// get returns the cached program for expression, compiling it on a miss.
// Failed compilations are not cached.
func (c *programCache[P]) get(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.progs[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.progs[expression]; ok {
		return p, nil
	}
	p, err := compile(expression)
	if err != nil {
		return p, err
	}
	if len(c.progs) >= c.limit {
		c.progs = make(map[string]P)
	}
	c.progs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}

package planar

import (
	"sort"
	"sync"
)

// Calls counts collaborator invocations by method name.
type Calls struct {
	mu sync.Mutex
	n  map[string]int
}

// NewCalls creates an empty counter.
func NewCalls() *Calls {
	return &Calls{n: make(map[string]int)}
}

func (c *Calls) add(method string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.n[method]++
	c.mu.Unlock()
}

// Count returns the calls of one method.
func (c *Calls) Count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[method]
}

// Total returns all calls.
func (c *Calls) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, v := range c.n {
		total += v
	}
	return total
}

// Methods lists the methods called at least once, sorted.
func (c *Calls) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.n))
	for m := range c.n {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Reset clears all counts.
func (c *Calls) Reset() {
	c.mu.Lock()
	clear(c.n)
	c.mu.Unlock()
}

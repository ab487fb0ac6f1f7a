package txflow

import "sync"

// Guard rejects duplicate orchestrations on the same key while one is still
// in flight. Duplicates are refused outright, not queued: the original
// request is still being serviced and joining it would double-notify.
type Guard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{keys: make(map[string]struct{})}
}

// Acquire claims key; false means an operation on it is already running.
func (g *Guard) Acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.keys[key]; busy {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

// Release frees key for the next operation.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
}

package syncer

import (
	"errors"
	"sync"
	"time"
)

// ErrSyncInProgress is returned when a push for the same template is already running.
var ErrSyncInProgress = errors.New("sync already in progress for template")

// InFlight admits at most one push per template id at a time.
type InFlight struct {
	mu     sync.Mutex
	active map[string]time.Time
}

// NewInFlight creates an empty guard.
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]time.Time)}
}

// Acquire claims key. It returns false when key is already held; otherwise
// the returned release func must be called once the push ends.
func (g *InFlight) Acquire(key string) (release func(), ok bool) {
	return g.acquireAt(key, time.Now())
}

// acquireAt is the testable core of Acquire that accepts a "now" parameter.
func (g *InFlight) acquireAt(key string, now time.Time) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.active[key]; held {
		return nil, false
	}
	g.active[key] = now

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, true
}

// Since returns when the push for key started, if one is running.
func (g *InFlight) Since(key string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.active[key]
	return t, ok
}

package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultReplayWindow is how long a confirmed destructive result is reused
// for an identical call.
const DefaultReplayWindow = 10 * time.Minute

// replayGuard deduplicates confirmed destructive calls per connection. A
// duplicate that arrives while the first is still running waits for it and
// shares its result. Only complete successes are remembered, so a failed or
// partially failed call can be retried.
type replayGuard struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	recent map[string]replayEntry
	flight singleflight.Group
}

type replayEntry struct {
	result Result
	at     time.Time
}

func newReplayGuard(window time.Duration, now func() time.Time) *replayGuard {
	return &replayGuard{window: window, now: now, recent: make(map[string]replayEntry)}
}

func replayKey(connectionID, tool string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(connectionID))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// do runs fn unless an identical call succeeded within the window or is in
// flight. The returned bool reports whether the result was replayed. Partial
// results are not remembered.
func (g *replayGuard) do(key string, fn func() (Result, error)) (Result, bool, error) {
	if res, ok := g.lookup(key); ok {
		return res, true, nil
	}

	ran := false
	v, err, _ := g.flight.Do(key, func() (any, error) {
		ran = true
		// A call that finished between the lookup above and this flight
		// has already stored its result.
		if res, ok := g.lookup(key); ok {
			return replayed{res}, nil
		}
		res, err := fn()
		if err == nil && res.Success && !res.partial {
			g.store(key, res)
		}
		return res, err
	})
	if r, ok := v.(replayed); ok {
		return r.Result, true, nil
	}
	return v.(Result), !ran, err
}

type replayed struct{ Result }

func (g *replayGuard) lookup(key string) (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.recent[key]
	if !ok {
		return Result{}, false
	}
	if g.now().Sub(e.at) > g.window {
		delete(g.recent, key)
		return Result{}, false
	}
	return e.result, true
}

func (g *replayGuard) store(key string, res Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, e := range g.recent {
		if now.Sub(e.at) > g.window {
			delete(g.recent, k)
		}
	}
	g.recent[key] = replayEntry{result: res, at: now}
}

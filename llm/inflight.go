package llm

import (
	"context"
	"sync"

	"deskchat/apperr"
)

// InFlight admits at most one stream per key. Keys are chat ids, or negative
// preset ids for preset runs.
type InFlight struct {
	mu     sync.Mutex
	active map[int64]*slot
}

type slot struct {
	cancel context.CancelFunc
}

func NewInFlight() *InFlight {
	return &InFlight{active: make(map[int64]*slot)}
}

// Acquire reserves key and returns a context that is cancelled by Cancel,
// CancelAll or release. A second Acquire for a held key fails with ErrBusy.
func (f *InFlight) Acquire(ctx context.Context, key int64) (context.Context, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.active[key]; ok {
		return nil, nil, apperr.Busy("a response is already being generated here; wait for it or stop it first")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &slot{cancel: cancel}
	f.active[key] = s

	release := func() {
		cancel()
		f.mu.Lock()
		if f.active[key] == s {
			delete(f.active, key)
		}
		f.mu.Unlock()
	}
	return ctx, release, nil
}

// Active reports whether key currently holds a stream.
func (f *InFlight) Active(key int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[key]
	return ok
}

// Cancel stops the stream held under key, if any.
func (f *InFlight) Cancel(key int64) bool {
	f.mu.Lock()
	s, ok := f.active[key]
	f.mu.Unlock()
	if ok {
		s.cancel()
	}
	return ok
}

// CancelAll stops every stream; used on shutdown.
func (f *InFlight) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.active {
		s.cancel()
	}
}

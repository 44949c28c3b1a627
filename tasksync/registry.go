package tasksync

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Registry hands out one Synchronizer per user identity so every caller
// working on behalf of a user shares the same collection.
type Registry struct {
	remote Remote
	log    *log.Logger
	opts   []Option

	mu    sync.Mutex
	syncs map[string]*Synchronizer
}

// NewRegistry creates a Registry whose synchronizers use remote and opts.
func NewRegistry(remote Remote, logger *log.Logger, opts ...Option) *Registry {
	return &Registry{
		remote: remote,
		log:    logger,
		opts:   opts,
		syncs:  map[string]*Synchronizer{},
	}
}

// For returns the user's Synchronizer, loading it from the remote store on
// first use.
func (r *Registry) For(ctx context.Context, userID string) *Synchronizer {
	r.mu.Lock()
	s, ok := r.syncs[userID]
	if !ok {
		s = New(userID, r.remote, r.log, r.opts...)
		r.syncs[userID] = s
	}
	r.mu.Unlock()

	s.EnsureLoaded(ctx)
	return s
}

// Forget drops the cached Synchronizer for userID.
func (r *Registry) Forget(userID string) {
	r.mu.Lock()
	delete(r.syncs, userID)
	r.mu.Unlock()
}

// Len returns the number of live synchronizers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.syncs)
}

package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
	"taskmaster/suggest"
	"taskmaster/tasksync"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents a retried create from producing a second task.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the create fails.
	Remove(ctx context.Context, userID, key string) error
}

// ProgressReader returns a user's progression record.
type ProgressReader interface {
	Stats(ctx context.Context, userID string) (domain.UserStats, error)
}

// ProgressFeed streams a user's progression updates until ctx ends.
type ProgressFeed func(ctx context.Context, userID string) <-chan domain.UserStats

// Deps are the collaborators the handlers need. Deduper and Feed are
// optional.
type Deps struct {
	Auth     Authenticator
	Tasks    *tasksync.Registry
	Progress ProgressReader
	Feed     ProgressFeed
	Advisor  *suggest.Advisor
	Deduper  Deduper
	Log      *log.Logger
	Now      func() time.Time
}

// Package checkpoint persists paused runs between the moment a reviewer
// decision is requested and the moment it is given.
//
// A checkpoint older than the store TTL is expired: Load still returns the
// state, together with ErrExpired, so the caller can resolve it with a
// policy decision (the conversation driver auto-rejects) instead of leaving
// the session blocked forever.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/medmesh/runner"
)

// DefaultTTL bounds how long a paused run waits for a reviewer.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned for an unknown checkpoint id.
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrExpired is returned by Load, alongside the state, for a checkpoint
	// older than the TTL.
	ErrExpired = errors.New("checkpoint: expired")
)

// Store persists run states keyed by run id.
type Store interface {
	Save(ctx context.Context, state *runner.RunState) error
	Load(ctx context.Context, id string) (*runner.RunState, error)
	Delete(ctx context.Context, id string) error
	// List returns the ids of the checkpoints of a session, oldest first.
	List(ctx context.Context, sessionID string) ([]string, error)
	// Prune deletes every expired checkpoint and reports how many it removed.
	Prune(ctx context.Context) (int, error)
}

// Options configures a store.
type Options struct {
	// TTL is the maximum age of a checkpoint; <= 0 disables expiry.
	TTL time.Duration
	// Now is the clock (tests).
	Now func() time.Time
}

func defaultOptions() Options {
	return Options{TTL: DefaultTTL, Now: time.Now}
}

func (o Options) expired(savedAt time.Time) bool {
	return o.TTL > 0 && o.Now().Sub(savedAt) > o.TTL
}

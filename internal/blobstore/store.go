// Package blobstore is the durable named-value substrate the engine persists
// into: each name maps to one string value (JSON blobs in practice), with
// atomic read-modify-write and a per-name change feed.
package blobstore

import (
	"context"
	"errors"
)

// ErrNoChange can be returned from an EditFunc to abort the edit without
// writing or notifying watchers. Edit then returns nil.
var ErrNoChange = errors.New("blobstore: no change")

// EditFunc receives the current value (exists reports whether the name is
// present) and returns the replacement value.
type EditFunc func(current string, exists bool) (string, error)

// Store provides atomic access to named string values. Edits to the same name
// are serialized; different names proceed independently.
type Store interface {
	// Get returns the value for name. The second result is false if the name
	// has never been written or was deleted.
	Get(ctx context.Context, name string) (string, bool, error)

	// Put replaces the value for name.
	Put(ctx context.Context, name, value string) error

	// Edit atomically applies fn to the current value and writes the result.
	Edit(ctx context.Context, name string, fn EditFunc) error

	// Delete removes the value for name. Deleting an absent name is a no-op.
	Delete(ctx context.Context, name string) error

	// Watch returns a feed of new values for name. A delete is delivered as
	// an empty string. The feed is latest-wins: a slow consumer observes the
	// most recent value, not every intermediate one. The returned func stops
	// the feed.
	Watch(name string) (<-chan string, func())
}

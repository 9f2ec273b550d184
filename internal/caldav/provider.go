package caldav

import (
	"context"

	"github.com/emersion/go-ical"

	"informdav/internal/backend"
	"informdav/internal/convert"
)

// Provider is the calendar the handler serves. The upstream-backed
// backend implements it; tests substitute their own.
type Provider interface {
	// CollectionPath is the URL path of the lone calendar collection,
	// with trailing slash.
	CollectionPath() string

	// List returns the objects in the default sync window.
	List(ctx context.Context) ([]convert.Object, error)

	// QueryRange returns the objects intersecting the window.
	QueryRange(ctx context.Context, window backend.SyncWindow) ([]convert.Object, error)

	// Get returns one object by UID.
	Get(ctx context.Context, uid string) (*convert.Object, error)

	// Create stores a new event. The returned object carries the
	// upstream-assigned UID and path, which need not match the path the
	// client PUT to.
	Create(ctx context.Context, cal *ical.Calendar) (*convert.Object, error)

	// Update replaces the event's user-visible state.
	Update(ctx context.Context, uid string, cal *ical.Calendar) (*convert.Object, error)

	// Delete removes the event.
	Delete(ctx context.Context, uid string) error
}

var _ Provider = (*backend.Backend)(nil)

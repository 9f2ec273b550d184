// Package backend implements the calendar operations the protocol
// layers sit on: windowed listing with deduplication, single-object
// reads, and the create/update/delete write path against the upstream.
// It holds no state of its own; every call goes to the upstream.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"

	"informdav/internal/convert"
	"informdav/internal/dedup"
	"informdav/internal/upstream"
)

// SyncWindow is the half-open time range [Start, End) a query covers.
type SyncWindow struct {
	Start time.Time
	End   time.Time
}

// WindowAround centers a window of the given width on now: half the
// weeks behind, half ahead.
func WindowAround(now time.Time, weeks int) SyncWindow {
	if weeks < 1 {
		weeks = 1
	}
	half := time.Duration(weeks) * 7 * 24 * time.Hour / 2
	return SyncWindow{Start: now.Add(-half), End: now.Add(half)}
}

// Config carries the backend's fixed parameters.
type Config struct {
	// Zone is the zone the upstream's occurrence times are local to.
	Zone *time.Location
	// OwnerKey scopes all listings to one upstream calendar owner.
	OwnerKey string
	// SyncWeeks is the default listing window width.
	SyncWeeks int
	// CollectionPath is the URL path of the calendar collection,
	// with trailing slash.
	CollectionPath string
	// ListLimit caps how many occurrence rows one listing may return.
	ListLimit int
	// ResolveConcurrency bounds parallel supplementary fetches.
	ResolveConcurrency int
	// FailFastResolve aborts listings on the first failed series fetch
	// instead of skipping the series.
	FailFastResolve bool
}

// Backend is the upstream-backed calendar.
type Backend struct {
	cfg       Config
	client    upstream.Client
	converter *convert.Converter
	resolver  *dedup.Resolver
	logger    *slog.Logger

	now func() time.Time
}

// New wires a backend from its parts.
func New(cfg Config, client upstream.Client, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.SyncWeeks < 1 {
		cfg.SyncWeeks = 6
	}
	if cfg.ListLimit < 1 {
		cfg.ListLimit = 1000
	}
	return &Backend{
		cfg:       cfg,
		client:    client,
		converter: &convert.Converter{Zone: cfg.Zone},
		resolver: &dedup.Resolver{
			Fetcher:     client,
			Logger:      logger,
			Concurrency: cfg.ResolveConcurrency,
			FailFast:    cfg.FailFastResolve,
		},
		logger: logger,
		now:    time.Now,
	}
}

// CollectionPath returns the calendar collection's URL path.
func (b *Backend) CollectionPath() string { return b.cfg.CollectionPath }

// List returns the objects in the default window around now.
func (b *Backend) List(ctx context.Context) ([]convert.Object, error) {
	return b.QueryRange(ctx, WindowAround(b.now(), b.cfg.SyncWeeks))
}

// QueryRange returns the objects whose occurrences intersect the
// window. Each recurring series appears once, rendered from its full
// record.
func (b *Backend) QueryRange(ctx context.Context, window SyncWindow) ([]convert.Object, error) {
	rows, err := b.client.ListOccurrences(ctx, b.cfg.OwnerKey, window.Start, window.End, b.cfg.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	events, err := b.resolver.Resolve(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("resolve series: %w", err)
	}

	objects := make([]convert.Object, 0, len(events))
	for _, event := range events {
		obj, err := b.converter.FromUpstream(event, b.cfg.CollectionPath)
		if err != nil {
			// One unconvertible event must not take down the whole
			// collection listing.
			b.logger.Warn("skipping unconvertible event", "key", event.Key, "error", err)
			continue
		}
		objects = append(objects, *obj)
	}
	return objects, nil
}

// Get fetches one event by its master key and renders it.
func (b *Backend) Get(ctx context.Context, uid string) (*convert.Object, error) {
	event, err := b.client.GetEvent(ctx, uid)
	if err != nil {
		return nil, err
	}
	return b.converter.FromUpstream(event, b.cfg.CollectionPath)
}

// Create stores a new event from a client-submitted calendar and
// returns the object as the upstream now sees it. The upstream assigns
// the key; the client-chosen resource name is not preserved.
func (b *Backend) Create(ctx context.Context, cal *ical.Calendar) (*convert.Object, error) {
	event, err := b.converter.ParseObject(cal)
	if err != nil {
		return nil, err
	}
	patch := b.converter.CreatePatch(event)
	patch["ownerKey"] = b.cfg.OwnerKey

	created, err := b.client.CreateEvent(ctx, patch)
	if err != nil {
		return nil, err
	}

	// Re-read with full fields: the create response may omit the
	// recurrence schema, and rendering must reflect upstream-side
	// normalization.
	full, err := b.client.GetEvent(ctx, created.Key)
	if err != nil {
		return nil, fmt.Errorf("re-read created event %s: %w", created.Key, err)
	}
	return b.converter.FromUpstream(full, b.cfg.CollectionPath)
}

// Update patches an existing event with the changed fields of a
// client-submitted calendar. A submission identical to the stored state
// fails with *convert.NoChangeError, which callers treat as success.
func (b *Backend) Update(ctx context.Context, uid string, cal *ical.Calendar) (*convert.Object, error) {
	previous, err := b.client.GetEvent(ctx, uid)
	if err != nil {
		return nil, err
	}
	prevParsed, err := b.roundTrip(previous)
	if err != nil {
		return nil, err
	}
	next, err := b.converter.ParseObject(cal)
	if err != nil {
		return nil, err
	}

	patch, err := b.converter.UpdatePatch(prevParsed, next)
	if err != nil {
		return nil, err
	}
	if _, err := b.client.UpdateEvent(ctx, uid, patch); err != nil {
		return nil, err
	}

	full, err := b.client.GetEvent(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("re-read updated event %s: %w", uid, err)
	}
	return b.converter.FromUpstream(full, b.cfg.CollectionPath)
}

// Delete removes an event by its master key.
func (b *Backend) Delete(ctx context.Context, uid string) error {
	return b.client.DeleteEvent(ctx, uid)
}

// roundTrip renders the stored event and parses it back, so the diff in
// Update compares like with like: both sides normalized through the
// same iCalendar representation.
func (b *Backend) roundTrip(event *upstream.Event) (*upstream.Event, error) {
	obj, err := b.converter.FromUpstream(event, b.cfg.CollectionPath)
	if err != nil {
		return nil, err
	}
	parsed, err := b.converter.ParseObject(obj.Data)
	if err != nil {
		return nil, err
	}
	parsed.Key = event.Key
	return parsed, nil
}

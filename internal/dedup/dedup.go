// Package dedup collapses the upstream's per-occurrence listing rows
// into unique master events. The listing emits one row per occurrence,
// marked by an occurrenceId and stripped of the recurrence schema, so
// each recurring series needs exactly one supplementary full fetch
// regardless of how many of its occurrences fall in the queried window.
package dedup

import (
	"context"
	"io"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"informdav/internal/upstream"
)

// Fetcher is the single upstream call the resolver needs.
type Fetcher interface {
	GetEvent(ctx context.Context, key string) (*upstream.Event, error)
}

// Resolver deduplicates listing rows by master key and backfills the
// recurrence schema on serial events.
type Resolver struct {
	Fetcher Fetcher
	Logger  *slog.Logger

	// Concurrency bounds the parallel supplementary fetches. Zero or
	// one means sequential.
	Concurrency int

	// FailFast aborts the whole resolve on the first fetch error
	// instead of skipping the affected series.
	FailFast bool
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Resolve returns one event per distinct master key, in first-seen
// order. Single events pass through as-is; occurrence rows are replaced
// by their series' full record. A series whose fetch fails is skipped
// with a log line unless FailFast is set.
func (r *Resolver) Resolve(ctx context.Context, rows []upstream.Event) ([]*upstream.Event, error) {
	type slot struct {
		event *upstream.Event
		fetch bool
	}

	seen := make(map[string]struct{}, len(rows))
	slots := make([]*slot, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if _, dup := seen[row.Key]; dup {
			continue
		}
		seen[row.Key] = struct{}{}
		needsFetch := row.IsOccurrenceRow() && row.Schema == nil
		slots = append(slots, &slot{event: row, fetch: needsFetch})
	}

	fetchOne := func(ctx context.Context, s *slot) error {
		full, err := r.Fetcher.GetEvent(ctx, s.event.Key)
		if err != nil {
			if r.FailFast {
				return err
			}
			r.logger().Warn("skipping series, supplementary fetch failed",
				"key", s.event.Key, "error", err)
			s.event = nil
			return nil
		}
		s.event = full
		return nil
	}

	if r.Concurrency > 1 {
		p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(r.Concurrency)
		for _, s := range slots {
			if !s.fetch {
				continue
			}
			p.Go(func(ctx context.Context) error { return fetchOne(ctx, s) })
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
	} else {
		for _, s := range slots {
			if !s.fetch {
				continue
			}
			if err := fetchOne(ctx, s); err != nil {
				return nil, err
			}
		}
	}

	events := make([]*upstream.Event, 0, len(slots))
	for _, s := range slots {
		if s.event != nil {
			events = append(events, s.event)
		}
	}
	return events, nil
}

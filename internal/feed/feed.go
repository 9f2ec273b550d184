// Package feed serves the calendar as a single read-only ICS download,
// for clients that subscribe to a URL instead of speaking CalDAV.
package feed

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/emersion/go-ical"

	"informdav/internal/caldav"
)

// Handler serves GET /feed.ics?calendar=<ownerKey>.
type Handler struct {
	provider caldav.Provider
	ownerKey string
	prodID   string
	logger   *slog.Logger
}

// New builds the feed handler. The calendar query parameter must match
// ownerKey; the feed does not enumerate other calendars.
func New(provider caldav.Provider, ownerKey, prodID string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{provider: provider, ownerKey: ownerKey, prodID: prodID, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	calendar := r.URL.Query().Get("calendar")
	if calendar == "" {
		http.Error(w, "missing calendar parameter", http.StatusBadRequest)
		return
	}
	if calendar != h.ownerKey {
		http.Error(w, "unknown calendar", http.StatusNotFound)
		return
	}

	objects, err := h.provider.List(r.Context())
	if err != nil {
		h.logger.Error("feed listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	combined := ical.NewCalendar()
	combined.Props.SetText(ical.PropVersion, "2.0")
	combined.Props.SetText(ical.PropProductID, h.prodID)
	for _, obj := range objects {
		for _, child := range obj.Data.Children {
			if child.Name == ical.CompEvent {
				combined.Children = append(combined.Children, child)
			}
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if err := ical.NewEncoder(w).Encode(combined); err != nil {
		h.logger.Error("feed encoding failed", "error", err)
	}
}

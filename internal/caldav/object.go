package caldav

import (
	"errors"
	"net/http"

	"github.com/emersion/go-ical"

	"informdav/internal/convert"
	"informdav/internal/upstream"
)

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, res resource) {
	if res.Type != resourceObject {
		http.Error(w, "only calendar objects can be fetched", http.StatusMethodNotAllowed)
		return
	}
	obj, err := h.provider.Get(r.Context(), res.UID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("ETag", obj.ETag)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(obj.Body)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, res resource) {
	if res.Type != resourceObject {
		http.Error(w, "PUT targets a calendar object", http.StatusMethodNotAllowed)
		return
	}
	cal, err := ical.NewDecoder(r.Body).Decode()
	if err != nil {
		http.Error(w, "error parsing calendar object: "+err.Error(), http.StatusBadRequest)
		return
	}

	existing, err := h.provider.Get(r.Context(), res.UID)
	exists := err == nil
	if err != nil {
		var nf *upstream.NotFoundError
		if !errors.As(err, &nf) {
			h.writeError(w, err)
			return
		}
	}

	// Preconditions per RFC 7232: If-None-Match: * forbids overwrites,
	// If-Match pins the update to a known state.
	if r.Header.Get("If-None-Match") == "*" && exists {
		http.Error(w, "resource already exists", http.StatusPreconditionFailed)
		return
	}
	if match := r.Header.Get("If-Match"); match != "" {
		if !exists || match != existing.ETag {
			http.Error(w, "etag mismatch", http.StatusPreconditionFailed)
			return
		}
	}

	if exists {
		updated, err := h.provider.Update(r.Context(), res.UID, cal)
		if err != nil {
			var nce *convert.NoChangeError
			if errors.As(err, &nce) {
				// Nothing changed; report success against the stored
				// state.
				w.Header().Set("ETag", existing.ETag)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.writeError(w, err)
			return
		}
		w.Header().Set("ETag", updated.ETag)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	created, err := h.provider.Create(r.Context(), cal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// The upstream assigns the key, so the stored resource usually
	// lives at a different path than the one the client chose.
	w.Header().Set("Location", created.Path)
	w.Header().Set("ETag", created.ETag)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, res resource) {
	if res.Type != resourceObject {
		http.Error(w, "DELETE targets a calendar object", http.StatusMethodNotAllowed)
		return
	}
	if match := r.Header.Get("If-Match"); match != "" {
		obj, err := h.provider.Get(r.Context(), res.UID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if match != obj.ETag {
			http.Error(w, "etag mismatch", http.StatusPreconditionFailed)
			return
		}
	}
	if err := h.provider.Delete(r.Context(), res.UID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

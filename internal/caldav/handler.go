// Package caldav exposes the upstream-backed calendar over the CalDAV
// subset real clients exercise: PROPFIND, REPORT (calendar-query and
// calendar-multiget), GET, PUT, DELETE and OPTIONS on a single
// collection.
package caldav

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"informdav/internal/convert"
	"informdav/internal/localtime"
	"informdav/internal/recurrence"
	"informdav/internal/upstream"
)

// Handler serves CalDAV requests under a URL prefix.
type Handler struct {
	prefix   string
	provider Provider
	logger   *slog.Logger

	// Realm plus credentials for HTTP basic auth; empty username
	// disables the check (auth handled elsewhere, e.g. a front proxy).
	realm    string
	username string
	password string
}

// Options configures a Handler.
type Options struct {
	Prefix   string
	Realm    string
	Username string
	Password string
	Logger   *slog.Logger
}

// NewHandler builds the CalDAV handler for one provider.
func NewHandler(provider Provider, opts Options) *Handler {
	prefix := opts.Prefix
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	realm := opts.Realm
	if realm == "" {
		realm = "informdav"
	}
	return &Handler{
		prefix:   prefix,
		provider: provider,
		logger:   logger,
		realm:    realm,
		username: opts.Username,
		password: opts.Password,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkAuth(w, r) {
		return
	}

	res, err := h.parsePath(r.URL.Path)
	if err != nil {
		h.logger.Debug("unresolvable path", "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Debug("caldav request", "method", r.Method, "type", res.Type.String(), "uid", res.UID)

	switch r.Method {
	case "PROPFIND":
		h.handlePropfind(w, r, res)
	case "REPORT":
		h.handleReport(w, r, res)
	case http.MethodGet, http.MethodHead:
		h.handleGet(w, r, res)
	case http.MethodPut:
		h.handlePut(w, r, res)
	case http.MethodDelete:
		h.handleDelete(w, r, res)
	case http.MethodOptions:
		h.handleOptions(w, res)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if ok &&
		subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1 {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm+`"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
	return false
}

func (h *Handler) handleOptions(w http.ResponseWriter, res resource) {
	w.Header().Set("DAV", "1, 3, calendar-access")
	switch res.Type {
	case resourceObject:
		w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND")
	default:
		w.Header().Set("Allow", "OPTIONS, GET, PROPFIND, REPORT")
	}
	w.WriteHeader(http.StatusOK)
}

// writeError maps domain errors onto HTTP statuses. Upstream validation
// failures surface as 422 with the upstream's message so the user sees
// why the event was rejected.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		notFound    *upstream.NotFoundError
		verifier    *upstream.VerifierError
		format      *localtime.FormatError
		unsupported *recurrence.UnsupportedRecurrenceError
		noOccur     *recurrence.NoValidOccurrenceError
		missing     *convert.MissingScheduleDataError
		malformed   *convert.MalformedObjectError
	)
	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &verifier):
		http.Error(w, verifier.Message, http.StatusUnprocessableEntity)
	case errors.As(err, &format),
		errors.As(err, &unsupported),
		errors.As(err, &noOccur),
		errors.As(err, &malformed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &missing):
		h.logger.Error("caldav request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		h.logger.Error("caldav request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

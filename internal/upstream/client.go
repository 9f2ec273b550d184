// Package upstream implements the REST client for the scheduling
// backend this adapter fronts: token lifecycle, the occurrence listing
// endpoint, and the per-event CRUD endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"informdav/internal/localtime"
	"informdav/internal/metrics"
)

// Client is the upstream API surface the rest of the adapter consumes.
type Client interface {
	// ListOccurrences returns one row per occurrence in [start, end).
	// Rows for recurring series carry an occurrenceId and omit the
	// recurrence schema; callers needing it must follow up with
	// GetEvent.
	ListOccurrences(ctx context.Context, ownerKey string, start, end time.Time, limit int) ([]Event, error)

	// GetEvent fetches the full record for a master key, including the
	// recurrence schema on serial events.
	GetEvent(ctx context.Context, key string) (*Event, error)

	CreateEvent(ctx context.Context, fields Patch) (*Event, error)
	UpdateEvent(ctx context.Context, key string, fields Patch) (*Event, error)
	DeleteEvent(ctx context.Context, key string) error
}

// Config carries the connection and credential settings for the
// upstream API.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	License      string
	Username     string
	Password     string
	Timeout      time.Duration
}

type restClient struct {
	cfg    Config
	http   *http.Client
	source *tokenSource
	logger *slog.Logger

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

var _ Client = (*restClient)(nil)

// NewClient builds a Client that authenticates lazily on first use and
// refreshes expired tokens transparently.
func NewClient(cfg Config, logger *slog.Logger) Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	src := &tokenSource{cfg: cfg, client: hc}
	return &restClient{
		cfg:    cfg,
		http:   hc,
		source: src,
		tokens: oauth2.ReuseTokenSource(nil, src),
		logger: logger,
	}
}

func (c *restClient) ListOccurrences(ctx context.Context, ownerKey string, start, end time.Time, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("ownerKey", ownerKey)
	q.Set("from", localtime.FormatStrict(start))
	q.Set("to", localtime.FormatStrict(end))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var events []Event
	if err := c.do(ctx, http.MethodGet, "/calendarEvents/occurrences?"+q.Encode(), nil, &events); err != nil {
		return nil, err
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return nil, fmt.Errorf("occurrence listing: %w", err)
		}
	}
	return events, nil
}

func (c *restClient) GetEvent(ctx context.Context, key string) (*Event, error) {
	var event Event
	path := "/calendarEvents/" + url.PathEscape(key) + "?fields=all"
	if err := c.do(ctx, http.MethodGet, path, nil, &event); err != nil {
		return nil, keyedNotFound(err, key)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *restClient) CreateEvent(ctx context.Context, fields Patch) (*Event, error) {
	if fields.Empty() {
		return nil, fmt.Errorf("refusing to send empty create body")
	}
	var event Event
	if err := c.do(ctx, http.MethodPost, "/calendarEvents", fields, &event); err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *restClient) UpdateEvent(ctx context.Context, key string, fields Patch) (*Event, error) {
	if fields.Empty() {
		// The upstream answers empty PATCH bodies with a validation
		// failure, never a no-op.
		return nil, fmt.Errorf("refusing to send empty patch for event %s", key)
	}
	var event Event
	path := "/calendarEvents/" + url.PathEscape(key) + "?fields=all"
	if err := c.do(ctx, http.MethodPatch, path, fields, &event); err != nil {
		return nil, keyedNotFound(err, key)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *restClient) DeleteEvent(ctx context.Context, key string) error {
	err := c.do(ctx, http.MethodDelete, "/calendarEvents/"+url.PathEscape(key), nil, nil)
	return keyedNotFound(err, key)
}

// keyedNotFound stamps the event key onto NotFoundError values, which
// the transport layer cannot know at status-mapping time.
func keyedNotFound(err error, key string) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		nf.Key = key
	}
	return err
}

// do runs one authenticated request. A 401 invalidates the cached token
// and retries exactly once with a fresh one; every other failure maps
// to the typed error for its status class.
func (c *restClient) do(ctx context.Context, method, path string, body any, out any) error {
	defer metrics.ObserveUpstreamLatency(ctx, method+" "+routeOf(path), time.Now())

	// Reuse the inbound request ID so upstream calls correlate with the
	// CalDAV request that caused them.
	reqID := metrics.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	return retry.Do(
		func() error {
			tok, err := c.tokenSource().Token()
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("acquire token: %w", err))
			}

			var reader io.Reader
			if payload != nil {
				reader = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
			req.Header.Set("Accept", "application/json")
			req.Header.Set("X-Request-Id", reqID)
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized {
				// Token revoked server-side before its advertised
				// expiry. Drop it and let the retry mint a new one.
				c.invalidateToken()
				c.logger.Warn("upstream rejected token, re-authenticating",
					"method", method, "path", path, "request_id", reqID)
				return fmt.Errorf("unauthorized")
			}
			if err := c.checkStatus(resp, method, path); err != nil {
				return retry.Unrecoverable(err)
			}

			if out == nil {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode %s %s response: %w", method, path, err))
			}
			return nil
		},
		retry.Attempts(2),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

func (c *restClient) tokenSource() oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *restClient) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = oauth2.ReuseTokenSource(nil, c.source)
}

// routeOf collapses a request path to its route template, so per-key
// URLs do not explode the metric's label cardinality.
func routeOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch {
	case path == "/calendarEvents" || path == "/calendarEvents/occurrences":
		return path
	case strings.HasPrefix(path, "/calendarEvents/"):
		return "/calendarEvents/{key}"
	default:
		return path
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *restClient) checkStatus(resp *http.Response, method, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Key: path}
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusConflict ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Message == "" {
			eb.Message = string(bytes.TrimSpace(raw))
		}
		return &VerifierError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
}

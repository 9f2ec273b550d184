package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"informdav/internal/backend"
	"informdav/internal/convert"
	"informdav/internal/upstream"
)

type staticProvider struct {
	objects []convert.Object
}

func (s *staticProvider) CollectionPath() string { return "/caldav/calendars/owner-1/" }
func (s *staticProvider) List(context.Context) ([]convert.Object, error) {
	return s.objects, nil
}
func (s *staticProvider) QueryRange(ctx context.Context, _ backend.SyncWindow) ([]convert.Object, error) {
	return s.List(ctx)
}
func (s *staticProvider) Get(context.Context, string) (*convert.Object, error) {
	return nil, &upstream.NotFoundError{}
}
func (s *staticProvider) Create(context.Context, *ical.Calendar) (*convert.Object, error) {
	return nil, nil
}
func (s *staticProvider) Update(context.Context, string, *ical.Calendar) (*convert.Object, error) {
	return nil, nil
}
func (s *staticProvider) Delete(context.Context, string) error { return nil }

func testProvider(t *testing.T) *staticProvider {
	t.Helper()
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	converter := &convert.Converter{Zone: berlin}

	var objects []convert.Object
	for _, key := range []string{"ev-1", "ev-2"} {
		obj, err := converter.FromUpstream(&upstream.Event{
			Key:           key,
			Mode:          upstream.ModeSingle,
			Subject:       "Event " + key,
			StartDateTime: "2026-01-16T10:00:00Z",
			EndDateTime:   "2026-01-16T11:00:00Z",
		}, "/caldav/calendars/owner-1/")
		require.NoError(t, err)
		objects = append(objects, *obj)
	}
	return &staticProvider{objects: objects}
}

func TestFeedCombinesEvents(t *testing.T) {
	h := New(testProvider(t), "owner-1", "-//test//EN", nil)

	req := httptest.NewRequest(http.MethodGet, "/feed.ics?calendar=owner-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=300")

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "BEGIN:VCALENDAR"))
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "UID:ev-1")
	assert.Contains(t, body, "UID:ev-2")
}

func TestFeedRequiresCalendarParameter(t *testing.T) {
	h := New(testProvider(t), "owner-1", "-//test//EN", nil)

	req := httptest.NewRequest(http.MethodGet, "/feed.ics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/feed.ics?calendar=other", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

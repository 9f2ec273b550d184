package backend

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"informdav/internal/convert"
	"informdav/internal/upstream"
)

func testBackend(t *testing.T, client upstream.Client) *Backend {
	t.Helper()
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	b := New(Config{
		Zone:           berlin,
		OwnerKey:       "owner-1",
		SyncWeeks:      6,
		CollectionPath: "/calendars/owner-1/",
	}, client, nil)
	b.now = func() time.Time {
		return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	}
	return b
}

func singleEvent(key string) upstream.Event {
	return upstream.Event{
		Key:           key,
		Mode:          upstream.ModeSingle,
		Subject:       "Meeting " + key,
		StartDateTime: "2026-01-16T10:00:00Z",
		EndDateTime:   "2026-01-16T11:00:00Z",
	}
}

// serialOccurrenceRow mimics the listing's row shape: occurrenceId set,
// eventMode and schema omitted.
func serialOccurrenceRow(key string) upstream.Event {
	return upstream.Event{
		Key:          key,
		OccurrenceID: key + "-1",
		Subject:      "Series " + key,
	}
}

func fullSerialEvent(key string) *upstream.Event {
	return &upstream.Event{
		Key:                    key,
		Mode:                   upstream.ModeSerial,
		Subject:                "Series " + key,
		SeriesStartDate:        "2026-01-12",
		OccurrenceStartSeconds: 33300,
		OccurrenceEndSeconds:   34200,
		Schema: &upstream.SeriesSchema{
			Type:   upstream.SchemaWeekly,
			Weekly: &upstream.WeeklySchema{Weekdays: []string{"monday"}, WeeksInterval: 1},
		},
	}
}

func TestListDeduplicatesSeries(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	rows := []upstream.Event{
		singleEvent("ev-1"),
		serialOccurrenceRow("s-1"),
		serialOccurrenceRow("s-1"),
		serialOccurrenceRow("s-1"),
	}
	client.On("ListOccurrences", mock.Anything, "owner-1", mock.Anything, mock.Anything, mock.Anything).
		Return(rows, nil).Once()
	client.On("GetEvent", mock.Anything, "s-1").Return(fullSerialEvent("s-1"), nil).Once()

	objects, err := b.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "ev-1", objects[0].UID)
	assert.Equal(t, "s-1", objects[1].UID)
	assert.Equal(t, "/calendars/owner-1/s-1.ics", objects[1].Path)
	client.AssertExpectations(t)
}

func TestListWindowIsCenteredOnNow(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	var gotStart, gotEnd time.Time
	client.On("ListOccurrences", mock.Anything, "owner-1", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotStart = args.Get(2).(time.Time)
			gotEnd = args.Get(3).(time.Time)
		}).
		Return([]upstream.Event{}, nil).Once()

	_, err := b.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6*7*24*time.Hour, gotEnd.Sub(gotStart))
	now := b.now()
	assert.True(t, gotStart.Before(now) && gotEnd.After(now))
}

func TestQueryRangeSkipsUnconvertibleEvents(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	broken := singleEvent("ev-bad")
	broken.StartDateTime = "2026-01-16T10:00:00+00:00" // offset form, rejected
	rows := []upstream.Event{broken, singleEvent("ev-ok")}
	client.On("ListOccurrences", mock.Anything, "owner-1", mock.Anything, mock.Anything, mock.Anything).
		Return(rows, nil).Once()

	objects, err := b.QueryRange(context.Background(), WindowAround(b.now(), 2))
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "ev-ok", objects[0].UID)
}

func TestGetPropagatesNotFound(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	client.On("GetEvent", mock.Anything, "missing").
		Return(nil, &upstream.NotFoundError{Key: "missing"}).Once()

	_, err := b.Get(context.Background(), "missing")
	var nf *upstream.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func submittedCalendar(t *testing.T, subject, start, end string) *ical.Calendar {
	t.Helper()
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//client//EN")
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, "client-chosen-uid")
	ve.Props.SetText(ical.PropSummary, subject)
	startT, err := time.Parse(time.RFC3339, start)
	require.NoError(t, err)
	endT, err := time.Parse(time.RFC3339, end)
	require.NoError(t, err)
	ve.Props.SetDateTime(ical.PropDateTimeStart, startT)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, endT)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, startT)
	cal.Children = append(cal.Children, ve)
	return cal
}

func TestCreateAssignsUpstreamKey(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	created := singleEvent("ev-new")
	client.On("CreateEvent", mock.Anything, mock.MatchedBy(func(p upstream.Patch) bool {
		return p["ownerKey"] == "owner-1" && p["eventMode"] == "single"
	})).Return(&created, nil).Once()
	full := singleEvent("ev-new")
	client.On("GetEvent", mock.Anything, "ev-new").Return(&full, nil).Once()

	obj, err := b.Create(context.Background(),
		submittedCalendar(t, "Meeting ev-new", "2026-01-16T10:00:00Z", "2026-01-16T11:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, "ev-new", obj.UID)
	assert.Equal(t, "/calendars/owner-1/ev-new.ics", obj.Path)
	client.AssertExpectations(t)
}

func TestUpdateSendsMinimalPatch(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	stored := singleEvent("ev-1")
	client.On("GetEvent", mock.Anything, "ev-1").Return(&stored, nil).Twice()

	var sent upstream.Patch
	updated := stored
	updated.Subject = "Renamed"
	client.On("UpdateEvent", mock.Anything, "ev-1", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).(upstream.Patch) }).
		Return(&updated, nil).Once()

	_, err := b.Update(context.Background(), "ev-1",
		submittedCalendar(t, "Renamed", "2026-01-16T10:00:00Z", "2026-01-16T11:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, upstream.Patch{"subject": "Renamed"}, sent)
	client.AssertExpectations(t)
}

func TestUpdateWithoutChangesFails(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	stored := singleEvent("ev-1")
	client.On("GetEvent", mock.Anything, "ev-1").Return(&stored, nil).Once()

	_, err := b.Update(context.Background(), "ev-1",
		submittedCalendar(t, stored.Subject, "2026-01-16T10:00:00Z", "2026-01-16T11:00:00Z"))
	var nce *convert.NoChangeError
	require.ErrorAs(t, err, &nce)
	client.AssertNotCalled(t, "UpdateEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestDelete(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	client.On("DeleteEvent", mock.Anything, "ev-1").Return(nil).Once()
	require.NoError(t, b.Delete(context.Background(), "ev-1"))
	client.AssertExpectations(t)
}

func TestObjectsAreStableAcrossListings(t *testing.T) {
	client := new(mockClient)
	b := testBackend(t, client)

	rows := []upstream.Event{singleEvent("ev-1")}
	client.On("ListOccurrences", mock.Anything, "owner-1", mock.Anything, mock.Anything, mock.Anything).
		Return(rows, nil).Twice()

	first, err := b.List(context.Background())
	require.NoError(t, err)
	second, err := b.List(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ETag, second[0].ETag)
	assert.True(t, bytes.Equal(first[0].Body, second[0].Body))
}

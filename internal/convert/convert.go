// Package convert maps upstream event records onto iCalendar objects
// and back. The read path renders deterministic bytes for a given
// record so unchanged events keep stable ETags; the write path produces
// the minimal field patch the upstream accepts.
package convert

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"informdav/internal/localtime"
	"informdav/internal/recurrence"
	"informdav/internal/upstream"
)

const (
	layoutICalDate = "20060102"

	defaultProdID = "-//informdav//CalDAV adapter//EN"
)

// EmptyPatchPolicy decides what an update with zero changed fields
// turns into. The upstream rejects empty PATCH bodies outright, so the
// choice is between failing the request and sending a no-op field.
type EmptyPatchPolicy int

const (
	// RejectEmptyPatch fails no-change updates with a *NoChangeError.
	RejectEmptyPatch EmptyPatchPolicy = iota
	// InjectNeutralField re-sends the current subject so the upstream
	// accepts the request without altering the event.
	InjectNeutralField
)

// Object is one rendered calendar resource: the parsed calendar, its
// exact serialized bytes, and the metadata CalDAV responses need.
type Object struct {
	UID          string
	Path         string
	ETag         string
	LastModified time.Time
	Data         *ical.Calendar
	Body         []byte
}

// Converter holds the fixed context every conversion needs: the zone
// the upstream's occurrence times are expressed in and the identity the
// rendered calendars carry.
type Converter struct {
	Zone       *time.Location
	ProdID     string
	EmptyPatch EmptyPatchPolicy
}

func (c *Converter) prodID() string {
	if c.ProdID != "" {
		return c.ProdID
	}
	return defaultProdID
}

// FromUpstream renders one upstream record as a complete VCALENDAR
// object. Serial events must carry their recurrence schema; occurrence
// listing rows fail with *MissingScheduleDataError until the caller has
// done the supplementary fetch.
func (c *Converter) FromUpstream(event *upstream.Event, collectionPath string) (*Object, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, c.prodID())

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, event.Key)
	if event.Subject != "" {
		ve.Props.SetText(ical.PropSummary, event.Subject)
	}
	if event.Content != "" {
		ve.Props.SetText(ical.PropDescription, event.Content)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.Category != "" {
		ve.Props.SetText(ical.PropCategories, event.Category)
	}
	if event.Private {
		ve.Props.SetText(ical.PropClass, "PRIVATE")
	}

	var anchor time.Time
	switch event.Mode {
	case upstream.ModeSingle:
		start, err := localtime.ParseStrict(event.StartDateTime)
		if err != nil {
			return nil, err
		}
		end := start
		if event.EndDateTime != "" {
			if end, err = localtime.ParseStrict(event.EndDateTime); err != nil {
				return nil, err
			}
		}
		anchor = start
		if event.WholeDay {
			setDateProp(ve, ical.PropDateTimeStart, start.In(c.Zone))
			setDateProp(ve, ical.PropDateTimeEnd, end.In(c.Zone).AddDate(0, 0, 1))
		} else {
			ve.Props.SetDateTime(ical.PropDateTimeStart, start)
			ve.Props.SetDateTime(ical.PropDateTimeEnd, end)
		}

	case upstream.ModeSerial:
		if event.Schema == nil {
			return nil, &MissingScheduleDataError{Key: event.Key}
		}
		seriesStart, err := localtime.ParseDate(event.SeriesStartDate)
		if err != nil {
			return nil, err
		}
		var seriesEnd time.Time
		if event.SeriesEndDate != "" {
			if seriesEnd, err = localtime.ParseDate(event.SeriesEndDate); err != nil {
				return nil, err
			}
		}
		rule, err := recurrence.FromSchema(event.Schema, seriesStart, seriesEnd, c.Zone)
		if err != nil {
			return nil, err
		}
		firstDay, err := recurrence.FirstOccurrence(seriesStart, rule)
		if err != nil {
			return nil, err
		}

		if event.WholeDay {
			anchor = firstDay
			setDateProp(ve, ical.PropDateTimeStart, firstDay)
			setDateProp(ve, ical.PropDateTimeEnd, firstDay.AddDate(0, 0, 1))
		} else {
			start, err := localtime.ToInstant(firstDay, event.OccurrenceStartSeconds, c.Zone)
			if err != nil {
				return nil, err
			}
			end, err := localtime.ToInstant(firstDay, event.OccurrenceEndSeconds, c.Zone)
			if err != nil {
				return nil, err
			}
			anchor = start
			ve.Props.SetDateTime(ical.PropDateTimeStart, start)
			ve.Props.SetDateTime(ical.PropDateTimeEnd, end)
		}

		// Raw prop: RRULE values must not go through text escaping.
		rruleProp := ical.NewProp(ical.PropRecurrenceRule)
		rruleProp.Value = rule.String()
		ve.Props.Set(rruleProp)
	}

	// DTSTAMP derives from the event itself so re-rendering an
	// unchanged record yields identical bytes and a stable ETag.
	ve.Props.SetDateTime(ical.PropDateTimeStamp, anchor)

	if event.ReminderEnabled {
		ve.Children = append(ve.Children, buildAlarm(event))
	}
	cal.Children = append(cal.Children, ve)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.Key, err)
	}
	body := buf.Bytes()

	return &Object{
		UID:          event.Key,
		Path:         objectPath(collectionPath, event.Key),
		ETag:         etag(body),
		LastModified: anchor,
		Data:         cal,
		Body:         body,
	}, nil
}

func buildAlarm(event *upstream.Event) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	description := event.Subject
	if description == "" {
		description = "Reminder"
	}
	alarm.Props.SetText(ical.PropDescription, description)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.SetDuration(-time.Duration(event.RemindBeforeStart) * time.Second)
	alarm.Props.Set(trigger)
	return alarm
}

func setDateProp(comp *ical.Component, name string, day time.Time) {
	p := ical.NewProp(name)
	p.SetValueType(ical.ValueDate)
	p.Value = day.Format(layoutICalDate)
	comp.Props.Set(p)
}

func objectPath(collectionPath, uid string) string {
	return strings.TrimSuffix(collectionPath, "/") + "/" + url.PathEscape(uid) + ".ics"
}

func etag(body []byte) string {
	sum := sha1.Sum(body)
	return fmt.Sprintf("%q", fmt.Sprintf("%x", sum))
}

// ParseObject maps a client-submitted VCALENDAR onto the upstream event
// model. The returned event has no key; create assigns one upstream and
// update reuses the resource's existing key.
func (c *Converter) ParseObject(cal *ical.Calendar) (*upstream.Event, error) {
	ve, err := singleEvent(cal)
	if err != nil {
		return nil, err
	}

	event := &upstream.Event{Mode: upstream.ModeSingle}
	if p := ve.Props.Get(ical.PropSummary); p != nil {
		if event.Subject, err = p.Text(); err != nil {
			return nil, &MalformedObjectError{Reason: "bad SUMMARY: " + err.Error()}
		}
	}
	if p := ve.Props.Get(ical.PropDescription); p != nil {
		if event.Content, err = p.Text(); err != nil {
			return nil, &MalformedObjectError{Reason: "bad DESCRIPTION: " + err.Error()}
		}
	}
	if p := ve.Props.Get(ical.PropLocation); p != nil {
		if event.Location, err = p.Text(); err != nil {
			return nil, &MalformedObjectError{Reason: "bad LOCATION: " + err.Error()}
		}
	}
	if p := ve.Props.Get(ical.PropCategories); p != nil {
		event.Category = p.Value
	}
	if p := ve.Props.Get(ical.PropClass); p != nil {
		event.Private = strings.EqualFold(p.Value, "PRIVATE")
	}

	startProp := ve.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, &MalformedObjectError{Reason: "event without DTSTART"}
	}
	event.WholeDay = startProp.ValueType() == ical.ValueDate
	start, err := startProp.DateTime(c.Zone)
	if err != nil {
		return nil, &MalformedObjectError{Reason: "bad DTSTART: " + err.Error()}
	}
	end := start
	if endProp := ve.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		if end, err = endProp.DateTime(c.Zone); err != nil {
			return nil, &MalformedObjectError{Reason: "bad DTEND: " + err.Error()}
		}
	}
	if event.WholeDay {
		// DTEND on all-day events is exclusive; the upstream stores the
		// last included day.
		if end.After(start) {
			end = end.AddDate(0, 0, -1)
		}
	}

	parseAlarm(ve, event)

	rruleProp := ve.Props.Get(ical.PropRecurrenceRule)
	if rruleProp == nil {
		event.StartDateTime = localtime.FormatStrict(start)
		event.EndDateTime = localtime.FormatStrict(end)
		return event, nil
	}

	opt, err := rrule.StrToROption(rruleProp.Value)
	if err != nil {
		return nil, &MalformedObjectError{Reason: "bad RRULE: " + err.Error()}
	}
	schema, err := recurrence.ToSchema(opt)
	if err != nil {
		return nil, err
	}

	event.Mode = upstream.ModeSerial
	event.Schema = schema

	startDay, startSecs := localtime.ToLocalSeconds(start, c.Zone)
	_, endSecs := localtime.ToLocalSeconds(end, c.Zone)
	event.SeriesStartDate = localtime.FormatDate(startDay)
	if !opt.Until.IsZero() {
		event.SeriesEndDate = localtime.FormatDate(opt.Until.In(c.Zone))
	}
	if event.WholeDay {
		event.OccurrenceStartSeconds = localtime.AllDayStartSeconds
		event.OccurrenceEndSeconds = localtime.AllDayEndSeconds
	} else {
		event.OccurrenceStartSeconds = float64(startSecs)
		event.OccurrenceEndSeconds = float64(endSecs)
	}
	return event, nil
}

// singleEvent extracts the lone VEVENT from a submitted calendar.
// Multi-event objects and per-occurrence overrides (RECURRENCE-ID) are
// not representable upstream, so they are rejected rather than silently
// flattened.
func singleEvent(cal *ical.Calendar) (*ical.Component, error) {
	var ve *ical.Component
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		if child.Props.Get(ical.PropRecurrenceID) != nil {
			return nil, &MalformedObjectError{Reason: "per-occurrence overrides (RECURRENCE-ID) are not supported"}
		}
		if ve != nil {
			return nil, &MalformedObjectError{Reason: "calendar object with more than one VEVENT"}
		}
		ve = child
	}
	if ve == nil {
		return nil, &MalformedObjectError{Reason: "calendar object without a VEVENT"}
	}
	return ve, nil
}

func parseAlarm(ve *ical.Component, event *upstream.Event) {
	for _, child := range ve.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if trigger == nil {
			continue
		}
		d, err := trigger.Duration()
		if err != nil {
			continue
		}
		event.ReminderEnabled = true
		if d < 0 {
			d = -d
		}
		event.RemindBeforeStart = int(d / time.Second)
		return
	}
}

// CreatePatch renders the full field set for a POST. All-day recurring
// events need the sentinel occurrence times or the upstream rejects the
// create.
func (c *Converter) CreatePatch(event *upstream.Event) upstream.Patch {
	patch := upstream.Patch{
		"eventMode":     string(event.Mode),
		"subject":       event.Subject,
		"wholeDayEvent": event.WholeDay,
	}
	if event.Content != "" {
		patch["content"] = event.Content
	}
	if event.Location != "" {
		patch["location"] = event.Location
	}
	if event.Category != "" {
		patch["eventCategory"] = event.Category
	}
	if event.Private {
		patch["private"] = true
	}
	if event.ReminderEnabled {
		patch["reminderEnabled"] = true
		patch["remindBeforeStart"] = event.RemindBeforeStart
	}

	switch event.Mode {
	case upstream.ModeSingle:
		patch["startDateTime"] = event.StartDateTime
		patch["endDateTime"] = event.EndDateTime
	case upstream.ModeSerial:
		patch["seriesStartDate"] = event.SeriesStartDate
		if event.SeriesEndDate != "" {
			patch["seriesEndDate"] = event.SeriesEndDate
		}
		patch["seriesSchema"] = event.Schema
		patch["occurrenceStartTime"] = event.OccurrenceStartSeconds
		patch["occurrenceStartTimeEnabled"] = true
		patch["occurrenceEndTime"] = event.OccurrenceEndSeconds
		patch["occurrenceEndTimeEnabled"] = true
	}
	return patch
}

// UpdatePatch diffs the parsed update against the stored event and
// returns only the fields that changed. What an empty diff becomes is
// governed by the converter's EmptyPatchPolicy.
func (c *Converter) UpdatePatch(prev, next *upstream.Event) (upstream.Patch, error) {
	if prev.Mode != next.Mode {
		// Mode flips (single <-> recurring) replace the schedule
		// wholesale; send the full field set.
		patch := c.CreatePatch(next)
		return patch, nil
	}

	patch := upstream.Patch{}
	diffString(patch, "subject", prev.Subject, next.Subject)
	diffString(patch, "content", prev.Content, next.Content)
	diffString(patch, "location", prev.Location, next.Location)
	diffString(patch, "eventCategory", prev.Category, next.Category)
	if prev.Private != next.Private {
		patch["private"] = next.Private
	}
	if prev.WholeDay != next.WholeDay {
		patch["wholeDayEvent"] = next.WholeDay
	}
	if prev.ReminderEnabled != next.ReminderEnabled {
		patch["reminderEnabled"] = next.ReminderEnabled
	}
	if next.ReminderEnabled && prev.RemindBeforeStart != next.RemindBeforeStart {
		patch["remindBeforeStart"] = next.RemindBeforeStart
	}

	switch next.Mode {
	case upstream.ModeSingle:
		diffString(patch, "startDateTime", prev.StartDateTime, next.StartDateTime)
		diffString(patch, "endDateTime", prev.EndDateTime, next.EndDateTime)
	case upstream.ModeSerial:
		diffString(patch, "seriesStartDate", prev.SeriesStartDate, next.SeriesStartDate)
		diffString(patch, "seriesEndDate", prev.SeriesEndDate, next.SeriesEndDate)
		if !schemaEqual(prev.Schema, next.Schema) {
			patch["seriesSchema"] = next.Schema
		}
		if prev.OccurrenceStartSeconds != next.OccurrenceStartSeconds {
			patch["occurrenceStartTime"] = next.OccurrenceStartSeconds
			patch["occurrenceStartTimeEnabled"] = true
		}
		if prev.OccurrenceEndSeconds != next.OccurrenceEndSeconds {
			patch["occurrenceEndTime"] = next.OccurrenceEndSeconds
			patch["occurrenceEndTimeEnabled"] = true
		}
	}

	if patch.Empty() {
		if c.EmptyPatch == InjectNeutralField {
			patch["subject"] = prev.Subject
			return patch, nil
		}
		return nil, &NoChangeError{Key: prev.Key}
	}
	return patch, nil
}

func diffString(patch upstream.Patch, field, prev, next string) {
	if prev != next {
		patch[field] = next
	}
}

func schemaEqual(a, b *upstream.SeriesSchema) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case upstream.SchemaDaily:
		return a.Daily != nil && b.Daily != nil && *a.Daily == *b.Daily
	case upstream.SchemaWeekly:
		if a.Weekly == nil || b.Weekly == nil {
			return false
		}
		if a.Weekly.WeeksInterval != b.Weekly.WeeksInterval ||
			len(a.Weekly.Weekdays) != len(b.Weekly.Weekdays) {
			return false
		}
		for i := range a.Weekly.Weekdays {
			if a.Weekly.Weekdays[i] != b.Weekly.Weekdays[i] {
				return false
			}
		}
		return true
	case upstream.SchemaMonthly:
		return a.Monthly != nil && b.Monthly != nil && *a.Monthly == *b.Monthly
	case upstream.SchemaYearly:
		return a.Yearly != nil && b.Yearly != nil && *a.Yearly == *b.Yearly
	default:
		return false
	}
}

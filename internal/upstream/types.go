package upstream

import (
	"fmt"
)

// Mode distinguishes one-off events from recurring series.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeSerial Mode = "serial"
)

// SchemaType selects which sub-schema of a SeriesSchema is active.
type SchemaType string

const (
	SchemaDaily      SchemaType = "daily"
	SchemaWeekly     SchemaType = "weekly"
	SchemaMonthly    SchemaType = "monthly"
	SchemaYearly     SchemaType = "yearly"
	SchemaArrhythmic SchemaType = "arrhythmic"
)

// Regularity selects the variant within a daily/monthly/yearly schema.
type Regularity string

const (
	RegularityInterval        Regularity = "interval"
	RegularityAllBusinessDays Regularity = "allBusinessDays"
	RegularitySpecificDate    Regularity = "specificDate"
	RegularitySpecificDay     Regularity = "specificDay"
)

// DailySchema recurs every N days, or on every business day.
type DailySchema struct {
	Regularity   Regularity `json:"regularity"`
	DaysInterval int        `json:"daysInterval,omitempty"`
}

// WeeklySchema recurs on a set of weekdays every N weeks. Weekday names
// are lowercase English ("monday" .. "sunday").
type WeeklySchema struct {
	Weekdays      []string `json:"weekdays,omitempty"`
	WeeksInterval int      `json:"weeksInterval,omitempty"`
}

// MonthlySchema recurs either on a fixed day of month (specificDate) or
// on the Nth weekday of the month (specificDay), every N months.
type MonthlySchema struct {
	Regularity     Regularity `json:"regularity"`
	DayOfMonth     int        `json:"dayOfMonth,omitempty"`
	Weekday        string     `json:"weekday,omitempty"`
	WeekNumber     int        `json:"weekNumber,omitempty"`
	MonthsInterval int        `json:"monthsInterval,omitempty"`
}

// YearlySchema recurs either on a fixed month+day (specificDate) or on
// the Nth weekday of a fixed month (specificDay).
type YearlySchema struct {
	Regularity  Regularity `json:"regularity"`
	MonthOfYear int        `json:"monthOfYear,omitempty"`
	DayOfMonth  int        `json:"dayOfMonth,omitempty"`
	Weekday     string     `json:"weekday,omitempty"`
	WeekNumber  int        `json:"weekNumber,omitempty"`
}

// SeriesSchema is the upstream's recurrence description: a tagged union
// over the four supported frequencies. The type tag determines which
// sub-schema is meaningful; sub-schemas for inactive types are ignored.
type SeriesSchema struct {
	Type    SchemaType     `json:"schemaType"`
	Daily   *DailySchema   `json:"dailySchemaData,omitempty"`
	Weekly  *WeeklySchema  `json:"weeklySchemaData,omitempty"`
	Monthly *MonthlySchema `json:"monthlySchemaData,omitempty"`
	Yearly  *YearlySchema  `json:"yearlySchemaData,omitempty"`
}

// Validate checks that the sub-schema matching the active type is
// present. Extra sub-schemas are tolerated.
func (s *SeriesSchema) Validate() error {
	switch s.Type {
	case SchemaDaily:
		if s.Daily == nil {
			return fmt.Errorf("daily schema without dailySchemaData")
		}
	case SchemaWeekly:
		if s.Weekly == nil {
			return fmt.Errorf("weekly schema without weeklySchemaData")
		}
	case SchemaMonthly:
		if s.Monthly == nil {
			return fmt.Errorf("monthly schema without monthlySchemaData")
		}
	case SchemaYearly:
		if s.Yearly == nil {
			return fmt.Errorf("yearly schema without yearlySchemaData")
		}
	case SchemaArrhythmic:
		// Irregular series carry explicit occurrence dates instead of
		// a pattern; nothing to check here, translation rejects them.
	default:
		return fmt.Errorf("unknown schemaType %q", s.Type)
	}
	return nil
}

// Event is one record as returned by the upstream API. Which fields are
// meaningful depends on Mode: single events carry absolute start/end
// datetimes, serial events carry series bounds plus occurrence times as
// seconds from midnight in the server's local zone.
type Event struct {
	Key          string `json:"key"`
	OccurrenceID string `json:"occurrenceId,omitempty"`
	// Mode is absent on occurrence-listing rows; Validate derives it
	// from OccurrenceID there.
	Mode     Mode   `json:"eventMode,omitempty"`
	OwnerKey string `json:"ownerKey,omitempty"`

	Subject  string `json:"subject,omitempty"`
	Content  string `json:"content,omitempty"`
	Location string `json:"location,omitempty"`
	Category string `json:"eventCategory,omitempty"`
	Private  bool   `json:"private,omitempty"`
	WholeDay bool   `json:"wholeDayEvent,omitempty"`

	ReminderEnabled   bool `json:"reminderEnabled,omitempty"`
	RemindBeforeStart int  `json:"remindBeforeStart,omitempty"` // seconds

	// Single mode. Strict YYYY-MM-DDTHH:MM:SSZ form.
	StartDateTime string `json:"startDateTime,omitempty"`
	EndDateTime   string `json:"endDateTime,omitempty"`

	// Serial mode. Dates are YYYY-MM-DD; occurrence times are seconds
	// from midnight in the server-local zone, not UTC.
	SeriesStartDate        string        `json:"seriesStartDate,omitempty"`
	SeriesEndDate          string        `json:"seriesEndDate,omitempty"`
	OccurrenceStartSeconds float64       `json:"occurrenceStartTime,omitempty"`
	OccurrenceEndSeconds   float64       `json:"occurrenceEndTime,omitempty"`
	Schema                 *SeriesSchema `json:"seriesSchema,omitempty"`
}

// Validate enforces the mode-dependent required fields at the
// deserialization boundary, so the rest of the adapter never has to
// deal with an untyped or half-formed record. The occurrence listing
// omits eventMode entirely, so a missing mode is filled in here: rows
// carrying an occurrenceId belong to a recurring series, everything
// else is a one-off event.
func (e *Event) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("event without key")
	}
	if e.Mode == "" {
		if e.IsOccurrenceRow() {
			e.Mode = ModeSerial
		} else {
			e.Mode = ModeSingle
		}
	}
	switch e.Mode {
	case ModeSingle:
		if e.StartDateTime == "" {
			return fmt.Errorf("single event %s without startDateTime", e.Key)
		}
	case ModeSerial:
		if e.IsOccurrenceRow() {
			// A listing row. It carries occurrence times but not the
			// schema or series bounds; the resolver replaces it with
			// the full record before anything converts it.
			return nil
		}
		if e.SeriesStartDate == "" {
			return fmt.Errorf("serial event %s without seriesStartDate", e.Key)
		}
		if e.Schema != nil {
			if err := e.Schema.Validate(); err != nil {
				return fmt.Errorf("serial event %s: %w", e.Key, err)
			}
		}
	default:
		return fmt.Errorf("event %s has unknown eventMode %q", e.Key, e.Mode)
	}
	return nil
}

// IsOccurrenceRow reports whether this record came from the occurrence
// listing endpoint, which emits one row per occurrence and omits the
// recurrence schema. Such rows need a supplementary full fetch.
func (e *Event) IsOccurrenceRow() bool {
	return e.OccurrenceID != ""
}

// Patch is a partial event as sent in create and update request bodies.
// The upstream rejects empty PATCH bodies, so callers must keep at
// least one field present.
type Patch map[string]any

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool { return len(p) == 0 }

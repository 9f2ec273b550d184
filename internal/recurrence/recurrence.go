// Package recurrence translates between the upstream's series schemas
// and iCalendar recurrence rules, and resolves the first occurrence
// that actually satisfies a rule when the declared series start does
// not.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"informdav/internal/upstream"
)

// UnsupportedRecurrenceError marks a rule or schema shape that the
// other side of the translation cannot express.
type UnsupportedRecurrenceError struct {
	Reason string
}

func (e *UnsupportedRecurrenceError) Error() string {
	return "unsupported recurrence: " + e.Reason
}

// NoValidOccurrenceError means the declared series start never reaches
// an occurrence within one period of the rule's interval.
type NoValidOccurrenceError struct {
	Start time.Time
	Rule  string
}

func (e *NoValidOccurrenceError) Error() string {
	return fmt.Sprintf("no occurrence of %q within one period of %s", e.Rule, e.Start.Format("2006-01-02"))
}

// Rule is a translated recurrence rule. It is always derived from a
// SeriesSchema plus series bounds and never stored independently.
type Rule struct {
	option rrule.ROption
}

// Option returns a copy of the underlying rrule options, without a
// DTSTART anchor.
func (r *Rule) Option() rrule.ROption { return r.option }

// String renders the RRULE property value (no DTSTART).
func (r *Rule) String() string { return r.option.RRuleString() }

var weekdayByName = map[string]rrule.Weekday{
	"monday":    rrule.MO,
	"tuesday":   rrule.TU,
	"wednesday": rrule.WE,
	"thursday":  rrule.TH,
	"friday":    rrule.FR,
	"saturday":  rrule.SA,
	"sunday":    rrule.SU,
}

// nameByWeekdayIndex is keyed by rrule's weekday index (0 = Monday).
var nameByWeekdayIndex = [7]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

var businessDays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}

// FromSchema maps an upstream series schema onto a recurrence rule.
// seriesEnd, when non-zero, becomes an inclusive UNTIL bound at that
// date's end of day in loc (the zone the occurrence times use); a zero
// seriesEnd means the series is unbounded.
func FromSchema(schema *upstream.SeriesSchema, seriesStart, seriesEnd time.Time, loc *time.Location) (*Rule, error) {
	if schema == nil {
		return nil, &UnsupportedRecurrenceError{Reason: "missing series schema"}
	}
	if err := schema.Validate(); err != nil {
		return nil, &UnsupportedRecurrenceError{Reason: err.Error()}
	}

	var opt rrule.ROption
	switch schema.Type {
	case upstream.SchemaDaily:
		d := schema.Daily
		switch d.Regularity {
		case upstream.RegularityAllBusinessDays:
			// Expressed as a weekly Mon-Fri rule, matching how the
			// upstream itself schedules these series.
			opt.Freq = rrule.WEEKLY
			opt.Byweekday = append(opt.Byweekday, businessDays...)
		case upstream.RegularityInterval:
			opt.Freq = rrule.DAILY
			opt.Interval = intervalOrOne(d.DaysInterval)
		default:
			return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("daily regularity %q", d.Regularity)}
		}

	case upstream.SchemaWeekly:
		w := schema.Weekly
		opt.Freq = rrule.WEEKLY
		opt.Interval = intervalOrOne(w.WeeksInterval)
		if len(w.Weekdays) == 0 {
			// An empty weekday set defaults to the start date's weekday.
			opt.Byweekday = []rrule.Weekday{weekdayFromGoWeekday(seriesStart.Weekday())}
		} else {
			for _, name := range w.Weekdays {
				wd, ok := weekdayByName[name]
				if !ok {
					return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("unknown weekday %q", name)}
				}
				opt.Byweekday = append(opt.Byweekday, wd)
			}
		}

	case upstream.SchemaMonthly:
		m := schema.Monthly
		opt.Freq = rrule.MONTHLY
		opt.Interval = intervalOrOne(m.MonthsInterval)
		switch m.Regularity {
		case upstream.RegularitySpecificDate:
			if m.DayOfMonth < 1 || m.DayOfMonth > 31 {
				return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("day of month %d", m.DayOfMonth)}
			}
			opt.Bymonthday = []int{m.DayOfMonth}
		case upstream.RegularitySpecificDay:
			wd, ok := weekdayByName[m.Weekday]
			if !ok {
				return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("unknown weekday %q", m.Weekday)}
			}
			if m.WeekNumber < 1 || m.WeekNumber > 5 {
				return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("week number %d", m.WeekNumber)}
			}
			opt.Byweekday = []rrule.Weekday{wd.Nth(m.WeekNumber)}
		default:
			return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("monthly regularity %q", m.Regularity)}
		}

	case upstream.SchemaYearly:
		y := schema.Yearly
		opt.Freq = rrule.YEARLY
		if y.MonthOfYear < 1 || y.MonthOfYear > 12 {
			return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("month of year %d", y.MonthOfYear)}
		}
		opt.Bymonth = []int{y.MonthOfYear}
		switch y.Regularity {
		case upstream.RegularitySpecificDate:
			if y.DayOfMonth < 1 || y.DayOfMonth > 31 {
				return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("day of month %d", y.DayOfMonth)}
			}
			opt.Bymonthday = []int{y.DayOfMonth}
		case upstream.RegularitySpecificDay:
			wd, ok := weekdayByName[y.Weekday]
			if !ok {
				return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("unknown weekday %q", y.Weekday)}
			}
			if y.WeekNumber < 1 || y.WeekNumber > 5 {
				return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("week number %d", y.WeekNumber)}
			}
			opt.Byweekday = []rrule.Weekday{wd.Nth(y.WeekNumber)}
		default:
			return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("yearly regularity %q", y.Regularity)}
		}

	case upstream.SchemaArrhythmic:
		// Irregular series have no rule representation at all.
		return nil, &UnsupportedRecurrenceError{Reason: "arrhythmic series have no recurrence rule"}

	default:
		return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("schema type %q", schema.Type)}
	}

	if !seriesEnd.IsZero() {
		// Inclusive bound at end of day in the zone the occurrence
		// times are expressed in.
		opt.Until = time.Date(seriesEnd.Year(), seriesEnd.Month(), seriesEnd.Day(), 23, 59, 59, 0, loc).UTC()
	}

	return &Rule{option: opt}, nil
}

// FirstOccurrence advances from the declared series start to the first
// date that satisfies the rule. The declared start is not guaranteed to
// be a valid occurrence (a Mon/Wed/Fri rule may declare a Saturday
// start); the result is the anchor to use as DTSTART. Fails when no
// occurrence exists within one full period of the rule's interval.
func FirstOccurrence(seriesStart time.Time, rule *Rule) (time.Time, error) {
	opt := rule.option
	opt.Dtstart = seriesStart
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, &UnsupportedRecurrenceError{Reason: err.Error()}
	}

	first := r.After(seriesStart, true)
	if first.IsZero() || first.After(seriesStart.AddDate(0, 0, maxAdvanceDays(rule.option))) {
		return time.Time{}, &NoValidOccurrenceError{Start: seriesStart, Rule: rule.String()}
	}
	return first, nil
}

// maxAdvanceDays bounds how far the anchor may move past the declared
// start: one full period of the rule's interval.
func maxAdvanceDays(opt rrule.ROption) int {
	interval := intervalOrOne(opt.Interval)
	switch opt.Freq {
	case rrule.DAILY:
		return interval
	case rrule.WEEKLY:
		return 7 * interval
	case rrule.MONTHLY:
		return 31 * interval
	default: // yearly
		return 366 * interval
	}
}

// ToSchema is the write-path inverse of FromSchema. Any rule shape the
// upstream schema cannot express fails with an
// *UnsupportedRecurrenceError; UNTIL bounds are handled separately by
// the event converter (they map to seriesEndDate, not to the schema).
func ToSchema(opt *rrule.ROption) (*upstream.SeriesSchema, error) {
	if opt == nil {
		return nil, &UnsupportedRecurrenceError{Reason: "missing rule"}
	}
	if opt.Count != 0 {
		return nil, &UnsupportedRecurrenceError{Reason: "COUNT bounds are not expressible, only end dates"}
	}
	if len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return nil, &UnsupportedRecurrenceError{Reason: "rule part not expressible in a series schema"}
	}
	interval := intervalOrOne(opt.Interval)

	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 || len(opt.Bymonth) > 0 {
			return nil, &UnsupportedRecurrenceError{Reason: "daily rules cannot carry weekday or month selectors"}
		}
		return &upstream.SeriesSchema{
			Type: upstream.SchemaDaily,
			Daily: &upstream.DailySchema{
				Regularity:   upstream.RegularityInterval,
				DaysInterval: interval,
			},
		}, nil

	case rrule.WEEKLY:
		if len(opt.Bymonthday) > 0 || len(opt.Bymonth) > 0 {
			return nil, &UnsupportedRecurrenceError{Reason: "weekly rules cannot carry month selectors"}
		}
		if isBusinessDaySet(opt.Byweekday) && interval == 1 {
			return &upstream.SeriesSchema{
				Type:  upstream.SchemaDaily,
				Daily: &upstream.DailySchema{Regularity: upstream.RegularityAllBusinessDays},
			}, nil
		}
		weekdays := make([]string, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return nil, &UnsupportedRecurrenceError{Reason: "positional weekdays are not valid in weekly rules"}
			}
			weekdays = append(weekdays, nameByWeekdayIndex[wd.Day()])
		}
		return &upstream.SeriesSchema{
			Type: upstream.SchemaWeekly,
			Weekly: &upstream.WeeklySchema{
				Weekdays:      weekdays,
				WeeksInterval: interval,
			},
		}, nil

	case rrule.MONTHLY:
		if len(opt.Bymonth) > 0 {
			return nil, &UnsupportedRecurrenceError{Reason: "monthly rules cannot carry BYMONTH"}
		}
		switch {
		case len(opt.Bymonthday) == 1 && len(opt.Byweekday) == 0:
			day := opt.Bymonthday[0]
			if day < 1 {
				return nil, &UnsupportedRecurrenceError{Reason: "negative month days are not expressible"}
			}
			return &upstream.SeriesSchema{
				Type: upstream.SchemaMonthly,
				Monthly: &upstream.MonthlySchema{
					Regularity:     upstream.RegularitySpecificDate,
					DayOfMonth:     day,
					MonthsInterval: interval,
				},
			}, nil
		case len(opt.Byweekday) == 1 && len(opt.Bymonthday) == 0:
			wd := opt.Byweekday[0]
			if wd.N() < 1 {
				return nil, &UnsupportedRecurrenceError{Reason: "monthly weekday rules need a positive week number"}
			}
			return &upstream.SeriesSchema{
				Type: upstream.SchemaMonthly,
				Monthly: &upstream.MonthlySchema{
					Regularity:     upstream.RegularitySpecificDay,
					Weekday:        nameByWeekdayIndex[wd.Day()],
					WeekNumber:     wd.N(),
					MonthsInterval: interval,
				},
			}, nil
		default:
			return nil, &UnsupportedRecurrenceError{Reason: "monthly rules need exactly one day-of-month or one positional weekday"}
		}

	case rrule.YEARLY:
		if interval != 1 {
			return nil, &UnsupportedRecurrenceError{Reason: "multi-year intervals are not expressible"}
		}
		if len(opt.Bymonth) != 1 {
			return nil, &UnsupportedRecurrenceError{Reason: "yearly rules need exactly one BYMONTH"}
		}
		month := opt.Bymonth[0]
		switch {
		case len(opt.Bymonthday) == 1 && len(opt.Byweekday) == 0:
			day := opt.Bymonthday[0]
			if day < 1 {
				return nil, &UnsupportedRecurrenceError{Reason: "negative month days are not expressible"}
			}
			return &upstream.SeriesSchema{
				Type: upstream.SchemaYearly,
				Yearly: &upstream.YearlySchema{
					Regularity:  upstream.RegularitySpecificDate,
					MonthOfYear: month,
					DayOfMonth:  day,
				},
			}, nil
		case len(opt.Byweekday) == 1 && len(opt.Bymonthday) == 0:
			wd := opt.Byweekday[0]
			if wd.N() < 1 {
				return nil, &UnsupportedRecurrenceError{Reason: "yearly weekday rules need a positive week number"}
			}
			return &upstream.SeriesSchema{
				Type: upstream.SchemaYearly,
				Yearly: &upstream.YearlySchema{
					Regularity:  upstream.RegularitySpecificDay,
					MonthOfYear: month,
					Weekday:     nameByWeekdayIndex[wd.Day()],
					WeekNumber:  wd.N(),
				},
			}, nil
		default:
			return nil, &UnsupportedRecurrenceError{Reason: "yearly rules need exactly one day-of-month or one positional weekday"}
		}

	default:
		return nil, &UnsupportedRecurrenceError{Reason: fmt.Sprintf("frequency %v", opt.Freq)}
	}
}

func isBusinessDaySet(weekdays []rrule.Weekday) bool {
	if len(weekdays) != 5 {
		return false
	}
	seen := make(map[int]bool, 5)
	for _, wd := range weekdays {
		if wd.N() != 0 {
			return false
		}
		seen[wd.Day()] = true
	}
	for _, wd := range businessDays {
		if !seen[wd.Day()] {
			return false
		}
	}
	return true
}

func weekdayFromGoWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

func intervalOrOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

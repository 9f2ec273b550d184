package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"informdav/internal/upstream"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFromSchemaDaily(t *testing.T) {
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type:  upstream.SchemaDaily,
		Daily: &upstream.DailySchema{Regularity: upstream.RegularityInterval, DaysInterval: 3},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "FREQ=DAILY;INTERVAL=3", rule.String())
}

func TestFromSchemaAllBusinessDays(t *testing.T) {
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type:  upstream.SchemaDaily,
		Daily: &upstream.DailySchema{Regularity: upstream.RegularityAllBusinessDays},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, rule.String(), "FREQ=WEEKLY")
	assert.Contains(t, rule.String(), "BYDAY=MO,TU,WE,TH,FR")
}

func TestFromSchemaWeekly(t *testing.T) {
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type: upstream.SchemaWeekly,
		Weekly: &upstream.WeeklySchema{
			Weekdays:      []string{"monday", "wednesday", "friday"},
			WeeksInterval: 2,
		},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, rule.String(), "FREQ=WEEKLY")
	assert.Contains(t, rule.String(), "INTERVAL=2")
	assert.Contains(t, rule.String(), "BYDAY=MO,WE,FR")
}

func TestFromSchemaWeeklyDefaultsToStartWeekday(t *testing.T) {
	// 2026-01-12 is a Monday.
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type:   upstream.SchemaWeekly,
		Weekly: &upstream.WeeklySchema{},
	}, date(2026, 1, 12), time.Time{}, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, rule.String(), "BYDAY=MO")
}

func TestFromSchemaMonthly(t *testing.T) {
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type: upstream.SchemaMonthly,
		Monthly: &upstream.MonthlySchema{
			Regularity: upstream.RegularitySpecificDate,
			DayOfMonth: 15,
		},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, rule.String(), "FREQ=MONTHLY")
	assert.Contains(t, rule.String(), "BYMONTHDAY=15")

	rule, err = FromSchema(&upstream.SeriesSchema{
		Type: upstream.SchemaMonthly,
		Monthly: &upstream.MonthlySchema{
			Regularity: upstream.RegularitySpecificDay,
			Weekday:    "tuesday",
			WeekNumber: 2,
		},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, rule.String(), "BYDAY=+2TU")
}

func TestFromSchemaYearly(t *testing.T) {
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type: upstream.SchemaYearly,
		Yearly: &upstream.YearlySchema{
			Regularity:  upstream.RegularitySpecificDate,
			MonthOfYear: 6,
			DayOfMonth:  21,
		},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, rule.String(), "FREQ=YEARLY")
	assert.Contains(t, rule.String(), "BYMONTH=6")
	assert.Contains(t, rule.String(), "BYMONTHDAY=21")
}

func TestFromSchemaUntilBound(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	rule, err := FromSchema(&upstream.SeriesSchema{
		Type:  upstream.SchemaDaily,
		Daily: &upstream.DailySchema{Regularity: upstream.RegularityInterval, DaysInterval: 1},
	}, date(2026, 1, 10), date(2026, 3, 31), berlin)
	require.NoError(t, err)
	// 23:59:59 CEST on 2026-03-31 is 21:59:59 UTC.
	assert.Contains(t, rule.String(), "UNTIL=20260331T215959Z")
}

func TestFromSchemaRejectsArrhythmic(t *testing.T) {
	_, err := FromSchema(&upstream.SeriesSchema{Type: upstream.SchemaArrhythmic},
		date(2026, 1, 10), time.Time{}, time.UTC)
	var ue *UnsupportedRecurrenceError
	require.ErrorAs(t, err, &ue)
}

func TestFirstOccurrenceAdvancesToMatchingDay(t *testing.T) {
	// Series declared to start Saturday 2026-01-10 but recurring
	// Mon/Wed/Fri: the anchor is Monday 2026-01-12.
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type: upstream.SchemaWeekly,
		Weekly: &upstream.WeeklySchema{
			Weekdays: []string{"monday", "wednesday", "friday"},
		},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)

	first, err := FirstOccurrence(date(2026, 1, 10), rule)
	require.NoError(t, err)
	assert.Equal(t, date(2026, 1, 12), first)
}

func TestFirstOccurrenceKeepsValidStart(t *testing.T) {
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type: upstream.SchemaWeekly,
		Weekly: &upstream.WeeklySchema{
			Weekdays: []string{"saturday"},
		},
	}, date(2026, 1, 10), time.Time{}, time.UTC)
	require.NoError(t, err)

	first, err := FirstOccurrence(date(2026, 1, 10), rule)
	require.NoError(t, err)
	assert.Equal(t, date(2026, 1, 10), first)
}

func TestFirstOccurrenceFailsWhenRuleNeverFires(t *testing.T) {
	// A rule bounded by UNTIL before the declared start has no
	// occurrences at all.
	rule, err := FromSchema(&upstream.SeriesSchema{
		Type:  upstream.SchemaDaily,
		Daily: &upstream.DailySchema{Regularity: upstream.RegularityInterval, DaysInterval: 1},
	}, date(2026, 1, 10), date(2026, 1, 5), time.UTC)
	require.NoError(t, err)

	_, err = FirstOccurrence(date(2026, 1, 10), rule)
	var ne *NoValidOccurrenceError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, date(2026, 1, 10), ne.Start)
}

func TestToSchemaRoundTrip(t *testing.T) {
	schemas := []*upstream.SeriesSchema{
		{
			Type:  upstream.SchemaDaily,
			Daily: &upstream.DailySchema{Regularity: upstream.RegularityInterval, DaysInterval: 2},
		},
		{
			Type:  upstream.SchemaDaily,
			Daily: &upstream.DailySchema{Regularity: upstream.RegularityAllBusinessDays},
		},
		{
			Type: upstream.SchemaWeekly,
			Weekly: &upstream.WeeklySchema{
				Weekdays:      []string{"monday", "friday"},
				WeeksInterval: 3,
			},
		},
		{
			Type: upstream.SchemaMonthly,
			Monthly: &upstream.MonthlySchema{
				Regularity:     upstream.RegularitySpecificDate,
				DayOfMonth:     15,
				MonthsInterval: 1,
			},
		},
		{
			Type: upstream.SchemaMonthly,
			Monthly: &upstream.MonthlySchema{
				Regularity:     upstream.RegularitySpecificDay,
				Weekday:        "thursday",
				WeekNumber:     3,
				MonthsInterval: 1,
			},
		},
		{
			Type: upstream.SchemaYearly,
			Yearly: &upstream.YearlySchema{
				Regularity:  upstream.RegularitySpecificDate,
				MonthOfYear: 12,
				DayOfMonth:  24,
			},
		},
		{
			Type: upstream.SchemaYearly,
			Yearly: &upstream.YearlySchema{
				Regularity:  upstream.RegularitySpecificDay,
				MonthOfYear: 11,
				Weekday:     "thursday",
				WeekNumber:  4,
			},
		},
	}

	for _, schema := range schemas {
		rule, err := FromSchema(schema, date(2026, 1, 10), time.Time{}, time.UTC)
		require.NoError(t, err, "schema %+v", schema)

		opt, err := rrule.StrToROption(rule.String())
		require.NoError(t, err)

		back, err := ToSchema(opt)
		require.NoError(t, err, "rule %s", rule.String())
		assert.Equal(t, schema, back, "rule %s", rule.String())
	}
}

func TestToSchemaRejectsUnsupportedParts(t *testing.T) {
	tests := []struct {
		name string
		rule string
	}{
		{"count", "FREQ=DAILY;COUNT=10"},
		{"bysetpos", "FREQ=MONTHLY;BYDAY=MO,TU,WE,TH,FR;BYSETPOS=-1"},
		{"hourly", "FREQ=HOURLY"},
		{"negative monthday", "FREQ=MONTHLY;BYMONTHDAY=-1"},
		{"multi-year interval", "FREQ=YEARLY;INTERVAL=2;BYMONTH=6;BYMONTHDAY=1"},
		{"yearly without month", "FREQ=YEARLY;BYMONTHDAY=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := rrule.StrToROption(tt.rule)
			require.NoError(t, err)
			_, err = ToSchema(opt)
			var ue *UnsupportedRecurrenceError
			require.ErrorAs(t, err, &ue)
		})
	}
}

func TestToSchemaNormalizesBusinessDays(t *testing.T) {
	opt, err := rrule.StrToROption("FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR")
	require.NoError(t, err)
	schema, err := ToSchema(opt)
	require.NoError(t, err)
	assert.Equal(t, upstream.SchemaDaily, schema.Type)
	require.NotNil(t, schema.Daily)
	assert.Equal(t, upstream.RegularityAllBusinessDays, schema.Daily.Regularity)
}

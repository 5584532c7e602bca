package entities

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// RecurrencePattern is the calendar unit a series repeats on
type RecurrencePattern string

const (
	RecurrenceDaily     RecurrencePattern = "daily"
	RecurrenceWeekly    RecurrencePattern = "weekly"
	RecurrenceBiweekly  RecurrencePattern = "biweekly"
	RecurrenceMonthly   RecurrencePattern = "monthly"
	RecurrenceQuarterly RecurrencePattern = "quarterly"
	RecurrenceYearly    RecurrencePattern = "yearly"
)

// RecurrenceRule describes how a recurring series repeats. A rule with
// neither Count nor Until repeats up to the caller's occurrence cap.
type RecurrenceRule struct {
	Pattern  RecurrencePattern `json:"pattern"`
	Interval int               `json:"interval,omitempty"`

	// DaysOfWeek picks weekdays within each active week. Weekly only.
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	// DayOfMonth pins later occurrences to a day, clamped to short months. Monthly only.
	DayOfMonth int `json:"day_of_month,omitempty"`

	Count int        `json:"count,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// Validate checks the rule independently of any start time
func (r RecurrenceRule) Validate() error {
	switch r.Pattern {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceBiweekly, RecurrenceMonthly, RecurrenceQuarterly, RecurrenceYearly:
	case "":
		return errors.New("recurrence pattern is required")
	default:
		return fmt.Errorf("unknown recurrence pattern %q", r.Pattern)
	}
	if r.Interval < 0 {
		return errors.New("recurrence interval must be at least 1")
	}
	if r.Count < 0 {
		return errors.New("recurrence count must be at least 1")
	}
	if r.Count > 0 && r.Until != nil {
		return errors.New("recurrence takes either count or until, not both")
	}
	if len(r.DaysOfWeek) > 0 {
		if r.Pattern != RecurrenceWeekly {
			return errors.New("days_of_week applies to weekly recurrence only")
		}
		seen := make(map[time.Weekday]bool, len(r.DaysOfWeek))
		for _, d := range r.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("invalid weekday %d", d)
			}
			if seen[d] {
				return fmt.Errorf("weekday %s listed twice", d)
			}
			seen[d] = true
		}
	}
	if r.DayOfMonth != 0 {
		if r.Pattern != RecurrenceMonthly {
			return errors.New("day_of_month applies to monthly recurrence only")
		}
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("day_of_month must be between 1 and 31, got %d", r.DayOfMonth)
		}
	}
	return nil
}

// Occurrences expands the rule from first, keeping first's time of day
// and length. first is always the first occurrence. Expansion stops at
// Count, before Until, or at max; a rule that would need more than max
// occurrences is rejected.
func (r RecurrenceRule) Occurrences(first TimeRange, max int) ([]TimeRange, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !first.Valid() {
		return nil, errors.New("first occurrence must start before it ends")
	}
	if max < 1 {
		max = 1
	}
	if r.Count > max {
		return nil, fmt.Errorf("recurrence count %d exceeds the limit of %d occurrences", r.Count, max)
	}
	if r.Until != nil && !r.Until.After(first.Start) {
		return nil, errors.New("recurrence until must be after the first occurrence")
	}

	limit := max
	if r.Count > 0 {
		limit = r.Count
	}

	start := first.Start.UTC()
	length := first.Duration()
	next := r.stepper(start)

	out := make([]TimeRange, 0, limit)
	for candidate := start; ; candidate = next() {
		if r.Until != nil && !candidate.Before(*r.Until) {
			break
		}
		if len(out) == limit {
			if r.Until != nil {
				return nil, fmt.Errorf("recurrence until %s exceeds the limit of %d occurrences",
					r.Until.UTC().Format(time.RFC3339), max)
			}
			break
		}
		out = append(out, TimeRange{Start: candidate, End: candidate.Add(length)})
	}
	return out, nil
}

// stepper returns a generator of the occurrences after start
func (r RecurrenceRule) stepper(start time.Time) func() time.Time {
	interval := r.Interval
	if interval == 0 {
		interval = 1
	}

	if r.Pattern == RecurrenceWeekly && len(r.DaysOfWeek) > 0 {
		return weekdayStepper(start, interval, r.DaysOfWeek)
	}

	i := 0
	return func() time.Time {
		i++
		switch r.Pattern {
		case RecurrenceDaily:
			return start.AddDate(0, 0, i*interval)
		case RecurrenceWeekly:
			return start.AddDate(0, 0, 7*i*interval)
		case RecurrenceBiweekly:
			return start.AddDate(0, 0, 14*i*interval)
		case RecurrenceMonthly:
			day := start.Day()
			if r.DayOfMonth != 0 {
				day = r.DayOfMonth
			}
			return addMonthsClamped(start, i*interval, day)
		case RecurrenceQuarterly:
			return addMonthsClamped(start, 3*i*interval, start.Day())
		default:
			return addMonthsClamped(start, 12*i*interval, start.Day())
		}
	}
}

// weekdayStepper walks the chosen weekdays of every interval-th week,
// counting weeks from the Sunday on or before start.
func weekdayStepper(start time.Time, interval int, days []time.Weekday) func() time.Time {
	sorted := append([]time.Weekday(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	weekStart := start.AddDate(0, 0, -int(start.Weekday()))
	week, idx := 0, 0
	return func() time.Time {
		for {
			if idx == len(sorted) {
				idx = 0
				week += interval
			}
			candidate := weekStart.AddDate(0, 0, 7*week+int(sorted[idx]))
			idx++
			if candidate.After(start) {
				return candidate
			}
		}
	}
}

// addMonthsClamped moves t by n months onto day, or the month's last day when shorter
func addMonthsClamped(t time.Time, n, day int) time.Time {
	firstOfMonth := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	last := firstOfMonth.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return firstOfMonth.AddDate(0, 0, day-1)
}

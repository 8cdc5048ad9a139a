package service

import (
	"sort"
	"time"

	"voice-planner/internal/model"
)

const (
	// MaxRecurringReminders bounds how many reminders one recurrence may produce.
	MaxRecurringReminders = 10

	generationLimit      = 1000
	defaultReminderHour  = 9
	earliestReminderHour = 7
	latestReminderHour   = 22
)

var defaultWeekdays = []time.Weekday{time.Monday, time.Wednesday, time.Friday}

// TimeOfDay is a local wall-clock time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ClampTimeOfDay keeps reminders inside 07:00-22:00 and away from midnight,
// falling back to 09:00.
func ClampTimeOfDay(hour, minute int) TimeOfDay {
	outside := hour < earliestReminderHour || hour > latestReminderHour ||
		(hour == latestReminderHour && minute > 0)
	if outside || minute < 0 || minute > 59 {
		return TimeOfDay{Hour: defaultReminderHour}
	}
	return TimeOfDay{Hour: hour, Minute: minute}
}

// RecurrencePlanner materializes a bounded reminder list from a recurrence:
// the first stretch fully populated, the remainder sampled sparsely up to the
// last occurrence.
type RecurrencePlanner struct {
	max int
}

func NewRecurrencePlanner(max int) *RecurrencePlanner {
	if max <= 0 || max > MaxRecurringReminders {
		max = MaxRecurringReminders
	}
	return &RecurrencePlanner{max: max}
}

func (p *RecurrencePlanner) Max() int {
	return p.max
}

// Materialize returns at most Max() reminder instants for pattern, all after from.
func (p *RecurrencePlanner) Materialize(pattern model.RecurrencePattern, from time.Time, loc *time.Location, clock TimeOfDay) []time.Time {
	return p.Select(pattern.Frequency, p.Occurrences(pattern, from, loc, clock))
}

// Occurrences lists the logical occurrences of pattern strictly after from.
// Without a total or an end date the list stops at Max() entries.
func (p *RecurrencePlanner) Occurrences(pattern model.RecurrencePattern, from time.Time, loc *time.Location, clock TimeOfDay) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	limit := pattern.TotalOccurrences
	if limit <= 0 && pattern.EndDate == nil {
		limit = p.max
	}
	if limit <= 0 || limit > generationLimit {
		limit = generationLimit
	}
	interval := pattern.Interval
	if interval < 1 {
		interval = 1
	}

	var out []time.Time
	// emit reports whether generation should continue.
	emit := func(t time.Time) bool {
		if pattern.EndDate != nil && t.After(*pattern.EndDate) {
			return false
		}
		out = append(out, t.UTC())
		return len(out) < limit
	}

	local := from.In(loc)
	y, m, d := local.Date()
	at := func(year int, month time.Month, day int) time.Time {
		return time.Date(year, month, day, clock.Hour, clock.Minute, 0, 0, loc)
	}

	switch pattern.Frequency {
	case model.FrequencyWeekly:
		days := weekdaySet(pattern.DaysOfWeek)
		offset := (int(local.Weekday()) + 6) % 7
		for i := 0; i < generationLimit*7*interval; i++ {
			day := at(y, m, d+i)
			if ((i+offset)/7)%interval != 0 || !days[day.Weekday()] || !day.After(from) {
				continue
			}
			if !emit(day) {
				break
			}
		}
	case model.FrequencyMonthly:
		for i := 0; i <= generationLimit; i++ {
			t := at(y, m+time.Month(i*interval), 5)
			if !t.After(from) {
				continue
			}
			if !emit(t) {
				break
			}
		}
	case model.FrequencyYearly:
		for i := 0; i <= generationLimit; i++ {
			t := at(y+i*interval, m, d)
			if !t.After(from) {
				continue
			}
			if !emit(t) {
				break
			}
		}
	default:
		for i := 0; i <= generationLimit; i++ {
			t := at(y, m, d+i*interval)
			if !t.After(from) {
				continue
			}
			if !emit(t) {
				break
			}
		}
	}
	return out
}

// Select caps times at Max(): a dense head followed by evenly spaced samples
// of the tail, always keeping the final occurrence.
func (p *RecurrencePlanner) Select(freq model.Frequency, times []time.Time) []time.Time {
	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	if len(sorted) <= p.max {
		return sorted
	}

	dense := p.denseCount(freq, sorted)
	out := append(make([]time.Time, 0, p.max), sorted[:dense]...)
	rest := sorted[dense:]
	k, n := p.max-dense, len(rest)
	for j := 0; j < k; j++ {
		out = append(out, rest[(j+1)*n/k-1])
	}
	return out
}

func (p *RecurrencePlanner) denseCount(freq model.Frequency, sorted []time.Time) int {
	var dense int
	switch freq {
	case model.FrequencyDaily:
		dense = 7
	case model.FrequencyWeekly:
		horizon := sorted[0].Add(14 * 24 * time.Hour)
		for _, t := range sorted {
			if t.Before(horizon) {
				dense++
			}
		}
		if dense > 7 {
			dense = 7
		}
	default:
		dense = 3
	}
	if dense >= p.max {
		dense = p.max - 1
	}
	if dense < 0 {
		dense = 0
	}
	return dense
}

// weekdaySet maps 1=Monday..7=Sunday (0 also Sunday) to weekdays.
func weekdaySet(days []int) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, 7)
	for _, d := range days {
		if d >= 0 && d <= 7 {
			set[time.Weekday(d%7)] = true
		}
	}
	if len(set) == 0 {
		for _, wd := range defaultWeekdays {
			set[wd] = true
		}
	}
	return set
}

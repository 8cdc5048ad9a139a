package model

import (
	"strings"
	"time"
)

// Frequency is the unit of a recurrence.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func ParseFrequency(raw string) Frequency {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(raw))); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return f
	default:
		return FrequencyDaily
	}
}

// RecurrencePattern is kept on a recurring task so later jobs can expand it
// beyond the initially materialized reminders. DaysOfWeek uses 1=Monday..7=Sunday.
type RecurrencePattern struct {
	Frequency        Frequency  `json:"frequency"`
	Interval         int        `json:"interval"`
	DaysOfWeek       []int      `json:"days_of_week,omitempty"`
	TotalOccurrences int        `json:"total_occurrences,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
}

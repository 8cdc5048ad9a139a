package model

import "strings"

// Category groups tasks by life area.
type Category string

const (
	CategoryWork      Category = "work"
	CategoryPersonal  Category = "personal"
	CategoryHealth    Category = "health"
	CategoryLearning  Category = "learning"
	CategorySocial    Category = "social"
	CategoryFinance   Category = "finance"
	CategoryHousehold Category = "household"
	CategoryOther     Category = "other"
)

var knownCategories = map[Category]struct{}{
	CategoryWork:      {},
	CategoryPersonal:  {},
	CategoryHealth:    {},
	CategoryLearning:  {},
	CategorySocial:    {},
	CategoryFinance:   {},
	CategoryHousehold: {},
	CategoryOther:     {},
}

// ParseCategory coerces free text into a known category, falling back to other.
func ParseCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownCategories[c]; ok {
		return c
	}
	return CategoryOther
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority coerces free text into a known priority, falling back to medium.
func ParsePriority(raw string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p
	default:
		return PriorityMedium
	}
}

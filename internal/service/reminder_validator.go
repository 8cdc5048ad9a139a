package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"voice-planner/internal/model"
)

const (
	conflictWindow        = 30 * time.Minute
	defaultReminderOffset = 15 * time.Minute

	QueryTypeParseError   = "parse_error"
	QueryTypeTaskCreation = "task_creation"
)

// ReminderDraft is a reminder as proposed by the assistant or an API caller.
type ReminderDraft struct {
	ReminderTime string                  `json:"reminder_time"`
	Message      string                  `json:"message"`
	Type         string                  `json:"type"`
	Notification *model.NotificationText `json:"notification,omitempty"`
}

type PatternDraft struct {
	Frequency        string `json:"frequency"`
	Interval         int    `json:"interval"`
	DaysOfWeek       []int  `json:"days_of_week,omitempty"`
	TotalOccurrences int    `json:"total_occurrences,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
}

// TaskDraft is an unvalidated task.
type TaskDraft struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Priority         string          `json:"priority"`
	Category         string          `json:"category"`
	DueDate          string          `json:"due_date,omitempty"`
	Reminders        []ReminderDraft `json:"reminders"`
	IsRecurring      bool            `json:"is_recurring"`
	RecurringPattern *PatternDraft   `json:"recurring_pattern,omitempty"`
}

type SuggestionType string

const (
	SuggestionOptimization SuggestionType = "optimization"
	SuggestionAlternative  SuggestionType = "alternative"
	SuggestionAdditional   SuggestionType = "additional"
	SuggestionInformation  SuggestionType = "information"
)

func parseSuggestionType(raw string) SuggestionType {
	switch t := SuggestionType(strings.ToLower(strings.TrimSpace(raw))); t {
	case SuggestionOptimization, SuggestionAlternative, SuggestionAdditional, SuggestionInformation:
		return t
	default:
		return SuggestionAdditional
	}
}

type Suggestion struct {
	Type        SuggestionType `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
}

// Proposal is the structured payload the assistant returns for one user turn.
type Proposal struct {
	QueryType   string       `json:"query_type"`
	Tasks       []TaskDraft  `json:"tasks"`
	Suggestions []Suggestion `json:"suggestions"`
	Message     string       `json:"message"`
}

// ProposalResult is a validated proposal.
type ProposalResult struct {
	Success     bool         `json:"success"`
	QueryType   string       `json:"query_type"`
	Tasks       []model.Task `json:"tasks"`
	Suggestions []Suggestion `json:"suggestions"`
	Message     string       `json:"message"`
	Error       string       `json:"error,omitempty"`
}

// ReminderValidator repairs or drops untrusted reminder schedules.
type ReminderValidator struct {
	times   *TimeNormalizer
	planner *RecurrencePlanner
}

func NewReminderValidator(times *TimeNormalizer, planner *RecurrencePlanner) *ReminderValidator {
	return &ReminderValidator{times: times, planner: planner}
}

// ValidatePayload parses raw assistant output and validates it. Unusable
// output yields a parse_error result with no tasks.
func (v *ReminderValidator) ValidatePayload(raw []byte, tz string) ProposalResult {
	p, err := parseProposal(string(raw))
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("unparsable proposal")
		return ProposalResult{
			Success:     false,
			QueryType:   QueryTypeParseError,
			Tasks:       []model.Task{},
			Suggestions: []Suggestion{},
			Message:     "I couldn't understand that request. Please try rephrasing it.",
			Error:       err.Error(),
		}
	}
	return v.Validate(p, tz)
}

// Validate validates every task and flags reminders across the whole batch
// that sit closer than 30 minutes to each other.
func (v *ReminderValidator) Validate(p Proposal, tz string) ProposalResult {
	res := ProposalResult{
		Success:     true,
		QueryType:   strings.TrimSpace(p.QueryType),
		Tasks:       make([]model.Task, 0, len(p.Tasks)),
		Suggestions: make([]Suggestion, 0, len(p.Suggestions)),
		Message:     p.Message,
	}
	if res.QueryType == "" {
		res.QueryType = QueryTypeTaskCreation
	}
	for i, draft := range p.Tasks {
		res.Tasks = append(res.Tasks, v.ValidateTask(draft, tz, i))
	}
	for _, s := range p.Suggestions {
		s.Type = parseSuggestionType(string(s.Type))
		res.Suggestions = append(res.Suggestions, s)
	}
	res.Suggestions = append(res.Suggestions, v.conflictSuggestions(res.Tasks)...)
	return res
}

// ValidateTask returns the repaired task. index numbers untitled tasks.
// The result carries no id, owner or status.
func (v *ReminderValidator) ValidateTask(d TaskDraft, tz string, index int) model.Task {
	now := v.times.Now()
	loc := v.times.Location(tz)

	task := model.Task{
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Priority:    model.ParsePriority(d.Priority),
		Category:    model.ParseCategory(d.Category),
		IsRecurring: d.IsRecurring,
		Reminders:   []model.Reminder{},
	}
	if task.Title == "" {
		task.Title = fmt.Sprintf("Task %d", index+1)
	}
	if task.Description == "" {
		task.Description = task.Title
	}

	if strings.TrimSpace(d.DueDate) != "" {
		due, err := v.times.ResolveWallClock(d.DueDate, tz)
		if err != nil {
			log.Warn().Err(err).Str("title", task.Title).Msg("dropping malformed due date")
		} else {
			due = fixMidnight(due)
			task.DueDate = &due
		}
	}

	var times []time.Time
	drafts := make(map[time.Time]ReminderDraft)
	for _, rd := range d.Reminders {
		at, ok := v.acceptReminder(rd, tz, task.DueDate)
		if !ok {
			continue
		}
		if _, dup := drafts[at]; dup {
			continue
		}
		drafts[at] = rd
		times = append(times, at)
	}

	if d.IsRecurring && d.RecurringPattern != nil {
		pattern := v.pattern(*d.RecurringPattern, tz)
		task.RecurringPattern = &pattern
		if len(times) == 0 {
			clock := TimeOfDay{Hour: defaultReminderHour}
			for _, rd := range d.Reminders {
				if t, err := v.times.Resolve(rd.ReminderTime, tz); err == nil {
					local := t.In(loc)
					clock = ClampTimeOfDay(local.Hour(), local.Minute())
					break
				}
			}
			for _, t := range v.planner.Materialize(pattern, now, loc, clock) {
				if task.DueDate == nil || !t.After(*task.DueDate) {
					times = append(times, t)
				}
			}
		} else {
			times = v.planner.Select(pattern.Frequency, times)
		}
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for _, at := range times {
		rd := drafts[at]
		r := model.Reminder{
			ID:           model.NewReminderID(),
			ReminderTime: at.UTC().Format(time.RFC3339),
			Message:      strings.TrimSpace(rd.Message),
			Type:         model.ParseReminderType(rd.Type),
			CreatedAt:    now,
		}
		if r.Message == "" {
			r.Message = "Reminder for " + task.Title
		}
		if n := rd.Notification; n != nil && strings.TrimSpace(n.Title) != "" && strings.TrimSpace(n.Body) != "" {
			r.Notification = &model.NotificationText{Title: strings.TrimSpace(n.Title), Body: strings.TrimSpace(n.Body)}
		}
		task.Reminders = append(task.Reminders, r)
	}

	if len(task.Reminders) == 0 {
		if r, ok := defaultReminder(task, now, loc); ok {
			task.Reminders = append(task.Reminders, r)
		}
	}
	return task
}

// acceptReminder resolves a proposed reminder and reports whether it survives:
// parseable, not in the past, not after the due date.
func (v *ReminderValidator) acceptReminder(rd ReminderDraft, tz string, due *time.Time) (time.Time, bool) {
	at, err := v.times.Resolve(rd.ReminderTime, tz)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed reminder time")
		return time.Time{}, false
	}
	at, ok := v.times.Normalize(at, tz, true)
	if !ok {
		log.Debug().Str("reminder_time", rd.ReminderTime).Msg("dropping past reminder")
		return time.Time{}, false
	}
	if due != nil && at.After(*due) {
		log.Debug().Str("reminder_time", rd.ReminderTime).Time("due_date", *due).Msg("dropping reminder after due date")
		return time.Time{}, false
	}
	return at, true
}

func (v *ReminderValidator) pattern(d PatternDraft, tz string) model.RecurrencePattern {
	p := model.RecurrencePattern{
		Frequency:        model.ParseFrequency(d.Frequency),
		Interval:         d.Interval,
		TotalOccurrences: d.TotalOccurrences,
	}
	if p.Interval < 1 {
		p.Interval = 1
	}
	if p.TotalOccurrences < 0 {
		p.TotalOccurrences = 0
	}
	for _, day := range d.DaysOfWeek {
		if day >= 0 && day <= 7 {
			if day == 0 {
				day = 7
			}
			p.DaysOfWeek = append(p.DaysOfWeek, day)
		}
	}
	if strings.TrimSpace(d.EndDate) != "" {
		if end, err := v.times.ResolveWallClock(d.EndDate, tz); err == nil {
			end = fixMidnight(end)
			p.EndDate = &end
		}
	}
	return p
}

func (v *ReminderValidator) conflictSuggestions(tasks []model.Task) []Suggestion {
	type entry struct {
		at    time.Time
		title string
	}
	var all []entry
	for _, t := range tasks {
		for _, r := range t.Reminders {
			if at, err := time.Parse(time.RFC3339, r.ReminderTime); err == nil {
				all = append(all, entry{at: at, title: t.Title})
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	var details []Suggestion
	for i := 1; i < len(all); i++ {
		gap := all[i].at.Sub(all[i-1].at)
		if gap >= conflictWindow {
			continue
		}
		details = append(details, Suggestion{
			Type:  SuggestionInformation,
			Title: "Close reminders",
			Description: fmt.Sprintf("Reminders for %q and %q are %d minutes apart.",
				all[i-1].title, all[i].title, int(gap.Minutes())),
		})
	}
	if len(details) == 0 {
		return nil
	}
	head := Suggestion{
		Type:        SuggestionOptimization,
		Title:       "Reminder Time Conflicts Detected",
		Description: fmt.Sprintf("%d reminder pair(s) are less than 30 minutes apart. Consider spacing them out.", len(details)),
	}
	return append([]Suggestion{head}, details...)
}

// fixMidnight moves a 00:00:00 deadline to 23:59:59 the same day, reading t
// on the clock it was written in, and returns the result in UTC.
func fixMidnight(t time.Time) time.Time {
	if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
		return t.UTC()
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location()).UTC()
}

// defaultReminder picks 09:00 local on the due date, or shortly from now when
// that slot is gone or there is no due date. Fallbacks stay inside 07:00-22:00
// local and the result must precede the due date.
func defaultReminder(task model.Task, now time.Time, loc *time.Location) (model.Reminder, bool) {
	var at time.Time
	if task.DueDate != nil {
		due := *task.DueDate
		y, m, d := due.In(loc).Date()
		at = time.Date(y, m, d, defaultReminderHour, 0, 0, 0, loc).UTC()
		if at.Before(now) {
			at = nextAllowedSlot(now.Add(defaultReminderOffset), loc)
		}
		if !at.Before(due) {
			return model.Reminder{}, false
		}
	} else {
		at = nextAllowedSlot(now.Add(defaultReminderOffset), loc)
	}

	typ := model.ReminderTypePreparation
	if task.DueDate != nil {
		typ = model.ReminderTypeDeadline
	}
	return model.Reminder{
		ID:           model.NewReminderID(),
		ReminderTime: at.Truncate(time.Second).Format(time.RFC3339),
		Message:      "Don't forget: " + task.Title,
		Type:         typ,
		CreatedAt:    now,
	}, true
}

// nextAllowedSlot returns t when it falls inside 07:00-22:00 local, otherwise
// the next 09:00.
func nextAllowedSlot(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	if ClampTimeOfDay(local.Hour(), local.Minute()) == (TimeOfDay{Hour: local.Hour(), Minute: local.Minute()}) {
		return t.UTC()
	}
	y, m, d := local.Date()
	next := time.Date(y, m, d, defaultReminderHour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(y, m, d+1, defaultReminderHour, 0, 0, 0, loc)
	}
	return next.UTC()
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// parseProposal extracts the JSON object from assistant text: bare JSON, a
// fenced code block, or the outermost braces.
func parseProposal(text string) (Proposal, error) {
	strategies := []func(string) (string, bool){
		extractWholeJSON,
		extractJSONFromCodeBlock,
		extractJSONFromBraces,
	}
	for _, strategy := range strategies {
		candidate, ok := strategy(text)
		if !ok {
			continue
		}
		var p Proposal
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			continue
		}
		return p, nil
	}
	return Proposal{}, fmt.Errorf("no valid JSON object found in response")
}

func extractWholeJSON(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	return cleaned, strings.HasPrefix(cleaned, "{") && json.Valid([]byte(cleaned))
}

func extractJSONFromCodeBlock(text string) (string, bool) {
	matches := codeBlockPattern.FindStringSubmatch(text)
	if len(matches) < 2 {
		return "", false
	}
	candidate := strings.TrimSpace(matches[1])
	return candidate, json.Valid([]byte(candidate))
}

func extractJSONFromBraces(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	return candidate, json.Valid([]byte(candidate))
}

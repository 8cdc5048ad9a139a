package service

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
)

// Layouts carrying an explicit offset or Z. Fractional seconds are accepted
// by time.Parse after the seconds field even when the layout omits them.
var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// TimeNormalizer turns reminder timestamps into UTC instants, reading naive
// timestamps as wall-clock time in the user's timezone.
type TimeNormalizer struct {
	now func() time.Time

	mu        sync.RWMutex
	locations map[string]*time.Location
}

func NewTimeNormalizer(now func() time.Time) *TimeNormalizer {
	if now == nil {
		now = time.Now
	}
	return &TimeNormalizer{now: now, locations: make(map[string]*time.Location)}
}

// Now returns the normalizer's clock in UTC.
func (n *TimeNormalizer) Now() time.Time {
	return n.now().UTC()
}

// Location resolves an IANA name, falling back to UTC for empty or unknown names.
func (n *TimeNormalizer) Location(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC
	}

	n.mu.RLock()
	loc, ok := n.locations[tz]
	n.mu.RUnlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Err(err).Str("timezone", tz).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}
	n.mu.Lock()
	n.locations[tz] = loc
	n.mu.Unlock()
	return loc
}

// Resolve parses raw into a UTC instant. raw may be a string, a time.Time or
// a *time.Time. Unparseable input is an error.
func (n *TimeNormalizer) Resolve(raw any, tz string) (time.Time, error) {
	t, err := n.ResolveWallClock(raw, tz)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ResolveWallClock is Resolve without the UTC conversion: the result keeps the
// clock raw was written in. Strings with an offset or Z keep that offset,
// naive strings are read in the user's timezone.
func (n *TimeNormalizer) ResolveWallClock(raw any, tz string) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("nil timestamp")
		}
		return *v, nil
	case string:
		return n.parse(v, tz)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

// Normalize resolves raw for the reminder pipeline. Malformed input falls back
// to the current instant. With checkIfPast set, instants strictly before now
// are rejected; scans pass false so overdue reminders stay visible.
func (n *TimeNormalizer) Normalize(raw any, tz string, checkIfPast bool) (time.Time, bool) {
	now := n.Now()
	t, err := n.Resolve(raw, tz)
	if err != nil {
		log.Warn().Err(err).Interface("raw", raw).Str("timezone", tz).Msg("malformed timestamp, using now")
		t = now
	}
	if checkIfPast && t.Before(now) {
		return time.Time{}, false
	}
	return t, true
}

func (n *TimeNormalizer) parse(raw, tz string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	loc := n.Location(tz)
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

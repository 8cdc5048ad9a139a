package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"voice-planner/internal/model"
)

// CooldownStore remembers when a notification kind last reached a user.
// The in-memory implementation is process local; several instances would
// need a shared store behind the same interface.
type CooldownStore interface {
	LastSent(key string) (time.Time, bool)
	SetLastSent(key string, at time.Time)
}

// MemoryCooldownStore keeps last-sent times in a bounded LRU whose entries
// expire after the longest cooldown window.
type MemoryCooldownStore struct {
	cache *expirable.LRU[string, time.Time]
}

func NewMemoryCooldownStore(size int, ttl time.Duration) *MemoryCooldownStore {
	if size <= 0 {
		size = 10_000
	}
	return &MemoryCooldownStore{cache: expirable.NewLRU[string, time.Time](size, nil, ttl)}
}

func (s *MemoryCooldownStore) LastSent(key string) (time.Time, bool) {
	return s.cache.Get(key)
}

func (s *MemoryCooldownStore) SetLastSent(key string, at time.Time) {
	s.cache.Add(key, at)
}

// FrequencyGuard suppresses repeat notifications of one kind about one
// subject inside that kind's window. The subject is the task for task
// notifications and empty for user-wide ones such as the daily summary, so
// reminders for different tasks never wait on each other.
type FrequencyGuard struct {
	store   CooldownStore
	windows map[model.NotificationKind]time.Duration
}

func NewFrequencyGuard(store CooldownStore, windows map[model.NotificationKind]time.Duration) *FrequencyGuard {
	return &FrequencyGuard{store: store, windows: windows}
}

// Allow reports whether a notification may go out at now.
func (g *FrequencyGuard) Allow(userID string, kind model.NotificationKind, subject string, now time.Time) bool {
	if g == nil {
		return true
	}
	window := g.windows[kind]
	if window <= 0 {
		return true
	}
	last, ok := g.store.LastSent(cooldownKey(userID, kind, subject))
	return !ok || now.Sub(last) >= window
}

func (g *FrequencyGuard) Record(userID string, kind model.NotificationKind, subject string, at time.Time) {
	if g == nil || g.windows[kind] <= 0 {
		return
	}
	g.store.SetLastSent(cooldownKey(userID, kind, subject), at)
}

func cooldownKey(userID string, kind model.NotificationKind, subject string) string {
	return userID + "|" + string(kind) + "|" + subject
}

package store

import (
	"sync"

	"github.com/noah-isme/jobby-messaging/internal/models"
)

// DefaultFeedCapacity bounds the notification feed when no capacity is configured.
const DefaultFeedCapacity = 50

// LedgerState holds per-conversation unread counters and the rolling notification feed.
type LedgerState struct {
	UnreadCounts  map[string]int
	Notifications []models.NotificationEntry
	Capacity      int
	Loading       bool
	Err           error
}

// TotalUnread is the badge value. It is derived from the counters so it always equals their sum.
func (s LedgerState) TotalUnread() int {
	total := 0
	for _, count := range s.UnreadCounts {
		total += count
	}
	return total
}

// UnreadNotifications counts feed entries not yet marked read.
func (s LedgerState) UnreadNotifications() int {
	count := 0
	for _, entry := range s.Notifications {
		if !entry.Read {
			count++
		}
	}
	return count
}

// LedgerAction is a transition applied by ReduceLedger.
type LedgerAction interface {
	ledgerAction()
}

// UnreadHydrated replaces the counters with the server's initial snapshot.
type UnreadHydrated struct{ Counts map[string]int }

// UnreadIncremented moves a conversation from READ to UNREAD(1) or bumps UNREAD(n).
type UnreadIncremented struct{ ConversationID string }

// ConversationMarkedRead moves a conversation to READ, discarding n.
type ConversationMarkedRead struct{ ConversationID string }

// NotificationPushed prepends an entry, evicting the oldest beyond capacity.
type NotificationPushed struct{ Entry models.NotificationEntry }

// NotificationRemoved dismisses a single entry.
type NotificationRemoved struct{ ID string }

// NotificationMarkedRead flags a single entry as seen.
type NotificationMarkedRead struct{ ID string }

// NotificationsCleared empties the feed.
type NotificationsCleared struct{}

// LedgerLoading flags an in-flight hydration.
type LedgerLoading struct{}

// LedgerFailed records a hydration failure.
type LedgerFailed struct{ Err error }

func (UnreadHydrated) ledgerAction()         {}
func (UnreadIncremented) ledgerAction()      {}
func (ConversationMarkedRead) ledgerAction() {}
func (NotificationPushed) ledgerAction()     {}
func (NotificationRemoved) ledgerAction()    {}
func (NotificationMarkedRead) ledgerAction() {}
func (NotificationsCleared) ledgerAction()   {}
func (LedgerLoading) ledgerAction()          {}
func (LedgerFailed) ledgerAction()           {}

// ReduceLedger returns the state that results from applying action. The input is never mutated.
func ReduceLedger(state LedgerState, action LedgerAction) LedgerState {
	switch a := action.(type) {
	case UnreadHydrated:
		next := cloneLedger(state)
		next.UnreadCounts = make(map[string]int, len(a.Counts))
		for id, count := range a.Counts {
			if count > 0 {
				next.UnreadCounts[id] = count
			}
		}
		next.Loading = false
		next.Err = nil
		return next

	case UnreadIncremented:
		if a.ConversationID == "" {
			return state
		}
		next := cloneLedger(state)
		next.UnreadCounts[a.ConversationID]++
		return next

	case ConversationMarkedRead:
		if _, ok := state.UnreadCounts[a.ConversationID]; !ok {
			return state
		}
		next := cloneLedger(state)
		delete(next.UnreadCounts, a.ConversationID)
		return next

	case NotificationPushed:
		next := cloneLedger(state)
		capacity := next.Capacity
		if capacity <= 0 {
			capacity = DefaultFeedCapacity
		}
		feed := make([]models.NotificationEntry, 0, len(state.Notifications)+1)
		feed = append(feed, a.Entry)
		feed = append(feed, state.Notifications...)
		if len(feed) > capacity {
			feed = feed[:capacity]
		}
		next.Notifications = feed
		return next

	case NotificationRemoved:
		next := cloneLedger(state)
		feed := next.Notifications[:0]
		for _, entry := range next.Notifications {
			if entry.ID != a.ID {
				feed = append(feed, entry)
			}
		}
		next.Notifications = feed
		return next

	case NotificationMarkedRead:
		next := cloneLedger(state)
		for i := range next.Notifications {
			if next.Notifications[i].ID == a.ID {
				next.Notifications[i].Read = true
			}
		}
		return next

	case NotificationsCleared:
		next := cloneLedger(state)
		next.Notifications = nil
		return next

	case LedgerLoading:
		next := cloneLedger(state)
		next.Loading = true
		return next

	case LedgerFailed:
		next := cloneLedger(state)
		next.Loading = false
		next.Err = a.Err
		return next
	}

	return state
}

func cloneLedger(state LedgerState) LedgerState {
	next := LedgerState{
		UnreadCounts:  make(map[string]int, len(state.UnreadCounts)),
		Notifications: make([]models.NotificationEntry, len(state.Notifications)),
		Capacity:      state.Capacity,
		Loading:       state.Loading,
		Err:           state.Err,
	}
	for id, count := range state.UnreadCounts {
		next.UnreadCounts[id] = count
	}
	copy(next.Notifications, state.Notifications)
	return next
}

// Ledger serialises transitions over a LedgerState.
type Ledger struct {
	mu    sync.RWMutex
	state LedgerState
}

// NewLedger returns an empty ledger whose feed holds at most capacity entries.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Ledger{state: LedgerState{UnreadCounts: map[string]int{}, Capacity: capacity}}
}

// Dispatch applies an action and returns the resulting state.
func (l *Ledger) Dispatch(action LedgerAction) LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = ReduceLedger(l.state, action)
	return cloneLedger(l.state)
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return cloneLedger(l.state)
}

// Unread returns the counter for a conversation.
func (l *Ledger) Unread(conversationID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.state.UnreadCounts[conversationID]
}

// Reset drops counters and feed, keeping the capacity.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = LedgerState{UnreadCounts: map[string]int{}, Capacity: l.state.Capacity}
}

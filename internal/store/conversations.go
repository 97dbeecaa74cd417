package store

import (
	"sort"
	"sync"

	"github.com/noah-isme/jobby-messaging/internal/models"
)

// ConversationState is the viewer's conversation list, ordered by most recent activity.
type ConversationState struct {
	Items   []models.Conversation
	Err     error
	Loading bool
}

// ConversationAction is a transition applied by ReduceConversations.
type ConversationAction interface {
	conversationAction()
}

// ConversationsLoading marks a fetch in flight. The current list stays visible.
type ConversationsLoading struct{}

// ConversationsLoaded replaces the list with a fetched snapshot.
type ConversationsLoaded struct{ Items []models.Conversation }

// ConversationsFailed records a load failure and keeps the last known good list.
type ConversationsFailed struct{ Err error }

// ConversationMessageApplied moves a conversation to the top after a message.
type ConversationMessageApplied struct{ Message models.Message }

// ConversationMessageReverted undoes an optimistic ConversationMessageApplied whose send failed.
// It only applies while the conversation still shows the temporary message.
type ConversationMessageReverted struct {
	TempID   string
	Previous models.Conversation
}

// ConversationInserted adds a started conversation unless its id is already known.
type ConversationInserted struct{ Conversation models.Conversation }

// ConversationRead zeroes the conversation's unread counter.
type ConversationRead struct{ ID string }

func (ConversationsLoading) conversationAction()        {}
func (ConversationsLoaded) conversationAction()         {}
func (ConversationsFailed) conversationAction()         {}
func (ConversationMessageApplied) conversationAction()  {}
func (ConversationMessageReverted) conversationAction() {}
func (ConversationInserted) conversationAction()        {}
func (ConversationRead) conversationAction()            {}

// ReduceConversations returns the state that results from applying action. The input is never mutated.
func ReduceConversations(state ConversationState, action ConversationAction) ConversationState {
	switch a := action.(type) {
	case ConversationsLoading:
		return ConversationState{Items: state.Items, Err: state.Err, Loading: true}

	case ConversationsLoaded:
		return ConversationState{Items: dedupeAndSort(a.Items)}

	case ConversationsFailed:
		return ConversationState{Items: state.Items, Err: a.Err}

	case ConversationMessageApplied:
		idx := indexOfConversation(state.Items, a.Message.ConversationID)
		if idx < 0 {
			return state
		}
		items := cloneConversations(state.Items)
		message := a.Message
		items[idx].LastMessage = &message
		if message.CreatedAt.After(items[idx].UpdatedAt) {
			items[idx].UpdatedAt = message.CreatedAt
		}
		sortByActivity(items)
		return ConversationState{Items: items, Err: state.Err, Loading: state.Loading}

	case ConversationMessageReverted:
		idx := indexOfConversation(state.Items, a.Previous.ID)
		if idx < 0 || state.Items[idx].LastMessage == nil || state.Items[idx].LastMessage.ID != a.TempID {
			return state
		}
		items := cloneConversations(state.Items)
		items[idx].LastMessage = a.Previous.LastMessage
		items[idx].UpdatedAt = a.Previous.UpdatedAt
		sortByActivity(items)
		return ConversationState{Items: items, Err: state.Err, Loading: state.Loading}

	case ConversationInserted:
		if a.Conversation.ID == "" || indexOfConversation(state.Items, a.Conversation.ID) >= 0 {
			return state
		}
		items := make([]models.Conversation, 0, len(state.Items)+1)
		items = append(items, a.Conversation)
		items = append(items, state.Items...)
		return ConversationState{Items: items, Err: state.Err, Loading: state.Loading}

	case ConversationRead:
		idx := indexOfConversation(state.Items, a.ID)
		if idx < 0 || state.Items[idx].UnreadCount == 0 {
			return state
		}
		items := cloneConversations(state.Items)
		items[idx].UnreadCount = 0
		return ConversationState{Items: items, Err: state.Err, Loading: state.Loading}
	}

	return state
}

func dedupeAndSort(input []models.Conversation) []models.Conversation {
	positions := make(map[string]int, len(input))
	items := make([]models.Conversation, 0, len(input))
	for _, conversation := range input {
		if conversation.ID == "" {
			continue
		}
		if pos, seen := positions[conversation.ID]; seen {
			items[pos] = conversation
			continue
		}
		positions[conversation.ID] = len(items)
		items = append(items, conversation)
	}
	sortByActivity(items)
	return items
}

func sortByActivity(items []models.Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
}

func indexOfConversation(items []models.Conversation, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneConversations(items []models.Conversation) []models.Conversation {
	out := make([]models.Conversation, len(items))
	copy(out, items)
	return out
}

// ConversationStore serialises transitions over a ConversationState.
type ConversationStore struct {
	mu    sync.RWMutex
	state ConversationState
}

// NewConversationStore returns an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// Dispatch applies an action and returns the resulting state.
func (s *ConversationStore) Dispatch(action ConversationAction) ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = ReduceConversations(s.state, action)
	return s.snapshotLocked()
}

// Snapshot returns a copy of the current state.
func (s *ConversationStore) Snapshot() ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

// Get returns the conversation with the given id.
func (s *ConversationStore) Get(id string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := indexOfConversation(s.state.Items, id)
	if idx < 0 {
		return models.Conversation{}, false
	}
	return s.state.Items[idx], true
}

// Known reports whether the conversation id is in the list.
func (s *ConversationStore) Known(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Reset drops all state.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = ConversationState{}
}

func (s *ConversationStore) snapshotLocked() ConversationState {
	return ConversationState{Items: cloneConversations(s.state.Items), Err: s.state.Err, Loading: s.state.Loading}
}

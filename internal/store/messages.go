package store

import (
	"sync"
	"time"

	"github.com/noah-isme/jobby-messaging/internal/models"
)

// PendingSend tracks an optimistic message awaiting the network result.
type PendingSend struct {
	TempID         string
	ConversationID string
	Content        string
	StartedAt      time.Time
}

// MessageState is the ordered message list of the open conversation.
type MessageState struct {
	ViewerID       string
	ConversationID string
	Messages       []models.Message
	Pending        map[string]PendingSend
	// Loaded is set once history for ConversationID has arrived.
	Loaded bool
}

// MessageAction is a transition applied by ReduceMessages.
type MessageAction interface {
	messageAction()
}

// MessagesOpened switches the active conversation and clears the list.
type MessagesOpened struct{ ConversationID string }

// MessagesLoaded replaces the list with fetched history.
type MessagesLoaded struct {
	ConversationID string
	Items          []models.Message
}

// MessagePending appends an optimistic placeholder.
type MessagePending struct {
	Message   models.Message
	StartedAt time.Time
}

// MessageConfirmed completes a pending send. Stored may be nil when the backend returns no body.
type MessageConfirmed struct {
	TempID string
	Stored *models.Message
}

// MessageFailed rolls back a pending send.
type MessageFailed struct{ TempID string }

// MessageReceived appends a message pushed over the live connection.
type MessageReceived struct{ Message models.Message }

func (MessagesOpened) messageAction()   {}
func (MessagesLoaded) messageAction()   {}
func (MessagePending) messageAction()   {}
func (MessageConfirmed) messageAction() {}
func (MessageFailed) messageAction()    {}
func (MessageReceived) messageAction()  {}

// ReduceMessages returns the state that results from applying action. The input is never mutated.
func ReduceMessages(state MessageState, action MessageAction) MessageState {
	switch a := action.(type) {
	case MessagesOpened:
		return MessageState{ViewerID: state.ViewerID, ConversationID: a.ConversationID}

	case MessagesLoaded:
		if a.ConversationID != state.ConversationID || state.ConversationID == "" {
			return state
		}
		next := cloneMessageState(state)
		next.Messages = make([]models.Message, 0, len(a.Items)+len(state.Pending))
		next.Messages = append(next.Messages, a.Items...)
		next.Loaded = true
		// Optimistic sends stay visible. Pushes that arrived before the first history response
		// stay too, unless the history already has them.
		for _, message := range state.Messages {
			_, pending := state.Pending[message.ID]
			early := !state.Loaded && indexOfMessage(a.Items, message.ID) < 0
			if pending || early {
				next.Messages = append(next.Messages, message)
			}
		}
		return next

	case MessagePending:
		if a.Message.ConversationID != state.ConversationID || state.ConversationID == "" {
			return state
		}
		next := cloneMessageState(state)
		next.Messages = append(next.Messages, a.Message)
		next.Pending[a.Message.ID] = PendingSend{
			TempID:         a.Message.ID,
			ConversationID: a.Message.ConversationID,
			Content:        a.Message.Content,
			StartedAt:      a.StartedAt,
		}
		return next

	case MessageConfirmed:
		if _, ok := state.Pending[a.TempID]; !ok {
			return state
		}
		next := cloneMessageState(state)
		delete(next.Pending, a.TempID)
		if a.Stored == nil || a.Stored.ID == "" {
			return next
		}
		idx := indexOfMessage(next.Messages, a.TempID)
		if idx < 0 {
			return next
		}
		if indexOfMessage(next.Messages, a.Stored.ID) >= 0 {
			// The server copy already arrived; drop the placeholder.
			next.Messages = append(next.Messages[:idx], next.Messages[idx+1:]...)
			return next
		}
		stored := *a.Stored
		stored.Read = true
		next.Messages[idx] = stored
		return next

	case MessageFailed:
		if _, ok := state.Pending[a.TempID]; !ok {
			return state
		}
		next := cloneMessageState(state)
		delete(next.Pending, a.TempID)
		if idx := indexOfMessage(next.Messages, a.TempID); idx >= 0 {
			next.Messages = append(next.Messages[:idx], next.Messages[idx+1:]...)
		}
		return next

	case MessageReceived:
		message := a.Message
		if state.ConversationID == "" || message.ConversationID != state.ConversationID {
			return state
		}
		if message.SenderID == state.ViewerID {
			return state
		}
		if indexOfMessage(state.Messages, message.ID) >= 0 {
			return state
		}
		next := cloneMessageState(state)
		next.Messages = append(next.Messages, message)
		return next
	}

	return state
}

func indexOfMessage(items []models.Message, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessageState(state MessageState) MessageState {
	next := MessageState{
		ViewerID:       state.ViewerID,
		ConversationID: state.ConversationID,
		Messages:       make([]models.Message, len(state.Messages)),
		Pending:        make(map[string]PendingSend, len(state.Pending)),
		Loaded:         state.Loaded,
	}
	copy(next.Messages, state.Messages)
	for id, pending := range state.Pending {
		next.Pending[id] = pending
	}
	return next
}

// MessageStore serialises transitions over a MessageState.
type MessageStore struct {
	mu    sync.RWMutex
	state MessageState
}

// NewMessageStore returns a store for the given viewer.
func NewMessageStore(viewerID string) *MessageStore {
	return &MessageStore{state: MessageState{ViewerID: viewerID}}
}

// Dispatch applies an action and returns the resulting state.
func (s *MessageStore) Dispatch(action MessageAction) MessageState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = ReduceMessages(s.state, action)
	return cloneMessageState(s.state)
}

// Snapshot returns a copy of the current state.
func (s *MessageStore) Snapshot() MessageState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneMessageState(s.state)
}

// ActiveConversation returns the id of the open conversation, if any.
func (s *MessageStore) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.ConversationID
}

// Has reports whether the open conversation already lists the message id.
func (s *MessageStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return indexOfMessage(s.state.Messages, id) >= 0
}

// Reset drops all state and rebinds the viewer.
func (s *MessageStore) Reset(viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = MessageState{ViewerID: viewerID}
}

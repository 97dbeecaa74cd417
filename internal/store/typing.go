package store

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTypingExpiry is how long a typing banner stays without a newer event.
const DefaultTypingExpiry = 3 * time.Second

// TypingState is the banner shown in the chat window.
type TypingState struct {
	ConversationID string
	UserName       string
	Text           string
}

// TypingIndicator owns the debounced expiry timer for the typing banner.
// A newer Show supersedes the pending expiry; a stale timer that already fired is ignored.
type TypingIndicator struct {
	mu         sync.Mutex
	state      TypingState
	expiry     time.Duration
	timer      *time.Timer
	generation uint64
	onChange   func(TypingState)
}

// NewTypingIndicator creates an indicator. onChange is invoked outside the lock on every show and expiry.
func NewTypingIndicator(expiry time.Duration, onChange func(TypingState)) *TypingIndicator {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingIndicator{expiry: expiry, onChange: onChange}
}

// Show displays "<name> is typing..." and reschedules the expiry.
func (t *TypingIndicator) Show(conversationID, userName string) {
	if userName == "" {
		userName = "Someone"
	}

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	generation := t.generation
	t.state = TypingState{
		ConversationID: conversationID,
		UserName:       userName,
		Text:           fmt.Sprintf("%s is typing...", userName),
	}
	state := t.state
	t.timer = time.AfterFunc(t.expiry, func() { t.expire(generation) })
	t.mu.Unlock()

	t.notify(state)
}

// Clear hides the banner immediately and cancels the pending expiry.
func (t *TypingIndicator) Clear() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
	changed := t.state != TypingState{}
	t.state = TypingState{}
	t.mu.Unlock()

	if changed {
		t.notify(TypingState{})
	}
}

// State returns the current banner.
func (t *TypingIndicator) State() TypingState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *TypingIndicator) expire(generation uint64) {
	t.mu.Lock()
	if generation != t.generation {
		t.mu.Unlock()
		return
	}
	t.state = TypingState{}
	t.timer = nil
	t.mu.Unlock()

	t.notify(TypingState{})
}

func (t *TypingIndicator) notify(state TypingState) {
	if t.onChange != nil {
		t.onChange(state)
	}
}

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/jobby-messaging/internal/models"
)

var baseTime = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func conversation(id string, updated time.Duration) models.Conversation {
	return models.Conversation{
		ID:           id,
		Participants: []models.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}},
		UpdatedAt:    baseTime.Add(updated),
	}
}

func ids(items []models.Conversation) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func TestConversationsLoadedDedupesAndSorts(t *testing.T) {
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{
		conversation("c1", time.Minute),
		conversation("c2", 3*time.Minute),
		conversation("c1", 5*time.Minute),
		conversation("c3", 2*time.Minute),
	}})

	require.Equal(t, []string{"c1", "c2", "c3"}, ids(state.Items))
	require.Equal(t, baseTime.Add(5*time.Minute), state.Items[0].UpdatedAt)
}

func TestConversationsFailedKeepsLastKnownGood(t *testing.T) {
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{conversation("c1", 0)}})
	boom := errors.New("boom")

	state = ReduceConversations(state, ConversationsFailed{Err: boom})
	require.Equal(t, []string{"c1"}, ids(state.Items))
	require.ErrorIs(t, state.Err, boom)

	state = ReduceConversations(state, ConversationsLoaded{Items: []models.Conversation{conversation("c2", 0)}})
	require.NoError(t, state.Err)
}

func TestConversationsLoadingFlag(t *testing.T) {
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{conversation("c1", 0)}})
	require.False(t, state.Loading)

	state = ReduceConversations(state, ConversationsLoading{})
	require.True(t, state.Loading)
	require.Equal(t, []string{"c1"}, ids(state.Items))

	state = ReduceConversations(state, ConversationRead{ID: "c1"})
	state = ReduceConversations(state, ConversationInserted{Conversation: conversation("c2", time.Minute)})
	require.True(t, state.Loading)

	state = ReduceConversations(state, ConversationsFailed{Err: errors.New("boom")})
	require.False(t, state.Loading)

	state = ReduceConversations(state, ConversationsLoading{})
	require.Error(t, state.Err, "the last error stays until a load settles")
	state = ReduceConversations(state, ConversationsLoaded{})
	require.False(t, state.Loading)
	require.NoError(t, state.Err)
}

func TestConversationMessageAppliedResorts(t *testing.T) {
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{
		conversation("c1", 2*time.Minute),
		conversation("c2", time.Minute),
	}})

	message := models.Message{ID: "m1", ConversationID: "c2", Content: "hi", CreatedAt: baseTime.Add(10 * time.Minute)}
	next := ReduceConversations(state, ConversationMessageApplied{Message: message})

	require.Equal(t, []string{"c2", "c1"}, ids(next.Items))
	require.Equal(t, "hi", next.Items[0].LastMessage.Content)
	require.Equal(t, message.CreatedAt, next.Items[0].UpdatedAt)
	require.Equal(t, []string{"c1", "c2"}, ids(state.Items), "input state must not be mutated")
}

func TestConversationMessageAppliedUnknownIsNoop(t *testing.T) {
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{conversation("c1", 0)}})
	next := ReduceConversations(state, ConversationMessageApplied{Message: models.Message{ConversationID: "zz"}})
	require.Equal(t, state, next)
}

func TestConversationInsertedIsIdempotent(t *testing.T) {
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{conversation("c1", 0)}})

	state = ReduceConversations(state, ConversationInserted{Conversation: conversation("c9", -time.Hour)})
	state = ReduceConversations(state, ConversationInserted{Conversation: conversation("c9", time.Hour)})
	state = ReduceConversations(state, ConversationInserted{Conversation: conversation("c1", 0)})

	require.Equal(t, []string{"c9", "c1"}, ids(state.Items))
}

func TestConversationReadZeroesUnread(t *testing.T) {
	c := conversation("c1", 0)
	c.UnreadCount = 4
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{c}})

	state = ReduceConversations(state, ConversationRead{ID: "c1"})
	require.Zero(t, state.Items[0].UnreadCount)
}

func TestConversationStoreSnapshotIsCopy(t *testing.T) {
	store := NewConversationStore()
	store.Dispatch(ConversationsLoaded{Items: []models.Conversation{conversation("c1", 0)}})

	snapshot := store.Snapshot()
	snapshot.Items[0].ID = "mutated"

	require.True(t, store.Known("c1"))
	require.False(t, store.Known("mutated"))

	store.Reset()
	require.Empty(t, store.Snapshot().Items)
}

func TestMessageRevertedRestoresPreviousSnapshot(t *testing.T) {
	previous := conversation("c1", 0)
	previous.LastMessage = &models.Message{ID: "m1", ConversationID: "c1", Content: "old"}
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{previous, conversation("c2", time.Minute)}})

	temp := models.Message{ID: "temp-1", ConversationID: "c1", Content: "new", CreatedAt: baseTime.Add(time.Hour)}
	state = ReduceConversations(state, ConversationMessageApplied{Message: temp})
	require.Equal(t, []string{"c1", "c2"}, ids(state.Items))

	state = ReduceConversations(state, ConversationMessageReverted{TempID: "temp-1", Previous: previous})
	require.Equal(t, []string{"c2", "c1"}, ids(state.Items))
	require.Equal(t, "m1", state.Items[1].LastMessage.ID)
	require.Equal(t, previous.UpdatedAt, state.Items[1].UpdatedAt)
}

func TestMessageRevertedIgnoredOnceNewerMessageArrived(t *testing.T) {
	previous := conversation("c1", 0)
	state := ReduceConversations(ConversationState{}, ConversationsLoaded{Items: []models.Conversation{previous}})
	state = ReduceConversations(state, ConversationMessageApplied{Message: models.Message{ID: "temp-1", ConversationID: "c1", CreatedAt: baseTime.Add(time.Minute)}})
	state = ReduceConversations(state, ConversationMessageApplied{Message: models.Message{ID: "m2", ConversationID: "c1", CreatedAt: baseTime.Add(2 * time.Minute)}})

	state = ReduceConversations(state, ConversationMessageReverted{TempID: "temp-1", Previous: previous})
	require.Equal(t, "m2", state.Items[0].LastMessage.ID)
}

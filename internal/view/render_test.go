package view

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/jobby-messaging/internal/models"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
	"github.com/noah-isme/jobby-messaging/internal/service"
	"github.com/noah-isme/jobby-messaging/internal/store"
)

var now = time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)

func testRenderer() *Renderer {
	return NewRenderer(Options{Location: time.UTC})
}

func baseSnapshot() service.SessionSnapshot {
	return service.SessionSnapshot{
		Identity:  realtime.Identity{UserID: "alice", UserName: "Alice"},
		Connected: true,
		TakenAt:   now,
		Ledger:    store.LedgerState{UnreadCounts: map[string]int{}},
	}
}

func TestConversationListResolvesOtherParticipant(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Conversations.Items = []models.Conversation{
		{
			ID:           "c1",
			Participants: []models.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob", Avatar: "bob.png"}},
			LastMessage:  &models.Message{Content: "see you", CreatedAt: time.Date(2026, 10, 17, 14, 5, 0, 0, time.UTC)},
			UpdatedAt:    now,
		},
		{ID: "c2", Participants: []models.User{{ID: "alice", Name: "Alice"}}},
	}
	snapshot.Ledger.UnreadCounts["c2"] = 4
	snapshot.Messages.ConversationID = "c1"

	list := testRenderer().ConversationList(snapshot)
	require.False(t, list.Empty)
	require.Len(t, list.Items, 2)

	require.Equal(t, "Bob", list.Items[0].OtherUser.Name)
	require.Equal(t, "bob.png", list.Items[0].OtherUser.Avatar)
	require.Equal(t, "see you", list.Items[0].LastMessage)
	require.Equal(t, "2:05 PM", list.Items[0].LastMessageTime)
	require.True(t, list.Items[0].Active)

	require.Equal(t, FallbackUserName, list.Items[1].OtherUser.Name)
	require.Equal(t, 4, list.Items[1].Unread)
}

func TestConversationListSurfacesLoadError(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Conversations.Err = errors.New("offline")

	list := testRenderer().ConversationList(snapshot)
	require.True(t, list.Empty)
	require.NotEmpty(t, list.Error)
}

func TestConversationListLoadingIsNotEmpty(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Conversations.Loading = true

	list := testRenderer().ConversationList(snapshot)
	require.True(t, list.Loading)
	require.False(t, list.Empty)
}

func TestChatWindowGroupsByDay(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Conversations.Items = []models.Conversation{{ID: "c1", Participants: []models.User{{ID: "alice"}, {ID: "bob", Name: "Bob"}}}}
	snapshot.Messages = store.MessageState{
		ViewerID:       "alice",
		ConversationID: "c1",
		Messages: []models.Message{
			{ID: "m1", SenderID: "bob", Content: "old", CreatedAt: time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC)},
			{ID: "m2", SenderID: "bob", Content: "yesterday", CreatedAt: now.AddDate(0, 0, -1)},
			{ID: "m3", SenderID: "alice", Content: "today", CreatedAt: now.Add(-time.Hour)},
			{ID: "temp-x", SenderID: "alice", Content: "sending", CreatedAt: now},
		},
	}
	snapshot.Typing = store.TypingState{ConversationID: "c1", UserName: "Bob", Text: "Bob is typing..."}

	window, ok := testRenderer().ChatWindow(snapshot)
	require.True(t, ok)
	require.Equal(t, "Bob", window.Title.Name)
	require.Equal(t, "Bob is typing...", window.Typing)

	require.Len(t, window.Groups, 3)
	require.Equal(t, "Sep 2", window.Groups[0].Label)
	require.Equal(t, "Yesterday", window.Groups[1].Label)
	require.Equal(t, "Today", window.Groups[2].Label)

	today := window.Groups[2].Messages
	require.Len(t, today, 2)
	require.True(t, today[0].Mine)
	require.False(t, today[0].Pending)
	require.True(t, today[1].Pending)
}

func TestChatWindowNothingOpen(t *testing.T) {
	_, ok := testRenderer().ChatWindow(baseSnapshot())
	require.False(t, ok)
}

func TestToastsKeepNewestRecentMessages(t *testing.T) {
	snapshot := baseSnapshot()
	long := strings.Repeat("a", 60)
	snapshot.Ledger.Notifications = []models.NotificationEntry{
		{ID: "n1", Type: models.NotificationMessage, SenderName: "Bob", Content: long, Timestamp: now},
		{ID: "n2", Type: models.NotificationTyping, UserName: "Bob", Timestamp: now},
		{ID: "n3", Type: models.NotificationMessage, SenderName: "Carol", Content: "hi", Timestamp: now.Add(-time.Second)},
		{ID: "n4", Type: models.NotificationMessage, SenderName: "Dave", Content: "yo", Timestamp: now.Add(-2 * time.Second)},
		{ID: "n5", Type: models.NotificationMessage, SenderName: "Erin", Content: "hey", Timestamp: now.Add(-3 * time.Second)},
	}

	toasts := testRenderer().Toasts(snapshot)
	require.Len(t, toasts, 3)
	require.Equal(t, []string{"n1", "n3", "n4"}, []string{toasts[0].ID, toasts[1].ID, toasts[2].ID})
	require.Equal(t, strings.Repeat("a", 50)+"...", toasts[0].Body)
	require.Equal(t, "Bob", toasts[0].Title)

	snapshot.TakenAt = now.Add(10 * time.Second)
	require.Empty(t, testRenderer().Toasts(snapshot))
}

func TestNotificationFeedAndSessionBadge(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Ledger.UnreadCounts = map[string]int{"c1": 2, "c2": 3}
	snapshot.Ledger.Notifications = []models.NotificationEntry{
		{ID: "n1", Type: models.NotificationOnline, UserName: "Bob", Timestamp: now},
		{ID: "n2", Type: models.NotificationTyping, UserName: "Carol", Timestamp: now, Read: true},
	}

	renderer := testRenderer()
	feed := renderer.NotificationFeed(snapshot)
	require.Len(t, feed.Items, 2)
	require.Equal(t, 1, feed.UnreadCount)
	require.Equal(t, "is now online", feed.Items[0].Body)
	require.Equal(t, "is typing...", feed.Items[1].Body)

	session := renderer.Session(snapshot)
	require.Equal(t, 5, session.TotalUnread)
	require.True(t, session.Connected)
	require.Equal(t, "alice", session.UserID)
}

func TestTruncateCountsRunes(t *testing.T) {
	require.Equal(t, "héllo", Truncate("héllo", 5))
	require.Equal(t, "hé...", Truncate("héllo", 2))
	require.Equal(t, "abc", Truncate("abc", 0))
}

package view

import (
	"time"
	"unicode/utf8"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/models"
	"github.com/noah-isme/jobby-messaging/internal/service"
)

// FallbackUserName is shown when a conversation has no resolvable counterpart.
const FallbackUserName = "Jobby User"

// Options tunes the renderers.
type Options struct {
	ToastLimit    int
	ToastTTL      time.Duration
	PreviewLength int
	Location      *time.Location
}

// DefaultOptions matches the shell's toast behaviour.
func DefaultOptions() Options {
	return Options{ToastLimit: 3, ToastTTL: 5 * time.Second, PreviewLength: 50, Location: time.Local}
}

func (o Options) normalised() Options {
	defaults := DefaultOptions()
	if o.ToastLimit <= 0 {
		o.ToastLimit = defaults.ToastLimit
	}
	if o.ToastTTL <= 0 {
		o.ToastTTL = defaults.ToastTTL
	}
	if o.PreviewLength <= 0 {
		o.PreviewLength = defaults.PreviewLength
	}
	if o.Location == nil {
		o.Location = defaults.Location
	}
	return o
}

// Renderer turns session snapshots into view models.
type Renderer struct {
	opts Options
}

// NewRenderer builds a renderer; zero option values take the defaults.
func NewRenderer(opts Options) *Renderer {
	return &Renderer{opts: opts.normalised()}
}

// ConversationList renders the sidebar. Items keep the store's most-recent-first order.
func (r *Renderer) ConversationList(snapshot service.SessionSnapshot) dto.ConversationListView {
	viewerID := snapshot.Identity.UserID
	active := snapshot.Messages.ConversationID

	items := make([]dto.ConversationListItem, 0, len(snapshot.Conversations.Items))
	for _, conversation := range snapshot.Conversations.Items {
		item := dto.ConversationListItem{
			ID:        conversation.ID,
			OtherUser: otherUser(conversation, viewerID),
			UpdatedAt: conversation.UpdatedAt,
			Unread:    snapshot.Ledger.UnreadCounts[conversation.ID],
			Active:    conversation.ID == active,
		}
		if last := conversation.LastMessage; last != nil {
			item.LastMessage = last.Content
			item.LastMessageTime = r.clock(last.CreatedAt)
		}
		items = append(items, item)
	}

	loading := snapshot.Conversations.Loading
	view := dto.ConversationListView{Items: items, Empty: len(items) == 0 && !loading, Loading: loading}
	if snapshot.Conversations.Err != nil {
		view.Error = "Failed to load conversations"
	}
	return view
}

// ChatWindow renders the active conversation. ok is false when nothing is open.
func (r *Renderer) ChatWindow(snapshot service.SessionSnapshot) (dto.ChatWindowView, bool) {
	conversationID := snapshot.Messages.ConversationID
	if conversationID == "" {
		return dto.ChatWindowView{}, false
	}

	title := dto.UserView{Name: FallbackUserName}
	for _, conversation := range snapshot.Conversations.Items {
		if conversation.ID == conversationID {
			title = otherUser(conversation, snapshot.Identity.UserID)
			break
		}
	}

	window := dto.ChatWindowView{
		ConversationID: conversationID,
		Title:          title,
		Groups:         r.groupByDay(snapshot.Messages.Messages, snapshot.Identity.UserID, snapshot.TakenAt),
	}
	if snapshot.Typing.ConversationID == conversationID {
		window.Typing = snapshot.Typing.Text
	}
	return window, true
}

// Toasts returns the newest message notifications that are still within their lifetime.
func (r *Renderer) Toasts(snapshot service.SessionSnapshot) []dto.ToastView {
	toasts := make([]dto.ToastView, 0, r.opts.ToastLimit)
	for _, entry := range snapshot.Ledger.Notifications {
		if len(toasts) == r.opts.ToastLimit {
			break
		}
		if entry.Type != models.NotificationMessage {
			continue
		}
		if snapshot.TakenAt.Sub(entry.Timestamp) >= r.opts.ToastTTL {
			continue
		}
		toasts = append(toasts, dto.ToastView{
			ID:    entry.ID,
			Type:  entry.Type,
			Icon:  icon(entry.Type),
			Title: entry.DisplayName(),
			Body:  r.body(entry),
		})
	}
	return toasts
}

// NotificationFeed renders the dropdown.
func (r *Renderer) NotificationFeed(snapshot service.SessionSnapshot) dto.NotificationFeedView {
	items := make([]dto.NotificationItemView, 0, len(snapshot.Ledger.Notifications))
	for _, entry := range snapshot.Ledger.Notifications {
		items = append(items, dto.NotificationItemView{
			ID:             entry.ID,
			Type:           entry.Type,
			Icon:           icon(entry.Type),
			Title:          entry.DisplayName(),
			Body:           r.body(entry),
			ConversationID: entry.ConversationID,
			Timestamp:      entry.Timestamp,
			Read:           entry.Read,
		})
	}
	return dto.NotificationFeedView{Items: items, UnreadCount: snapshot.Ledger.UnreadNotifications()}
}

// Session renders the header summary, including the total unread badge.
func (r *Renderer) Session(snapshot service.SessionSnapshot) dto.SessionView {
	view := dto.SessionView{
		UserID:               snapshot.Identity.UserID,
		UserName:             snapshot.Identity.UserName,
		Connected:            snapshot.Connected,
		ActiveConversationID: snapshot.Messages.ConversationID,
		TotalUnread:          snapshot.Ledger.TotalUnread(),
	}
	if snapshot.Ledger.Err != nil {
		view.LedgerError = snapshot.Ledger.Err.Error()
	}
	return view
}

func (r *Renderer) groupByDay(messages []models.Message, viewerID string, now time.Time) []dto.MessageGroup {
	groups := make([]dto.MessageGroup, 0)
	index := make(map[string]int)

	for _, message := range messages {
		label := DayLabel(message.CreatedAt, now, r.opts.Location)
		pos, ok := index[label]
		if !ok {
			pos = len(groups)
			index[label] = pos
			groups = append(groups, dto.MessageGroup{Label: label})
		}
		groups[pos].Messages = append(groups[pos].Messages, dto.MessageView{
			ID:         message.ID,
			SenderName: message.SenderName,
			Content:    message.Content,
			Time:       r.clock(message.CreatedAt),
			Mine:       message.SenderID == viewerID,
			Pending:    message.IsTemporary(),
		})
	}
	return groups
}

func (r *Renderer) clock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(r.opts.Location).Format("3:04 PM")
}

func (r *Renderer) body(entry models.NotificationEntry) string {
	switch entry.Type {
	case models.NotificationMessage:
		return Truncate(entry.Content, r.opts.PreviewLength)
	case models.NotificationTyping:
		return "is typing..."
	case models.NotificationOnline:
		return "is now online"
	default:
		return entry.Content
	}
}

// DayLabel returns "Today", "Yesterday" or a short date such as "Jan 2".
func DayLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	now = now.In(loc)

	y, m, d := t.Date()
	ny, nm, nd := now.Date()
	if y == ny && m == nm && d == nd {
		return "Today"
	}
	yy, ym, yd := now.AddDate(0, 0, -1).Date()
	if y == yy && m == ym && d == yd {
		return "Yesterday"
	}
	return t.Format("Jan 2")
}

// Truncate shortens s to limit runes, appending "..." when it was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func otherUser(conversation models.Conversation, viewerID string) dto.UserView {
	user, ok := conversation.OtherParticipant(viewerID)
	if !ok || user.Name == "" {
		return dto.UserView{ID: user.ID, Name: FallbackUserName, Avatar: user.Avatar}
	}
	return dto.UserView{ID: user.ID, Name: user.Name, Avatar: user.Avatar}
}

func icon(notificationType string) string {
	switch notificationType {
	case models.NotificationMessage:
		return "💬"
	case models.NotificationTyping:
		return "✍️"
	case models.NotificationOnline:
		return "🟢"
	default:
		return "🔔"
	}
}

package events

import "github.com/pliu/chatterbox/internal/models"

type ConversationListResult struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

type AddConversationResult struct {
	Conversation models.Conversation `json:"conversation"`
}

type MessageListResult struct {
	SessionChannel string           `json:"session_channel"`
	Messages       []models.Message `json:"messages"`
	HasMore        bool             `json:"has_more"`
	Next           int64            `json:"next"`
}

type SendMessageResult struct {
	Message models.Message `json:"message"`
}

type ReceiveMessagePush struct {
	Message models.Message `json:"message"`
}

type ReadMessageResult struct {
	ExecutorID models.UserID     `json:"executor_id"`
	MessageID  int64             `json:"message_id"`
	Cursor     models.ReadCursor `json:"cursor"`
}

// UnreadInfoResult answers Event.GetUnreadInfo and is also the payload of
// Event.UnreadUpdate pushes.
type UnreadInfoResult struct {
	UserID        models.UserID        `json:"user_id"`
	Total         int                  `json:"total"`
	Conversations []models.UnreadCount `json:"conversations"`
}

func NewUnreadInfo(user models.UserID, counts []models.UnreadCount) UnreadInfoResult {
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	return UnreadInfoResult{UserID: user, Total: total, Conversations: counts}
}

type UnreadMessagesResult struct {
	Messages []models.Message `json:"messages"`
	// HasMore is set when a limit cut the list short.
	HasMore bool `json:"has_more"`
}

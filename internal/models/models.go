package models

import "time"

// UserID is the opaque identity of a user. The identity system that issues
// it lives outside this service.
type UserID string

type ContentType int

const (
	ContentText  ContentType = 1
	ContentImage ContentType = 2
)

// Normalize maps unknown content types to text.
func (c ContentType) Normalize() ContentType {
	if c != ContentImage {
		return ContentText
	}
	return c
}

type Conversation struct {
	ID            int64     `json:"id"`
	Channel       string    `json:"session_channel"`
	ApplicationID string    `json:"application_id,omitempty"`
	Members       []UserID  `json:"members"`
	LastSeq       int64     `json:"last_seq"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID            int64        `json:"id"`
	Channel       string       `json:"session_channel"`
	ApplicationID string       `json:"application_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	UnreadCount   int          `json:"unread_count"`
	LastMessage   *MessageHead `json:"last_message,omitempty"`
}

// MessageHead is the preview of the latest message in a conversation.
type MessageHead struct {
	Seq      int64  `json:"seq"`
	SenderID UserID `json:"sender_id"`
	Content  string `json:"content"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Channel        string      `json:"session_channel"`
	SenderID       UserID      `json:"sender_id"`
	Content        string      `json:"content"`
	ContentType    ContentType `json:"content_type"`
	Seq            int64       `json:"seq"`
	Read           bool        `json:"read"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Page selects a window of a conversation's messages. Zero values mean
// "from the beginning" and "default size".
type Page struct {
	Since int64
	Limit int
}

type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	// Next is the sequence of the last returned message; pass it as Since
	// to fetch the following page.
	Next int64 `json:"next"`
}

type ReadCursor struct {
	ConversationID int64  `json:"conversation_id"`
	Channel        string `json:"session_channel"`
	UserID         UserID `json:"user_id"`
	Seq            int64  `json:"seq"`
}

type UnreadCount struct {
	ConversationID int64  `json:"conversation_id"`
	Channel        string `json:"session_channel"`
	Count          int    `json:"unread_count"`
}

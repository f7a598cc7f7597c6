package store

import (
	"context"
	"errors"

	"github.com/pliu/chatterbox/internal/models"
)

var (
	ErrConversationNotFound    = errors.New("conversation not found")
	ErrNotAMember              = errors.New("user is not a member of the conversation")
	ErrInvalidMembers          = errors.New("conversation needs at least one member")
	ErrInvalidMessageReference = errors.New("message does not belong to the conversation")
	ErrStorageUnavailable      = errors.New("storage unavailable")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ClampLimit applies the page size defaults shared by all implementations.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, members []models.UserID, applicationID string) (models.Conversation, error)
	ListConversations(ctx context.Context, user models.UserID) ([]models.ConversationSummary, error)
	GetMembers(ctx context.Context, channel string) ([]models.UserID, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, channel string, sender models.UserID, content string, contentType models.ContentType) (models.Message, error)
	ListMessages(ctx context.Context, channel string, executor models.UserID, page models.Page) (models.MessagePage, error)
}

type ReadTracker interface {
	// MarkRead raises the executor's cursor to the message's sequence. An
	// empty channel means the channel is taken from the message itself.
	MarkRead(ctx context.Context, channel string, executor models.UserID, messageID int64) (models.ReadCursor, error)
	UnreadCounts(ctx context.Context, user models.UserID) ([]models.UnreadCount, error)
	// UnreadMessages lists unread messages newest first; limit <= 0 means
	// no limit.
	UnreadMessages(ctx context.Context, user models.UserID, limit int) ([]models.Message, error)
}

type Store interface {
	ConversationStore
	MessageStore
	ReadTracker

	Ping(ctx context.Context) error
	Close() error
}

// NormalizeMembers drops blank IDs and duplicates while keeping first-seen order.
func NormalizeMembers(members []models.UserID) []models.UserID {
	seen := make(map[models.UserID]struct{}, len(members))
	out := make([]models.UserID, 0, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

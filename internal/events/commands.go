package events

import (
	"context"
	"fmt"

	"github.com/pliu/chatterbox/internal/models"
)

// Handler has one method per Kind. Command.Dispatch routes to the matching
// method, so an implementation that misses a kind does not compile.
type Handler interface {
	GetConversationList(ctx context.Context, args *GetConversationListArgs) (interface{}, error)
	AddConversation(ctx context.Context, args *AddConversationArgs) (interface{}, error)
	GetMessageList(ctx context.Context, args *GetMessageListArgs) (interface{}, error)
	SendMessage(ctx context.Context, args *SendMessageArgs) (interface{}, error)
	ReadMessage(ctx context.Context, args *ReadMessageArgs) (interface{}, error)
	GetUnreadInfo(ctx context.Context, args *GetUnreadInfoArgs) (interface{}, error)
	GetUnreadMessages(ctx context.Context, args *GetUnreadMessagesArgs) (interface{}, error)
}

// Command is the decoded argument payload of one inbound event.
type Command interface {
	Kind() Kind
	// Actor is the user the event claims to act for.
	Actor() models.UserID
	Dispatch(ctx context.Context, h Handler) (interface{}, error)
	validate() error
}

func newCommand(k Kind) Command {
	switch k {
	case KindGetConversationList:
		return &GetConversationListArgs{}
	case KindAddConversation:
		return &AddConversationArgs{}
	case KindGetMessageList:
		return &GetMessageListArgs{}
	case KindSendMessage:
		return &SendMessageArgs{}
	case KindReadMessage:
		return &ReadMessageArgs{}
	case KindGetUnreadInfo:
		return &GetUnreadInfoArgs{}
	case KindGetUnreadMessages:
		return &GetUnreadMessagesArgs{}
	}
	return nil
}

func required(field string, v ID) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArguments, field)
	}
	return nil
}

func nonNegative(field string, v int64) error {
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidArguments, field)
	}
	return nil
}

type GetConversationListArgs struct {
	UserID ID `json:"user_id"`
}

func (a *GetConversationListArgs) Kind() Kind           { return KindGetConversationList }
func (a *GetConversationListArgs) Actor() models.UserID { return models.UserID(a.UserID) }
func (a *GetConversationListArgs) validate() error      { return required("user_id", a.UserID) }
func (a *GetConversationListArgs) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.GetConversationList(ctx, a)
}

type AddConversationArgs struct {
	UserID        ID   `json:"user_id"`
	ApplicationID ID   `json:"application_id"`
	MemberIDs     []ID `json:"member_ids"`
}

func (a *AddConversationArgs) Kind() Kind           { return KindAddConversation }
func (a *AddConversationArgs) Actor() models.UserID { return models.UserID(a.UserID) }
func (a *AddConversationArgs) validate() error      { return required("user_id", a.UserID) }
func (a *AddConversationArgs) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.AddConversation(ctx, a)
}

// Members is the creator followed by the invited members.
func (a *AddConversationArgs) Members() []models.UserID {
	out := make([]models.UserID, 0, len(a.MemberIDs)+1)
	out = append(out, models.UserID(a.UserID))
	for _, m := range a.MemberIDs {
		out = append(out, models.UserID(m))
	}
	return out
}

type GetMessageListArgs struct {
	SessionChannel ID    `json:"session_channel"`
	ExecutorID     ID    `json:"executor_id"`
	Since          int64 `json:"since"`
	Limit          int   `json:"limit"`
}

func (a *GetMessageListArgs) Kind() Kind           { return KindGetMessageList }
func (a *GetMessageListArgs) Actor() models.UserID { return models.UserID(a.ExecutorID) }
func (a *GetMessageListArgs) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.GetMessageList(ctx, a)
}

func (a *GetMessageListArgs) validate() error {
	if err := required("session_channel", a.SessionChannel); err != nil {
		return err
	}
	if err := required("executor_id", a.ExecutorID); err != nil {
		return err
	}
	if err := nonNegative("since", a.Since); err != nil {
		return err
	}
	return nonNegative("limit", int64(a.Limit))
}

type SendMessageArgs struct {
	SessionChannel ID     `json:"session_channel"`
	SenderID       ID     `json:"sender_id"`
	Content        string `json:"content"`
	// ContentType is 1 for text and 2 for an image; anything else is text.
	ContentType int `json:"content_type"`
}

func (a *SendMessageArgs) Kind() Kind           { return KindSendMessage }
func (a *SendMessageArgs) Actor() models.UserID { return models.UserID(a.SenderID) }
func (a *SendMessageArgs) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.SendMessage(ctx, a)
}

func (a *SendMessageArgs) validate() error {
	if err := required("session_channel", a.SessionChannel); err != nil {
		return err
	}
	if err := required("sender_id", a.SenderID); err != nil {
		return err
	}
	if a.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidArguments)
	}
	return nil
}

type ReadMessageArgs struct {
	ExecutorID ID `json:"executor_id"`
	MessageID  ID `json:"message_id"`
	// SessionChannel is optional; without it the message's own
	// conversation is used.
	SessionChannel ID `json:"session_channel"`
}

func (a *ReadMessageArgs) Kind() Kind           { return KindReadMessage }
func (a *ReadMessageArgs) Actor() models.UserID { return models.UserID(a.ExecutorID) }
func (a *ReadMessageArgs) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.ReadMessage(ctx, a)
}

func (a *ReadMessageArgs) validate() error {
	if err := required("executor_id", a.ExecutorID); err != nil {
		return err
	}
	if err := required("message_id", a.MessageID); err != nil {
		return err
	}
	if _, err := a.MessageID.Int64(); err != nil {
		return fmt.Errorf("%w: message_id %v", ErrInvalidArguments, err)
	}
	return nil
}

// Message returns the parsed message identifier. Valid after decoding.
func (a *ReadMessageArgs) Message() int64 {
	n, _ := a.MessageID.Int64()
	return n
}

type GetUnreadInfoArgs struct {
	UserID ID `json:"user_id"`
}

func (a *GetUnreadInfoArgs) Kind() Kind           { return KindGetUnreadInfo }
func (a *GetUnreadInfoArgs) Actor() models.UserID { return models.UserID(a.UserID) }
func (a *GetUnreadInfoArgs) validate() error      { return required("user_id", a.UserID) }
func (a *GetUnreadInfoArgs) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.GetUnreadInfo(ctx, a)
}

type GetUnreadMessagesArgs struct {
	ExecutorID ID  `json:"executor_id"`
	Limit      int `json:"limit"`
}

func (a *GetUnreadMessagesArgs) Kind() Kind           { return KindGetUnreadMessages }
func (a *GetUnreadMessagesArgs) Actor() models.UserID { return models.UserID(a.ExecutorID) }
func (a *GetUnreadMessagesArgs) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.GetUnreadMessages(ctx, a)
}

func (a *GetUnreadMessagesArgs) validate() error {
	if err := required("executor_id", a.ExecutorID); err != nil {
		return err
	}
	return nonNegative("limit", int64(a.Limit))
}

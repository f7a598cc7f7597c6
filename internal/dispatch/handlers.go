package dispatch

import (
	"context"

	"github.com/pliu/chatterbox/internal/events"
	"github.com/pliu/chatterbox/internal/models"
	"github.com/pliu/chatterbox/internal/ws"
)

// call handles the events of one frame on behalf of session.
type call struct {
	*Dispatcher
	session ws.Session
}

var _ events.Handler = call{}

func (c call) GetConversationList(ctx context.Context, args *events.GetConversationListArgs) (interface{}, error) {
	list, err := c.store.ListConversations(ctx, args.Actor())
	if err != nil {
		return nil, err
	}
	return events.ConversationListResult{Conversations: list}, nil
}

func (c call) AddConversation(ctx context.Context, args *events.AddConversationArgs) (interface{}, error) {
	conv, err := c.store.CreateConversation(ctx, args.Members(), string(args.ApplicationID))
	if err != nil {
		return nil, err
	}
	return events.AddConversationResult{Conversation: conv}, nil
}

func (c call) GetMessageList(ctx context.Context, args *events.GetMessageListArgs) (interface{}, error) {
	channel := string(args.SessionChannel)
	page, err := c.store.ListMessages(ctx, channel, args.Actor(), models.Page{Since: args.Since, Limit: args.Limit})
	if err != nil {
		return nil, err
	}
	return events.MessageListResult{
		SessionChannel: channel,
		Messages:       page.Messages,
		HasMore:        page.HasMore,
		Next:           page.Next,
	}, nil
}

func (c call) SendMessage(ctx context.Context, args *events.SendMessageArgs) (interface{}, error) {
	channel := string(args.SessionChannel)
	msg, err := c.store.AppendMessage(ctx, channel, args.Actor(), args.Content, models.ContentType(args.ContentType))
	if err != nil {
		return nil, err
	}
	c.fanOut(ctx, msg)
	return events.SendMessageResult{Message: msg}, nil
}

// fanOut pushes msg to every other member and to the sender's other
// connections. The message is already stored, so failures here only cost
// live delivery.
func (c call) fanOut(ctx context.Context, msg models.Message) {
	ctx, cancel := c.pushContext(ctx)
	defer cancel()

	members, err := c.store.GetMembers(ctx, msg.Channel)
	if err != nil {
		c.log.WithError(err).WithField("channel", msg.Channel).Warn("skipping message fan-out")
		return
	}

	unread := msg
	unread.Read = false
	forOthers, err := events.Push(events.ReceiveMessageEvent, events.ReceiveMessagePush{Message: unread})
	if err != nil {
		c.log.WithError(err).Error("encode push")
		return
	}
	forSender, err := events.Push(events.ReceiveMessageEvent, events.ReceiveMessagePush{Message: msg})
	if err != nil {
		c.log.WithError(err).Error("encode push")
		return
	}

	for _, m := range members {
		if m == msg.SenderID {
			c.push(m, events.ReceiveMessageEvent, forSender, c.session.ID())
			continue
		}
		c.push(m, events.ReceiveMessageEvent, forOthers, "")
	}
}

func (c call) ReadMessage(ctx context.Context, args *events.ReadMessageArgs) (interface{}, error) {
	cursor, err := c.store.MarkRead(ctx, string(args.SessionChannel), args.Actor(), args.Message())
	if err != nil {
		return nil, err
	}
	c.syncUnread(ctx, args.Actor())
	return events.ReadMessageResult{
		ExecutorID: args.Actor(),
		MessageID:  args.Message(),
		Cursor:     cursor,
	}, nil
}

// syncUnread tells the user's other connections about new unread counts.
func (c call) syncUnread(ctx context.Context, user models.UserID) {
	others := false
	for _, s := range c.pusher.Connections(user) {
		if s.ID() != c.session.ID() {
			others = true
			break
		}
	}
	if !others {
		return
	}

	ctx, cancel := c.pushContext(ctx)
	defer cancel()
	counts, err := c.store.UnreadCounts(ctx, user)
	if err != nil {
		c.log.WithError(err).WithField("user_id", user).Warn("skipping unread update")
		return
	}
	payload, err := events.Push(events.UnreadUpdateEvent, events.NewUnreadInfo(user, counts))
	if err != nil {
		c.log.WithError(err).Error("encode push")
		return
	}
	c.push(user, events.UnreadUpdateEvent, payload, c.session.ID())
}

func (c call) GetUnreadInfo(ctx context.Context, args *events.GetUnreadInfoArgs) (interface{}, error) {
	counts, err := c.store.UnreadCounts(ctx, args.Actor())
	if err != nil {
		return nil, err
	}
	return events.NewUnreadInfo(args.Actor(), counts), nil
}

func (c call) GetUnreadMessages(ctx context.Context, args *events.GetUnreadMessagesArgs) (interface{}, error) {
	limit := args.Limit
	if limit > 0 {
		// One extra row tells whether the limit cut anything off.
		limit++
	}
	msgs, err := c.store.UnreadMessages(ctx, args.Actor(), limit)
	if err != nil {
		return nil, err
	}

	res := events.UnreadMessagesResult{Messages: msgs}
	if args.Limit > 0 && len(msgs) > args.Limit {
		res.Messages = msgs[:args.Limit]
		res.HasMore = true
	}
	return res, nil
}


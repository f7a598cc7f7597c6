package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pliu/chatterbox/internal/events"
	"github.com/pliu/chatterbox/internal/metrics"
	"github.com/pliu/chatterbox/internal/models"
	"github.com/pliu/chatterbox/internal/store/sqlstore"
	"github.com/pliu/chatterbox/internal/ws"
)

type session struct {
	id    string
	user  models.UserID
	state ws.State

	mu     sync.Mutex
	frames [][]byte
}

func (s *session) ID() string            { return s.id }
func (s *session) UserID() models.UserID { return s.user }
func (s *session) State() ws.State       { return s.state }

func (s *session) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, p)
	return nil
}

// drain returns and forgets every frame received so far.
func (s *session) drain(t *testing.T) []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame, 0, len(s.frames))
	for _, raw := range s.frames {
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f), string(raw))
		out = append(out, f)
	}
	s.frames = nil
	return out
}

type frame struct {
	ID     json.RawMessage   `json:"id"`
	Name   string            `json:"name"`
	Ok     bool              `json:"ok"`
	Result json.RawMessage   `json:"result"`
	Error  *events.ErrorBody `json:"error"`
}

func (f frame) code() string {
	if f.Error == nil {
		return events.CodeOK
	}
	return f.Error.Code
}

func result[T any](t *testing.T, f frame) T {
	t.Helper()
	require.True(t, f.Ok, "unexpected failure: %+v", f.Error)
	var v T
	require.NoError(t, json.Unmarshal(f.Result, &v))
	return v
}

type harness struct {
	t     *testing.T
	store *sqlstore.SQLStore
	reg   *ws.Registry
	d     *Dispatcher
	conns int
}

func newHarness(t *testing.T, opts ...Option) *harness {
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log, _ := test.NewNullLogger()
	reg := ws.NewRegistry(log)
	return &harness{t: t, store: st, reg: reg, d: New(st, reg, log, opts...)}
}

func (h *harness) connect(user models.UserID) *session {
	h.conns++
	s := &session{id: fmt.Sprintf("%s-%d", user, h.conns), user: user, state: ws.StateActive}
	require.NoError(h.t, h.reg.Register(s))
	return s
}

// call sends one event on s and returns the single response it produced.
func (h *harness) call(s *session, name string, args interface{}) frame {
	h.t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"id": h.conns, "name": name, "args": args})
	require.NoError(h.t, err)
	return h.raw(s, raw)
}

func (h *harness) raw(s *session, raw []byte) frame {
	h.t.Helper()
	h.d.HandleMessage(context.Background(), s, raw)
	frames := s.drain(h.t)
	require.Len(h.t, frames, 1, "every request gets exactly one response")
	return frames[0]
}

func (h *harness) createConversation(s *session, members ...string) string {
	h.t.Helper()
	f := h.call(s, "Event.AddConversation", map[string]interface{}{
		"user_id":        s.user,
		"application_id": "app",
		"member_ids":     members,
	})
	return result[events.AddConversationResult](h.t, f).Conversation.Channel
}

func (h *harness) send(s *session, channel, content string) models.Message {
	h.t.Helper()
	f := h.call(s, "Event.SendMessage", map[string]interface{}{
		"session_channel": channel,
		"sender_id":       s.user,
		"content":         content,
	})
	return result[events.SendMessageResult](h.t, f).Message
}

func TestEveryKindIsHandled(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	channel := h.createConversation(alice, "bob")
	msg := h.send(alice, channel, "hi")

	args := map[events.Kind]map[string]interface{}{
		events.KindGetConversationList: {"user_id": "alice"},
		events.KindAddConversation:     {"user_id": "alice", "application_id": "app"},
		events.KindGetMessageList:      {"session_channel": channel, "executor_id": "alice"},
		events.KindSendMessage:         {"session_channel": channel, "sender_id": "alice", "content": "again"},
		events.KindReadMessage:         {"executor_id": "alice", "message_id": msg.ID},
		events.KindGetUnreadInfo:       {"user_id": "alice"},
		events.KindGetUnreadMessages:   {"executor_id": "alice"},
	}

	for _, k := range events.Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			a, ok := args[k]
			require.True(t, ok, "no test frame for %s", k)
			f := h.call(alice, k.String(), a)
			assert.Equal(t, k.String(), f.Name)
			assert.True(t, f.Ok, "%+v", f.Error)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	channel := h.createConversation(alice, "bob")
	sent := h.send(alice, channel, "hello")
	assert.Equal(t, int64(1), sent.Seq)
	assert.True(t, sent.Read)

	pushes := bob.drain(t)
	require.Len(t, pushes, 1)
	assert.Equal(t, events.ReceiveMessageEvent, pushes[0].Name)
	assert.Empty(t, pushes[0].ID)
	pushed := result[events.ReceiveMessagePush](t, pushes[0]).Message
	assert.Equal(t, sent.ID, pushed.ID)
	assert.False(t, pushed.Read)

	f := h.call(bob, "Event.GetMessageList", map[string]interface{}{
		"session_channel": channel,
		"executor_id":     "bob",
	})
	list := result[events.MessageListResult](t, f)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "hello", list.Messages[0].Content)
	assert.Equal(t, int64(1), list.Messages[0].Seq)
	assert.False(t, list.Messages[0].Read)

	f = h.call(bob, "Event.GetUnreadInfo", map[string]interface{}{"user_id": "bob"})
	assert.Equal(t, 1, result[events.UnreadInfoResult](t, f).Total)

	f = h.call(bob, "Event.ReadMessage", map[string]interface{}{"executor_id": "bob", "message_id": sent.ID})
	read := result[events.ReadMessageResult](t, f)
	assert.Equal(t, int64(1), read.Cursor.Seq)
	assert.Equal(t, channel, read.Cursor.Channel)

	f = h.call(bob, "Event.GetUnreadInfo", map[string]interface{}{"user_id": "bob"})
	info := result[events.UnreadInfoResult](t, f)
	assert.Zero(t, info.Total)
	assert.Empty(t, info.Conversations)
}

func TestUnreadScenario(t *testing.T) {
	h := newHarness(t)
	a, b, c := h.connect("a"), h.connect("b"), h.connect("c")

	channel := h.createConversation(a, "b", "c")
	var sent []models.Message
	for i := 1; i <= 3; i++ {
		sent = append(sent, h.send(a, channel, fmt.Sprintf("m%d", i)))
	}
	b.drain(t)
	c.drain(t)

	h.call(b, "Event.ReadMessage", map[string]interface{}{
		"executor_id":     "b",
		"message_id":      sent[1].ID,
		"session_channel": channel,
	})

	unread := func(s *session) events.UnreadInfoResult {
		f := h.call(s, "Event.GetUnreadInfo", map[string]interface{}{"user_id": s.user})
		return result[events.UnreadInfoResult](t, f)
	}

	infoB := unread(b)
	require.Len(t, infoB.Conversations, 1)
	assert.Equal(t, channel, infoB.Conversations[0].Channel)
	assert.Equal(t, 1, infoB.Conversations[0].Count)

	infoC := unread(c)
	require.Len(t, infoC.Conversations, 1)
	assert.Equal(t, 3, infoC.Conversations[0].Count)
	assert.Equal(t, 3, infoC.Total)

	assert.Zero(t, unread(a).Total)

	f := h.call(c, "Event.GetUnreadMessages", map[string]interface{}{"executor_id": "c", "limit": 2})
	page := result[events.UnreadMessagesResult](t, f)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(3), page.Messages[0].Seq)
	assert.Equal(t, int64(2), page.Messages[1].Seq)

	f = h.call(c, "Event.GetUnreadMessages", map[string]interface{}{"executor_id": "c", "limit": 3})
	page = result[events.UnreadMessagesResult](t, f)
	assert.Len(t, page.Messages, 3)
	assert.False(t, page.HasMore)
}

func TestGetUnreadMessagesWithoutLimitReturnsAll(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")
	channel := h.createConversation(a, "b")

	const total = 60
	for i := 0; i < total; i++ {
		h.send(a, channel, fmt.Sprintf("m%d", i))
	}
	b.drain(t)

	f := h.call(b, "Event.GetUnreadInfo", map[string]interface{}{"user_id": "b"})
	assert.Equal(t, total, result[events.UnreadInfoResult](t, f).Total)

	f = h.call(b, "Event.GetUnreadMessages", map[string]interface{}{"executor_id": "b"})
	page := result[events.UnreadMessagesResult](t, f)
	assert.Len(t, page.Messages, total)
	assert.False(t, page.HasMore)
}

func TestNonMemberIsRejected(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	mallory := h.connect("mallory")

	channel := h.createConversation(alice, "bob")
	msg := h.send(alice, channel, "secret")

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"Event.GetMessageList", map[string]interface{}{"session_channel": channel, "executor_id": "mallory"}},
		{"Event.SendMessage", map[string]interface{}{"session_channel": channel, "sender_id": "mallory", "content": "x"}},
		{"Event.ReadMessage", map[string]interface{}{"executor_id": "mallory", "message_id": msg.ID}},
		{"Event.ReadMessage", map[string]interface{}{"executor_id": "mallory", "message_id": msg.ID, "session_channel": channel}},
	}
	for _, tt := range tests {
		f := h.call(mallory, tt.name, tt.args)
		assert.Equal(t, events.CodeNotAMember, f.code(), tt.name)
		assert.Equal(t, tt.name, f.Name)
	}

	// Rejected sends consume no sequence number.
	next := h.send(alice, channel, "after")
	assert.Equal(t, int64(2), next.Seq)
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	channel := h.createConversation(alice)

	tests := []struct {
		name string
		args map[string]interface{}
		code string
	}{
		{"Event.SendMessage", map[string]interface{}{"session_channel": "nope", "sender_id": "alice", "content": "x"}, events.CodeConversationNotFound},
		{"Event.SendMessage", map[string]interface{}{"session_channel": channel, "sender_id": "alice", "content": ""}, events.CodeInvalidArguments},
		{"Event.SendMessage", map[string]interface{}{"session_channel": channel, "content": "x"}, events.CodeInvalidArguments},
		{"Event.ReadMessage", map[string]interface{}{"executor_id": "alice", "message_id": 999}, events.CodeInvalidMessageReference},
		{"Event.ReadMessage", map[string]interface{}{"executor_id": "alice", "message_id": "abc"}, events.CodeInvalidArguments},
		{"Event.GetMessageList", map[string]interface{}{"session_channel": channel, "executor_id": "alice", "limit": -1}, events.CodeInvalidArguments},
		{"Event.AddConversation", map[string]interface{}{"user_id": "bob"}, events.CodeUnauthorized},
		{"Event.GetUnreadInfo", map[string]interface{}{"user_id": "bob"}, events.CodeUnauthorized},
		{"Event.Nope", map[string]interface{}{}, events.CodeUnknownEvent},
	}
	for _, tt := range tests {
		f := h.call(alice, tt.name, tt.args)
		assert.False(t, f.Ok)
		assert.Equal(t, tt.code, f.code(), "%s %v", tt.name, tt.args)
		assert.NotEmpty(t, f.Error.Message)
	}
}

func TestEnvelopeHandling(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")

	f := h.raw(alice, []byte(`{not json`))
	assert.Equal(t, events.CodeInvalidArguments, f.code())
	assert.Empty(t, f.Name)

	f = h.raw(alice, []byte(`{"id":"abc","name":"Event.Unknown"}`))
	assert.Equal(t, events.CodeUnknownEvent, f.code())
	assert.Equal(t, "Event.Unknown", f.Name)
	assert.JSONEq(t, `"abc"`, string(f.ID))

	// Legacy clients send args as an encoded string.
	f = h.raw(alice, []byte(`{"id":7,"name":"Event.GetUnreadInfo","args":"{\"user_id\":\"alice\"}"}`))
	assert.True(t, f.Ok)
	assert.JSONEq(t, `7`, string(f.ID))
	assert.Equal(t, "alice", string(result[events.UnreadInfoResult](t, f).UserID))

	f = h.raw(alice, []byte(`{"name":"Event.GetUnreadInfo","args":[1,2]}`))
	assert.Equal(t, events.CodeInvalidArguments, f.code())
}

func TestSessionState(t *testing.T) {
	h := newHarness(t)
	raw := []byte(`{"name":"Event.GetUnreadInfo","args":{"user_id":"alice"}}`)

	fresh := &session{id: "fresh", user: "alice", state: ws.StateConnected}
	h.d.HandleMessage(context.Background(), fresh, raw)
	frames := fresh.drain(t)
	require.Len(t, frames, 1)
	assert.Equal(t, events.CodeUnauthorized, frames[0].code())

	authed := &session{id: "authed", user: "alice", state: ws.StateAuthenticated}
	h.d.HandleMessage(context.Background(), authed, raw)
	frames = authed.drain(t)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Ok)

	closed := &session{id: "closed", user: "alice", state: ws.StateClosed}
	h.d.HandleMessage(context.Background(), closed, raw)
	assert.Empty(t, closed.drain(t))
}

func TestSenderOtherConnectionsReceiveMessage(t *testing.T) {
	h := newHarness(t)
	phone := h.connect("alice")
	laptop := h.connect("alice")
	bob := h.connect("bob")

	channel := h.createConversation(phone, "bob")
	msg := h.send(phone, channel, "from my phone")

	pushes := laptop.drain(t)
	require.Len(t, pushes, 1)
	own := result[events.ReceiveMessagePush](t, pushes[0]).Message
	assert.Equal(t, msg.ID, own.ID)
	assert.True(t, own.Read)

	assert.Len(t, bob.drain(t), 1)
}

func TestReadMessageSyncsOtherConnections(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	phone := h.connect("bob")
	laptop := h.connect("bob")

	channel := h.createConversation(alice, "bob")
	first := h.send(alice, channel, "one")
	h.send(alice, channel, "two")
	phone.drain(t)
	laptop.drain(t)

	h.call(phone, "Event.ReadMessage", map[string]interface{}{"executor_id": "bob", "message_id": first.ID})

	pushes := laptop.drain(t)
	require.Len(t, pushes, 1)
	assert.Equal(t, events.UnreadUpdateEvent, pushes[0].Name)
	update := result[events.UnreadInfoResult](t, pushes[0])
	assert.Equal(t, "bob", string(update.UserID))
	assert.Equal(t, 1, update.Total)

	assert.Empty(t, alice.drain(t))
}

func TestConcurrentSendsAreGapless(t *testing.T) {
	h := newHarness(t)
	users := []models.UserID{"u1", "u2", "u3", "u4"}
	sessions := make([]*session, len(users))
	for i, u := range users {
		sessions[i] = &session{id: string(u), user: u, state: ws.StateActive}
	}
	channel := h.createConversation(sessions[0], "u2", "u3", "u4")

	const perUser = 20
	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			for i := 0; i < perUser; i++ {
				raw, err := json.Marshal(map[string]interface{}{
					"name": "Event.SendMessage",
					"args": map[string]interface{}{"session_channel": channel, "sender_id": s.user, "content": "x"},
				})
				if err != nil {
					return err
				}
				h.d.HandleMessage(context.Background(), s, raw)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int64]bool)
	for _, s := range sessions {
		for _, f := range s.drain(t) {
			msg := result[events.SendMessageResult](t, f).Message
			assert.False(t, seen[msg.Seq], "sequence %d allocated twice", msg.Seq)
			seen[msg.Seq] = true
		}
	}
	require.Len(t, seen, len(users)*perUser)
	for seq := int64(1); seq <= int64(len(users)*perUser); seq++ {
		assert.True(t, seen[seq], "sequence %d missing", seq)
	}
}

func TestStorageFailureHidesDetails(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	require.NoError(t, h.store.Close())

	f := h.call(alice, "Event.GetConversationList", map[string]interface{}{"user_id": "alice"})
	assert.Equal(t, events.CodeStorageUnavailable, f.code())
	assert.NotContains(t, f.Error.Message, "sql")
}

func TestMetricsAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, WithMetrics(metrics.New(reg, nil)))
	alice := h.connect("alice")

	h.call(alice, "Event.GetUnreadInfo", map[string]interface{}{"user_id": "alice"})
	h.call(alice, "Event.Bogus", nil)

	expected := `
# HELP chat_events_total Inbound events handled, by event name and result code.
# TYPE chat_events_total counter
chat_events_total{code="OK",event="Event.GetUnreadInfo"} 1
chat_events_total{code="UnknownEvent",event="unknown"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chat_events_total"))
}

// deadlineStore finishes mutations only once the request deadline has
// passed.
type deadlineStore struct {
	*sqlstore.SQLStore
}

func (s deadlineStore) AppendMessage(ctx context.Context, channel string, sender models.UserID, content string, contentType models.ContentType) (models.Message, error) {
	msg, err := s.SQLStore.AppendMessage(ctx, channel, sender, content, contentType)
	<-ctx.Done()
	return msg, err
}

func (s deadlineStore) MarkRead(ctx context.Context, channel string, executor models.UserID, messageID int64) (models.ReadCursor, error) {
	cursor, err := s.SQLStore.MarkRead(ctx, channel, executor, messageID)
	<-ctx.Done()
	return cursor, err
}

func TestPushesSurviveRequestTimeout(t *testing.T) {
	h := newHarness(t)
	log, _ := test.NewNullLogger()
	h.d = New(deadlineStore{h.store}, h.reg, log, WithTimeout(50*time.Millisecond))

	alice := h.connect("alice")
	phone := h.connect("bob")
	laptop := h.connect("bob")
	channel := h.createConversation(alice, "bob")

	msg := h.send(alice, channel, "late but stored")
	for _, s := range []*session{phone, laptop} {
		pushes := s.drain(t)
		require.Len(t, pushes, 1)
		assert.Equal(t, events.ReceiveMessageEvent, pushes[0].Name)
	}

	f := h.call(phone, "Event.ReadMessage", map[string]interface{}{"executor_id": "bob", "message_id": msg.ID})
	assert.True(t, f.Ok, "%+v", f.Error)

	pushes := laptop.drain(t)
	require.Len(t, pushes, 1)
	assert.Equal(t, events.UnreadUpdateEvent, pushes[0].Name)
	assert.Zero(t, result[events.UnreadInfoResult](t, pushes[0]).Total)
}

package sqlstore

import (
	"context"
	"database/sql"

	"github.com/pliu/chatterbox/internal/models"
	"github.com/pliu/chatterbox/internal/store"
)

// AppendMessage allocates the next sequence of the conversation and stores
// the message in one transaction. The UPDATE on the conversation row is the
// serialization point: concurrent appends to the same conversation queue on
// its row lock (Postgres) or on the single connection (SQLite).
func (s *SQLStore) AppendMessage(ctx context.Context, channel string, sender models.UserID, content string, contentType models.ContentType) (models.Message, error) {
	msg := models.Message{
		Channel:     channel,
		SenderID:    sender,
		Content:     content,
		ContentType: contentType.Normalize(),
		Read:        true,
	}

	err := s.withTx(ctx, "append message", func(tx *sql.Tx) error {
		id, err := s.conversationID(ctx, tx, channel)
		if err != nil {
			return err
		}
		if _, err := s.readCursor(ctx, tx, id, string(sender)); err != nil {
			return err
		}

		msg.ConversationID = id
		msg.CreatedAt = s.now()

		query := s.rebind("UPDATE conversations SET last_seq = last_seq + 1, updated_at = ? WHERE id = ? RETURNING last_seq")
		if err := tx.QueryRowContext(ctx, query, msg.CreatedAt, id).Scan(&msg.Seq); err != nil {
			return unavailable(err, "allocate sequence")
		}

		query = s.rebind("INSERT INTO messages (conversation_id, seq, sender_id, content, content_type, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id")
		if err := tx.QueryRowContext(ctx, query, id, msg.Seq, string(sender), content, int(msg.ContentType), msg.CreatedAt).Scan(&msg.ID); err != nil {
			return unavailable(err, "insert message")
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *SQLStore) ListMessages(ctx context.Context, channel string, executor models.UserID, page models.Page) (models.MessagePage, error) {
	limit := store.ClampLimit(page.Limit)
	result := models.MessagePage{Messages: make([]models.Message, 0), Next: page.Since}

	err := s.withTx(ctx, "list messages", func(tx *sql.Tx) error {
		id, err := s.conversationID(ctx, tx, channel)
		if err != nil {
			return err
		}
		cursor, err := s.readCursor(ctx, tx, id, string(executor))
		if err != nil {
			return err
		}

		query := s.rebind(`
			SELECT id, seq, sender_id, content, content_type, created_at
			FROM messages
			WHERE conversation_id = ? AND seq > ?
			ORDER BY seq ASC
			LIMIT ?
		`)
		// One extra row tells whether another page exists.
		rows, err := tx.QueryContext(ctx, query, id, page.Since, limit+1)
		if err != nil {
			return unavailable(err, "list messages")
		}
		defer rows.Close()

		for rows.Next() {
			m := models.Message{ConversationID: id, Channel: channel}
			var sender string
			var contentType int
			if err := rows.Scan(&m.ID, &m.Seq, &sender, &m.Content, &contentType, &m.CreatedAt); err != nil {
				return unavailable(err, "scan message")
			}
			m.SenderID = models.UserID(sender)
			m.ContentType = models.ContentType(contentType)
			m.Read = m.Seq <= cursor || m.SenderID == executor
			result.Messages = append(result.Messages, m)
		}
		if err := rows.Err(); err != nil {
			return unavailable(err, "list messages")
		}
		return nil
	})
	if err != nil {
		return models.MessagePage{}, err
	}

	if len(result.Messages) > limit {
		result.Messages = result.Messages[:limit]
		result.HasMore = true
	}
	if n := len(result.Messages); n > 0 {
		result.Next = result.Messages[n-1].Seq
	}
	return result, nil
}

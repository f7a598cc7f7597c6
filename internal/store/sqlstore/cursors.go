package sqlstore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/pliu/chatterbox/internal/models"
	"github.com/pliu/chatterbox/internal/store"
)

func (s *SQLStore) MarkRead(ctx context.Context, channel string, executor models.UserID, messageID int64) (models.ReadCursor, error) {
	cursor := models.ReadCursor{Channel: channel, UserID: executor}

	err := s.withTx(ctx, "mark read", func(tx *sql.Tx) error {
		var (
			msgConversation int64
			msgSeq          int64
		)

		if channel != "" {
			id, err := s.conversationID(ctx, tx, channel)
			if err != nil {
				return err
			}
			if _, err := s.readCursor(ctx, tx, id, string(executor)); err != nil {
				return err
			}
			err = tx.QueryRowContext(ctx, s.rebind("SELECT conversation_id, seq FROM messages WHERE id = ?"), messageID).Scan(&msgConversation, &msgSeq)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && msgConversation != id) {
				return store.ErrInvalidMessageReference
			}
			if err != nil {
				return unavailable(err, "lookup message")
			}
		} else {
			query := s.rebind(`
				SELECT m.conversation_id, m.seq, c.channel
				FROM messages m
				JOIN conversations c ON c.id = m.conversation_id
				WHERE m.id = ?
			`)
			err := tx.QueryRowContext(ctx, query, messageID).Scan(&msgConversation, &msgSeq, &cursor.Channel)
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrInvalidMessageReference
			}
			if err != nil {
				return unavailable(err, "lookup message")
			}
			if _, err := s.readCursor(ctx, tx, msgConversation, string(executor)); err != nil {
				return err
			}
		}
		cursor.ConversationID = msgConversation

		// The guard keeps the cursor monotone when read events arrive out of order.
		update := s.rebind("UPDATE members SET read_seq = ? WHERE conversation_id = ? AND user_id = ? AND read_seq < ?")
		if _, err := tx.ExecContext(ctx, update, msgSeq, msgConversation, string(executor), msgSeq); err != nil {
			return unavailable(err, "update cursor")
		}

		seq, err := s.readCursor(ctx, tx, msgConversation, string(executor))
		if err != nil {
			return err
		}
		cursor.Seq = seq
		return nil
	})
	if err != nil {
		return models.ReadCursor{}, err
	}
	return cursor, nil
}

func (s *SQLStore) UnreadCounts(ctx context.Context, user models.UserID) ([]models.UnreadCount, error) {
	query := s.rebind(`
		SELECT c.id, c.channel, COUNT(m.id)
		FROM members p
		JOIN conversations c ON c.id = p.conversation_id
		JOIN messages m ON m.conversation_id = p.conversation_id
			AND m.seq > p.read_seq
			AND m.sender_id <> p.user_id
		WHERE p.user_id = ?
		GROUP BY c.id, c.channel
		ORDER BY c.id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, string(user))
	if err != nil {
		return nil, unavailable(err, "unread counts")
	}
	defer rows.Close()

	counts := make([]models.UnreadCount, 0)
	for rows.Next() {
		var c models.UnreadCount
		if err := rows.Scan(&c.ConversationID, &c.Channel, &c.Count); err != nil {
			return nil, unavailable(err, "scan unread count")
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "unread counts")
	}
	return counts, nil
}

// UnreadMessages returns the user's unread messages, newest first. A
// non-positive limit returns all of them.
func (s *SQLStore) UnreadMessages(ctx context.Context, user models.UserID, limit int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.conversation_id, c.channel, m.seq, m.sender_id, m.content, m.content_type, m.created_at
		FROM members p
		JOIN conversations c ON c.id = p.conversation_id
		JOIN messages m ON m.conversation_id = p.conversation_id
			AND m.seq > p.read_seq
			AND m.sender_id <> p.user_id
		WHERE p.user_id = ?
		ORDER BY m.id DESC
	`
	args := []interface{}{string(user)}
	if limit > 0 {
		query += "LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, unavailable(err, "unread messages")
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			m           models.Message
			sender      string
			contentType int
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Channel, &m.Seq, &sender, &m.Content, &contentType, &m.CreatedAt); err != nil {
			return nil, unavailable(err, "scan message")
		}
		m.SenderID = models.UserID(sender)
		m.ContentType = models.ContentType(contentType)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "unread messages")
	}
	return messages, nil
}

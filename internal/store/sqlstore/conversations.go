package sqlstore

import (
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"

	"github.com/pliu/chatterbox/internal/models"
	"github.com/pliu/chatterbox/internal/store"
)

func (s *SQLStore) CreateConversation(ctx context.Context, members []models.UserID, applicationID string) (models.Conversation, error) {
	members = store.NormalizeMembers(members)
	if len(members) == 0 {
		return models.Conversation{}, store.ErrInvalidMembers
	}

	now := s.now()
	conv := models.Conversation{
		Channel:       uuid.NewString(),
		ApplicationID: applicationID,
		Members:       members,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.withTx(ctx, "create conversation", func(tx *sql.Tx) error {
		query := s.rebind("INSERT INTO conversations (channel, application_id, last_seq, created_at, updated_at) VALUES (?, ?, 0, ?, ?) RETURNING id")
		if err := tx.QueryRowContext(ctx, query, conv.Channel, applicationID, now, now).Scan(&conv.ID); err != nil {
			return unavailable(err, "insert conversation")
		}

		query = s.rebind("INSERT INTO members (conversation_id, user_id, read_seq) VALUES (?, ?, 0)")
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, query, conv.ID, string(m)); err != nil {
				return unavailable(err, "insert member")
			}
		}
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

func (s *SQLStore) ListConversations(ctx context.Context, user models.UserID) ([]models.ConversationSummary, error) {
	query := s.rebind(`
		SELECT c.id, c.channel, c.application_id, c.created_at, c.updated_at,
			m.seq, m.sender_id, m.content,
			(SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = c.id AND u.seq > p.read_seq AND u.sender_id <> p.user_id)
		FROM conversations c
		JOIN members p ON p.conversation_id = c.id
		LEFT JOIN messages m ON m.conversation_id = c.id AND m.seq = c.last_seq
		WHERE p.user_id = ?
		ORDER BY c.id DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, string(user))
	if err != nil {
		return nil, unavailable(err, "list conversations")
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var (
			c       models.ConversationSummary
			seq     sql.NullInt64
			sender  sql.NullString
			content sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Channel, &c.ApplicationID, &c.CreatedAt, &c.UpdatedAt, &seq, &sender, &content, &c.UnreadCount); err != nil {
			return nil, unavailable(err, "scan conversation")
		}
		if seq.Valid {
			c.LastMessage = &models.MessageHead{
				Seq:      seq.Int64,
				SenderID: models.UserID(sender.String),
				Content:  content.String,
			}
		}
		summaries = append(summaries, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "list conversations")
	}

	// Rows arrive by id descending, so equal activity times keep the higher id first.
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *SQLStore) GetMembers(ctx context.Context, channel string) ([]models.UserID, error) {
	var members []models.UserID
	err := s.withTx(ctx, "get members", func(tx *sql.Tx) error {
		id, err := s.conversationID(ctx, tx, channel)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, s.rebind("SELECT user_id FROM members WHERE conversation_id = ? ORDER BY user_id"), id)
		if err != nil {
			return unavailable(err, "list members")
		}
		defer rows.Close()

		for rows.Next() {
			var m string
			if err := rows.Scan(&m); err != nil {
				return unavailable(err, "scan member")
			}
			members = append(members, models.UserID(m))
		}
		if err := rows.Err(); err != nil {
			return unavailable(err, "list members")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

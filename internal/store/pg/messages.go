package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/store"
)

// MessageStore implements store.MessageStore on Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// RecentMessages returns the newest limit turns for the conversation in
// chronological order. The query fetches newest-first for index use, then
// the slice is reversed.
func (s *MessageStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, conversation_id, direction, sender_type, content,
		        media_type, media_url, channel_message_id, ai_run_id, created_at
		 FROM conversation_messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []store.ConversationMessage
	for rows.Next() {
		var (
			m                store.ConversationMessage
			mediaType        *string
			mediaURL         *string
			channelMessageID *string
		)
		if err := rows.Scan(&m.ID, &m.LeadID, &m.ConversationID, &m.Direction,
			&m.SenderType, &m.Content, &mediaType, &mediaURL,
			&channelMessageID, &m.AiRunID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		m.MediaType = derefStr(mediaType)
		m.MediaURL = derefStr(mediaURL)
		m.ChannelMessageID = derefStr(channelMessageID)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MessageStore) CreateMessage(ctx context.Context, msg *store.ConversationMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.Must(uuid.NewV7())
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (
		    id, lead_id, conversation_id, direction, sender_type, content,
		    media_type, media_url, channel_message_id, ai_run_id, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.LeadID, msg.ConversationID, string(msg.Direction), msg.SenderType,
		msg.Content, nilStr(msg.MediaType), nilStr(msg.MediaURL),
		nilStr(msg.ChannelMessageID), msg.AiRunID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversation message: %w", err)
	}
	return nil
}

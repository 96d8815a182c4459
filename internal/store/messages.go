package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"careerpilot/internal/models"
)

// InsertMessages stores new messages for a chat and bumps its updated_at.
// Each write is independent; no cross-message transaction is promised.
func (s *Service) InsertMessages(ctx context.Context, chatID int64, msgs []*models.Message) error {
	if chatID <= 0 {
		return errors.New("chat_id is required")
	}
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if msg.ID == "" {
			return errors.New("message id is required")
		}
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		parts, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("marshal parts for %s: %w", msg.ID, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (id, user_id, chat_id, role, parts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.UserID, chatID, msg.Role, string(parts), createdAt,
		); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
		msg.ChatID = chatID
		msg.CreatedAt = createdAt
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// UpdateMessageParts patches only the parts column of an existing message.
// Used by tool-approval continuations where a streamed message re-surfaces
// with a resolved tool invocation under an unchanged id.
func (s *Service) UpdateMessageParts(ctx context.Context, messageID string, parts []models.Part) error {
	if messageID == "" {
		return errors.New("message id is required")
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}
	// Existence is checked up front rather than via RowsAffected: the
	// mysql driver reports changed rows, so rewriting identical parts
	// would look like a missing row.
	exists, err := s.MessageExists(ctx, messageID)
	if err != nil {
		return err
	}
	if !exists {
		return sql.ErrNoRows
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET parts = ? WHERE id = ?`,
		string(data), messageID,
	); err != nil {
		return fmt.Errorf("update message parts: %w", err)
	}
	return nil
}

// MessageExists reports whether a message id is already persisted.
func (s *Service) MessageExists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)`, messageID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return exists, nil
}

// GetChatWithMessages returns one chat and its ordered messages.
func (s *Service) GetChatWithMessages(ctx context.Context, userID, chatID int64) (*models.Chat, []*models.Message, error) {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, role, parts, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return chat, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		var parts string
		if err := rows.Scan(&m.ID, &m.UserID, &m.ChatID, &m.Role, &parts, &m.CreatedAt); err != nil {
			return chat, nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
			return chat, nil, fmt.Errorf("decode parts for %s: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	return chat, messages, rows.Err()
}

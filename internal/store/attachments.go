package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"careerpilot/internal/models"
)

const (
	// DefaultAttachmentTTL bounds how long an uploaded file stays usable.
	DefaultAttachmentTTL = 6 * time.Hour
	// DefaultAttachmentCleanupInterval paces the background sweep.
	DefaultAttachmentCleanupInterval = 30 * time.Minute
)

// RecordAttachment stores metadata for an uploaded file.
func (s *Service) RecordAttachment(ctx context.Context, userID, chatID int64, fileName, storedPath, mimeType string, size int64, ttl time.Duration) (int64, error) {
	if userID <= 0 || chatID <= 0 {
		return 0, errors.New("user_id and chat_id are required")
	}
	if strings.TrimSpace(fileName) == "" || strings.TrimSpace(storedPath) == "" {
		return 0, errors.New("file name and path are required")
	}
	if ttl <= 0 {
		ttl = DefaultAttachmentTTL
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (user_id, chat_id, file_name, stored_path, mime_type, size, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, chatID, fileName, storedPath, mimeType, size, now, now.Add(ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("record attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("attachment id: %w", err)
	}
	return id, nil
}

// GetAttachmentsByIDs returns the user's attachments matching the ids.
func (s *Service) GetAttachmentsByIDs(ctx context.Context, userID, chatID int64, ids []int64) ([]*models.Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, userID, chatID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, file_name, stored_path, mime_type, size, created_at, expires_at
		 FROM attachments WHERE user_id = ? AND chat_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var files []*models.Attachment
	for rows.Next() {
		f := new(models.Attachment)
		if err := rows.Scan(&f.ID, &f.UserID, &f.ChatID, &f.FileName, &f.StoredPath, &f.MimeType, &f.Size, &f.CreatedAt, &f.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// AttachmentStorageUsage sums the user's stored attachment bytes.
func (s *Service) AttachmentStorageUsage(ctx context.Context, userID int64) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM attachments WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("attachment usage: %w", err)
	}
	return total.Int64, nil
}

// StartAttachmentCleaner sweeps expired attachments until ctx is done.
func (s *Service) StartAttachmentCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAttachmentCleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.cleanExpiredAttachments(ctx); err != nil {
					log.Printf("attachment cleanup failed: %v", err)
				}
			}
		}
	}()
}

func (s *Service) cleanExpiredAttachments(ctx context.Context) error {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stored_path FROM attachments WHERE expires_at <= ?`, now,
	)
	if err != nil {
		return fmt.Errorf("list expired attachments: %w", err)
	}
	type expired struct {
		id   int64
		path string
	}
	var stale []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.path); err != nil {
			rows.Close()
			return fmt.Errorf("scan expired attachment: %w", err)
		}
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate expired attachments: %w", err)
	}

	for _, e := range stale {
		if e.path != "" {
			if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
				log.Printf("remove attachment file %s: %v", e.path, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, e.id); err != nil {
			log.Printf("delete attachment row %d: %v", e.id, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"careerpilot/internal/models"
)

// CreateDocument stores a new document artifact under the supplied id.
func (s *Service) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return errors.New("document id is required")
	}
	if doc.UserID <= 0 {
		return errors.New("user_id is required")
	}
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		return errors.New("title is required")
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, title, content, kind, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, title, doc.Content, doc.Kind, now, now,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	doc.Title = title
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

// UpdateDocumentContent replaces a document's content for its owner.
func (s *Service) UpdateDocumentContent(ctx context.Context, userID int64, docID, content string) error {
	if docID == "" {
		return errors.New("document id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		content, now, docID, userID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("document rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetDocument loads a document owned by the user.
func (s *Service) GetDocument(ctx context.Context, userID int64, docID string) (*models.Document, error) {
	doc := new(models.Document)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, kind, created_at, updated_at FROM documents WHERE id = ? AND user_id = ?`,
		docID, userID,
	).Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Content, &doc.Kind, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, userID int64) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, content, kind, created_at, updated_at FROM documents WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Content, &d.Kind, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

package models

import "time"

// Attachment represents a user-uploaded file referenced by file parts.
type Attachment struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	ChatID     int64     `json:"chat_id"`
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"stored_path"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobboard/api/internal/util"
)

const defaultLockTimeout = 5 * time.Second

type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresStore wraps an open pool. lockTimeout bounds how long a board
// write waits for a column lock before failing with ErrTransient.
func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// EnsureStaffByName returns the staff row for name, creating it with the
// default role on first login.
func (s *PostgresStore) EnsureStaffByName(ctx context.Context, name string) (Staff, error) {
	name = strings.TrimSpace(name)
	const findStaff = `SELECT id, display_name, role, created_at FROM staff WHERE display_name = $1`
	var staff Staff
	err := s.db.QueryRowContext(ctx, findStaff, name).Scan(&staff.ID, &staff.DisplayName, &staff.Role, &staff.CreatedAt)
	if err == nil {
		return staff, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Staff{}, fmt.Errorf("lookup staff: %w", err)
	}

	const insertStaff = `
		INSERT INTO staff (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, role, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertStaff, util.NewID("stf"), name).Scan(&staff.ID, &staff.DisplayName, &staff.Role, &staff.CreatedAt); err != nil {
		return Staff{}, fmt.Errorf("insert staff: %w", err)
	}
	return staff, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, attachment Attachment) (Attachment, error) {
	const insertAttachment = `
		INSERT INTO work_item_attachments (id, work_item_id, object_key, file_name, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, insertAttachment,
		attachment.ID, attachment.ItemID, attachment.ObjectKey, attachment.FileName,
		attachment.ContentType, attachment.SizeBytes, attachment.UploadedBy,
	).Scan(&attachment.CreatedAt)
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return attachment, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, itemID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_item_id, object_key, file_name, content_type, size_bytes, uploaded_by, created_at
		FROM work_item_attachments
		WHERE work_item_id = $1
		ORDER BY created_at, id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	attachments := make([]Attachment, 0)
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.ItemID, &a.ObjectKey, &a.FileName, &a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return attachments, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, itemID, attachmentID string) (Attachment, error) {
	var a Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, work_item_id, object_key, file_name, content_type, size_bytes, uploaded_by, created_at
		FROM work_item_attachments
		WHERE work_item_id = $1 AND id = $2
	`, itemID, attachmentID).Scan(&a.ID, &a.ItemID, &a.ObjectKey, &a.FileName, &a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Attachment{}, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

package storage

import (
	"context"
	"database/sql"
	"time"
)

// CalDAVObject records where a note was published.
type CalDAVObject struct {
	NoteID   string
	Path     string
	ETag     string
	SyncedAt *time.Time
}

func (s *Storage) SaveCalDAVObject(ctx context.Context, o *CalDAVObject) error {
	now := time.Now()
	o.SyncedAt = &now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caldav_objects (note_id, path, etag, synced_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(note_id) DO UPDATE SET path = excluded.path, etag = excluded.etag, synced_at = excluded.synced_at`,
		o.NoteID, o.Path, o.ETag, now,
	)
	return err
}

// GetCalDAVObject returns nil when the note was never published.
func (s *Storage) GetCalDAVObject(ctx context.Context, noteID string) (*CalDAVObject, error) {
	o := &CalDAVObject{}
	err := s.db.QueryRowContext(ctx,
		`SELECT note_id, path, etag, synced_at FROM caldav_objects WHERE note_id = ?`, noteID,
	).Scan(&o.NoteID, &o.Path, &o.ETag, &o.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (s *Storage) DeleteCalDAVObject(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM caldav_objects WHERE note_id = ?`, noteID)
	return err
}

// MarkNotified records a notification for a note on a date. It reports
// false when one was already recorded.
func (s *Storage) MarkNotified(ctx context.Context, noteID, dateKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications (note_id, date_key, sent_at) VALUES (?, ?, ?)`,
		noteID, dateKey, time.Now(),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

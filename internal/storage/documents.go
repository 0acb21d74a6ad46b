package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tazhate/worldcal/internal/domain"
)

// FlagNamespace is the key under which calendar data lives in a
// document's flags.
const FlagNamespace = "worldcal"

// noteFlags is the calendar part of a document's flags.
type noteFlags struct {
	CalendarNote  bool                       `json:"calendarNote"`
	StartDate     domain.CalendarDate        `json:"startDate"`
	EndDate       *domain.CalendarDate       `json:"endDate,omitempty"`
	AllDay        bool                       `json:"allDay"`
	Category      string                     `json:"category,omitempty"`
	Tags          []string                   `json:"tags,omitempty"`
	PlayerVisible bool                       `json:"playerVisible"`
	Recurring     *domain.RecurrencePattern  `json:"recurring,omitempty"`
	ModuleData    map[string]json.RawMessage `json:"moduleData,omitempty"`
}

func flagsOf(n *domain.Note) noteFlags {
	return noteFlags{
		CalendarNote:  true,
		StartDate:     n.StartDate,
		EndDate:       n.EndDate,
		AllDay:        n.AllDay,
		Category:      n.Category,
		Tags:          n.Tags,
		PlayerVisible: n.PlayerVisible,
		Recurring:     n.Recurrence,
		ModuleData:    n.ModuleData,
	}
}

// decodeNote returns nil when the document is not a calendar note.
func decodeNote(id, title, body, rawFlags string, createdAt, updatedAt time.Time) (*domain.Note, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rawFlags), &all); err != nil {
		return nil, fmt.Errorf("decode flags of %s: %w", id, err)
	}
	raw, ok := all[FlagNamespace]
	if !ok {
		return nil, nil
	}
	var f noteFlags
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode %s flags of %s: %w", FlagNamespace, id, err)
	}
	if !f.CalendarNote {
		return nil, nil
	}
	return &domain.Note{
		ID:            id,
		Title:         title,
		Content:       body,
		StartDate:     f.StartDate,
		EndDate:       f.EndDate,
		AllDay:        f.AllDay,
		Category:      f.Category,
		Tags:          f.Tags,
		PlayerVisible: f.PlayerVisible,
		Recurrence:    f.Recurring,
		ModuleData:    f.ModuleData,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

// SaveNote inserts or replaces the document for n. Flags of other
// namespaces on an existing document are kept.
func (s *Storage) SaveNote(ctx context.Context, n *domain.Note) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	all := map[string]json.RawMessage{}
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT flags FROM documents WHERE id = ?`, n.ID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("read flags: %w", err)
	default:
		if err := json.Unmarshal([]byte(existing), &all); err != nil {
			return fmt.Errorf("decode flags of %s: %w", n.ID, err)
		}
	}

	raw, err := json.Marshal(flagsOf(n))
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	all[FlagNamespace] = raw
	flags, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, body, flags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, body = excluded.body,
		   flags = excluded.flags, updated_at = excluded.updated_at`,
		n.ID, n.Title, n.Content, string(flags), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return tx.Commit()
}

// GetNote returns nil when no calendar note with id exists.
func (s *Storage) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	var title, body, flags string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, flags, created_at, updated_at FROM documents WHERE id = ?`, id,
	).Scan(&id, &title, &body, &flags, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeNote(id, title, body, flags, createdAt, updatedAt)
}

// ListNotes returns every calendar note ordered by id. Documents of other
// modules are skipped.
func (s *Storage) ListNotes(ctx context.Context) ([]*domain.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, flags, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		var id, title, body, flags string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &title, &body, &flags, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		n, err := decodeNote(id, title, body, flags, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		if n != nil {
			notes = append(notes, n)
		}
	}
	return notes, rows.Err()
}

// DeleteNote removes the document and reports whether it existed.
func (s *Storage) DeleteNote(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveDocument stores a document that is not a calendar note, as written
// by other modules sharing the database.
func (s *Storage) SaveDocument(ctx context.Context, id, title, body string, flags map[string]json.RawMessage) error {
	raw, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, body, flags, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, body = excluded.body,
		   flags = excluded.flags, updated_at = excluded.updated_at`,
		id, title, body, string(raw), now, now,
	)
	return err
}

// DocumentFlags returns the raw flags of any document.
func (s *Storage) DocumentFlags(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT flags FROM documents WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var flags map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, fmt.Errorf("decode flags of %s: %w", id, err)
	}
	return flags, nil
}

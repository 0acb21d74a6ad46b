package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Note is a calendar annotation. A note with a Recurrence is the parent of
// a series; its occurrences are derived, never stored.
type Note struct {
	ID            string                     `json:"id"`
	Title         string                     `json:"title"`
	Content       string                     `json:"content"`
	StartDate     CalendarDate               `json:"start_date"`
	EndDate       *CalendarDate              `json:"end_date,omitempty"`
	AllDay        bool                       `json:"all_day"`
	Category      string                     `json:"category,omitempty"`
	Tags          []string                   `json:"tags,omitempty"`
	PlayerVisible bool                       `json:"player_visible"`
	Recurrence    *RecurrencePattern         `json:"recurrence,omitempty"`
	ModuleData    map[string]json.RawMessage `json:"module_data,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// IsRecurring reports whether the note is a series parent.
func (n *Note) IsRecurring() bool {
	return n.Recurrence != nil
}

// HasTag reports whether the note carries tag.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share state with the store.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	if n.EndDate != nil {
		end := *n.EndDate
		c.EndDate = &end
	}
	if n.Tags != nil {
		c.Tags = append([]string(nil), n.Tags...)
	}
	if n.Recurrence != nil {
		c.Recurrence = n.Recurrence.Clone()
	}
	if n.ModuleData != nil {
		c.ModuleData = make(map[string]json.RawMessage, len(n.ModuleData))
		for k, v := range n.ModuleData {
			c.ModuleData[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// NormalizeTags trims, drops empty and duplicate tags, and sorts them.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

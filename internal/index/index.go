// Package index keeps the in-memory lookup structures over notes: date key,
// day number, category and tag to note ids, plus the folded text used by
// free-text search.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tazhate/worldcal/internal/domain"
)

// DateRef places a note on one calendar day.
type DateRef struct {
	Key  string
	Day  int64
	Date domain.CalendarDate
}

// Entry is everything the index knows about one note.
type Entry struct {
	ID            string
	Title         string
	Category      string
	Tags          []string
	PlayerVisible bool
	Dates         []DateRef
	// Text is the normalized title and body.
	Text string
}

// FirstDate returns the earliest indexed date of the entry.
func (e *Entry) FirstDate() (DateRef, bool) {
	if len(e.Dates) == 0 {
		return DateRef{}, false
	}
	return e.Dates[0], true
}

// DatesInRange returns the entry's dates with from <= Day <= to.
func (e *Entry) DatesInRange(from, to int64) []DateRef {
	lo := sort.Search(len(e.Dates), func(i int) bool { return e.Dates[i].Day >= from })
	hi := sort.Search(len(e.Dates), func(i int) bool { return e.Dates[i].Day > to })
	if lo >= hi {
		return nil
	}
	return e.Dates[lo:hi]
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Dates = append([]DateRef(nil), e.Dates...)
	return &c
}

// Set is a set of note ids.
type Set map[string]struct{}

func (s Set) add(id string) { s[id] = struct{}{} }

// Has reports whether id is in the set.
func (s Set) Has(id string) bool { _, ok := s[id]; return ok }

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Index is safe for concurrent use. All maps change under one lock, so a
// reader sees either the state before a mutation or the state after it.
type Index struct {
	mx         sync.RWMutex
	entries    map[string]*Entry
	byDate     map[string]Set
	byDay      map[int64]Set
	byCategory map[string]Set
	byTag      map[string]Set
}

// New returns an empty index.
func New() *Index {
	ix := &Index{}
	ix.reset()
	return ix
}

func (ix *Index) reset() {
	ix.entries = make(map[string]*Entry)
	ix.byDate = make(map[string]Set)
	ix.byDay = make(map[int64]Set)
	ix.byCategory = make(map[string]Set)
	ix.byTag = make(map[string]Set)
}

// Reset drops every entry.
func (ix *Index) Reset() {
	ix.mx.Lock()
	defer ix.mx.Unlock()
	ix.reset()
}

func validate(e *Entry) error {
	if e.ID == "" {
		return domain.Invalid("index entry", "missing id")
	}
	for _, d := range e.Dates {
		if d.Key == "" {
			return domain.Invalid("index entry", fmt.Sprintf("note %s has a date without key", e.ID))
		}
	}
	return nil
}

// Upsert replaces the entry with the same id.
func (ix *Index) Upsert(e Entry) error {
	if err := validate(&e); err != nil {
		return err
	}
	n := e.clone()
	n.Dates = normalizeDates(n.Dates)

	ix.mx.Lock()
	defer ix.mx.Unlock()
	if old, ok := ix.entries[n.ID]; ok {
		ix.unlink(old)
	}
	ix.entries[n.ID] = n
	ix.link(n)
	return nil
}

// Remove drops the entry with id and reports whether it existed.
func (ix *Index) Remove(id string) bool {
	ix.mx.Lock()
	defer ix.mx.Unlock()
	old, ok := ix.entries[id]
	if !ok {
		return false
	}
	ix.unlink(old)
	delete(ix.entries, id)
	return true
}

// AddDates adds further dates to an existing entry, as when a recurring
// series is materialised for a new window.
func (ix *Index) AddDates(id string, refs []DateRef) error {
	for _, d := range refs {
		if d.Key == "" {
			return domain.Invalid("index entry", fmt.Sprintf("note %s has a date without key", id))
		}
	}
	ix.mx.Lock()
	defer ix.mx.Unlock()
	e, ok := ix.entries[id]
	if !ok {
		return domain.NotFound("add index dates", id)
	}
	e.Dates = normalizeDates(append(e.Dates, refs...))
	for _, d := range refs {
		addTo(ix.byDate, d.Key, id)
		addTo(ix.byDay, d.Day, id)
	}
	return nil
}

func (ix *Index) link(e *Entry) {
	for _, d := range e.Dates {
		addTo(ix.byDate, d.Key, e.ID)
		addTo(ix.byDay, d.Day, e.ID)
	}
	if e.Category != "" {
		addTo(ix.byCategory, Key(e.Category), e.ID)
	}
	for _, t := range e.Tags {
		addTo(ix.byTag, Key(t), e.ID)
	}
}

func (ix *Index) unlink(e *Entry) {
	for _, d := range e.Dates {
		removeFrom(ix.byDate, d.Key, e.ID)
		removeFrom(ix.byDay, d.Day, e.ID)
	}
	if e.Category != "" {
		removeFrom(ix.byCategory, Key(e.Category), e.ID)
	}
	for _, t := range e.Tags {
		removeFrom(ix.byTag, Key(t), e.ID)
	}
}

func addTo[K comparable](m map[K]Set, k K, id string) {
	s, ok := m[k]
	if !ok {
		s = make(Set)
		m[k] = s
	}
	s.add(id)
}

func removeFrom[K comparable](m map[K]Set, k K, id string) {
	if s, ok := m[k]; ok {
		delete(s, id)
		if len(s) == 0 {
			delete(m, k)
		}
	}
}

func normalizeDates(ds []DateRef) []DateRef {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Day != ds[j].Day {
			return ds[i].Day < ds[j].Day
		}
		return ds[i].Key < ds[j].Key
	})
	out := ds[:0]
	for i, d := range ds {
		if i > 0 && d.Key == out[len(out)-1].Key {
			continue
		}
		out = append(out, d)
	}
	return out
}

// View runs fn with a consistent read-only view of the index. The view must
// not be retained after fn returns.
func (ix *Index) View(fn func(v View)) {
	ix.mx.RLock()
	defer ix.mx.RUnlock()
	fn(view{ix})
}

// View is a read-only, lock-free accessor valid inside Index.View.
type View interface {
	Len() int
	Entry(id string) (*Entry, bool)
	Entries() []*Entry
	ByDate(key string) Set
	ByDay(day int64) Set
	DayCount() int
	Days() []int64
	ByCategory(category string) Set
	ByTag(tag string) Set
}

type view struct{ ix *Index }

func (v view) Len() int { return len(v.ix.entries) }

func (v view) Entry(id string) (*Entry, bool) {
	e, ok := v.ix.entries[id]
	return e, ok
}

func (v view) Entries() []*Entry {
	out := make([]*Entry, 0, len(v.ix.entries))
	for _, e := range v.ix.entries {
		out = append(out, e)
	}
	return out
}

func (v view) ByDate(key string) Set { return v.ix.byDate[key] }
func (v view) ByDay(day int64) Set { return v.ix.byDay[day] }
func (v view) DayCount() int { return len(v.ix.byDay) }
func (v view) ByCategory(category string) Set { return v.ix.byCategory[Key(category)] }
func (v view) ByTag(tag string) Set { return v.ix.byTag[Key(tag)] }

func (v view) Days() []int64 {
	out := make([]int64, 0, len(v.ix.byDay))
	for d := range v.ix.byDay {
		out = append(out, d)
	}
	return out
}

// LookupByDate returns the ids indexed under a date key.
func (ix *Index) LookupByDate(key string) []string {
	var out []string
	ix.View(func(v View) { out = v.ByDate(key).Sorted() })
	return out
}

// ByCategory returns the ids in a category.
func (ix *Index) ByCategory(category string) []string {
	var out []string
	ix.View(func(v View) { out = v.ByCategory(category).Sorted() })
	return out
}

// ByTag returns the ids carrying tag.
func (ix *Index) ByTag(tag string) []string {
	var out []string
	ix.View(func(v View) { out = v.ByTag(tag).Sorted() })
	return out
}

// IDsInDayRange returns the ids with a date between from and to inclusive.
func (ix *Index) IDsInDayRange(from, to int64) []string {
	var out []string
	ix.View(func(v View) { out = DayRange(v, from, to).Sorted() })
	return out
}

// DayRange collects the ids on days from..to. It walks the day map instead
// of the range when the range is wider than the set of indexed days.
func DayRange(v View, from, to int64) Set {
	result := make(Set)
	if to < from {
		return result
	}
	if to-from+1 > int64(v.DayCount()) {
		for _, day := range v.Days() {
			if day >= from && day <= to {
				for id := range v.ByDay(day) {
					result.add(id)
				}
			}
		}
		return result
	}
	for day := from; day <= to; day++ {
		for id := range v.ByDay(day) {
			result.add(id)
		}
	}
	return result
}

// Get returns a copy of the entry for id.
func (ix *Index) Get(id string) (Entry, bool) {
	ix.mx.RLock()
	defer ix.mx.RUnlock()
	e, ok := ix.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e.clone(), true
}

// Text returns the normalized searchable text of a note.
func (ix *Index) Text(id string) string {
	ix.mx.RLock()
	defer ix.mx.RUnlock()
	if e, ok := ix.entries[id]; ok {
		return e.Text
	}
	return ""
}

// Len returns the number of indexed notes.
func (ix *Index) Len() int {
	ix.mx.RLock()
	defer ix.mx.RUnlock()
	return len(ix.entries)
}

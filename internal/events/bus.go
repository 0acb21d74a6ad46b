// Package events delivers change notifications from the calendar core to
// UI surfaces and integrations.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tazhate/worldcal/internal/domain"
	appLog "github.com/tazhate/worldcal/internal/log"
)

// Kind names an event.
type Kind string

const (
	DateChanged     Kind = "dateChanged"
	CalendarChanged Kind = "calendarChanged"
	NoteCreated     Kind = "noteCreated"
	NoteUpdated     Kind = "noteUpdated"
	NoteDeleted     Kind = "noteDeleted"
	SettingsChanged Kind = "settingsChanged"
)

// Event carries the data relevant to its Kind; unrelated fields stay zero.
type Event struct {
	Kind       Kind                 `json:"kind"`
	At         time.Time            `json:"at"`
	Date       *domain.CalendarDate `json:"date,omitempty"`
	Previous   *domain.CalendarDate `json:"previous,omitempty"`
	WorldTime  int64                `json:"world_time,omitempty"`
	CalendarID string               `json:"calendar_id,omitempty"`
	Note       *domain.Note         `json:"note,omitempty"`
	NoteID     string               `json:"note_id,omitempty"`
	Setting    string               `json:"setting,omitempty"`
}

// Handler receives events. It runs on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	kinds   map[Kind]bool
	handler Handler
}

// Bus dispatches events synchronously in subscription order.
type Bus struct {
	mx   sync.RWMutex
	next int
	subs map[int]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers h for the given kinds, or for every kind when none
// are given. The returned function removes the subscription; calling it
// more than once is harmless.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) func() {
	s := subscription{handler: h}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mx.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mx.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mx.Lock()
			delete(b.subs, id)
			b.mx.Unlock()
		})
	}
}

// Publish delivers e to every matching subscriber. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mx.RLock()
	ids := make([]int, 0, len(b.subs))
	for id, s := range b.subs {
		if s.kinds == nil || s.kinds[e.Kind] {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id].handler
	}
	b.mx.RUnlock()

	for _, h := range handlers {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("event handler panicked", fmt.Errorf("%v", r), "kind", e.Kind)
		}
	}()
	h(e)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return len(b.subs)
}

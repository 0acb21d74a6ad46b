package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tazhate/worldcal/internal/domain"
)

var errStore = errors.New("store unavailable")

type memStore struct {
	mu      sync.Mutex
	notes   map[string]*domain.Note
	failing bool
	saves   int
}

func newMemStore() *memStore {
	return &memStore{notes: make(map[string]*domain.Note)}
}

func (m *memStore) SaveNote(_ context.Context, n *domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errStore
	}
	m.saves++
	m.notes[n.ID] = n.Clone()
	return nil
}

func (m *memStore) GetNote(_ context.Context, id string) (*domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notes[id].Clone(), nil
}

func (m *memStore) ListNotes(context.Context) ([]*domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Note, 0, len(m.notes))
	for _, n := range m.notes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteNote(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return false, errStore
	}
	_, ok := m.notes[id]
	delete(m.notes, id)
	return ok, nil
}

func (m *memStore) setFailing(v bool) {
	m.mu.Lock()
	m.failing = v
	m.mu.Unlock()
}

func (m *memStore) get(id string) *domain.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notes[id].Clone()
}

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (m *memSettings) Setting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type memMarker struct {
	mu   sync.Mutex
	sent map[string]bool
}

func (m *memMarker) MarkNotified(_ context.Context, noteID, dateKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[string]bool)
	}
	k := noteID + "|" + dateKey
	if m.sent[k] {
		return false, nil
	}
	m.sent[k] = true
	return true, nil
}

type memSink struct {
	mu   sync.Mutex
	sent []Notification
}

func (m *memSink) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("n%02d", next)
	}
}

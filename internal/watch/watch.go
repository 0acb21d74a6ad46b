// Package watch reloads calendar definitions when their files change.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tazhate/worldcal/internal/calendar"
	appLog "github.com/tazhate/worldcal/internal/log"
)

// DefaultDelay collects the burst of events an editor produces on save.
const DefaultDelay = 250 * time.Millisecond

// Replacer takes a fresh set of calendars.
type Replacer interface {
	ReplaceCalendars(list []*calendar.Engine) error
}

type Watcher struct {
	dir    string
	target Replacer
	delay  time.Duration
	ready  chan struct{}
}

type Option func(*Watcher)

func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

func New(dir string, target Replacer, opts ...Option) *Watcher {
	w := &Watcher{dir: dir, target: target, delay: DefaultDelay, ready: make(chan struct{})}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches the directory until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	close(w.ready)
	appLog.Info("watching calendar definitions", "dir", w.dir)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			appLog.Debug("calendar file changed", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			appLog.Error("calendar watcher", err, "dir", w.dir)

		case <-fire:
			fire = nil
			// A broken file keeps the previous calendars in place.
			_ = w.Reload()
		}
	}
}

// Reload reads the directory and hands the calendars to the target.
func (w *Watcher) Reload() error {
	engines, err := calendar.LoadAll(w.dir)
	if err != nil {
		appLog.Error("reload calendars", err, "dir", w.dir)
		return err
	}
	if err := w.target.ReplaceCalendars(engines); err != nil {
		appLog.Error("replace calendars", err)
		return err
	}
	return nil
}

func relevant(ev fsnotify.Event) bool {
	if !calendar.IsDefinitionFile(filepath.Base(ev.Name)) {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

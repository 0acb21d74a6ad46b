package service

import (
	"context"
	"strings"

	"github.com/tazhate/worldcal/internal/domain"
)

// Role is what an actor may do.
type Role string

const (
	RoleGM     Role = "gm"
	RolePlayer Role = "player"
)

// Actor is the caller of a service operation.
type Actor struct {
	Name string
	Role Role
}

// System is used for host jobs such as the scheduler.
var System = Actor{Name: "system", Role: RoleGM}

// IsGM reports whether the actor sees and may change everything.
func (a Actor) IsGM() bool { return a.Role == RoleGM }

type actorKey struct{}

// WithActor attaches the caller to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the caller attached to ctx, or System.
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return System
}

// Action names a guarded mutation.
type Action string

const (
	ActionCreateNote     Action = "note.create"
	ActionUpdateNote     Action = "note.update"
	ActionDeleteNote     Action = "note.delete"
	ActionSetModuleData  Action = "note.module_data"
	ActionChangeTime     Action = "time.change"
	ActionChangeCalendar Action = "calendar.change"
	ActionChangeSettings Action = "settings.change"
)

// PermissionChecker decides whether actor may perform action. note is nil
// for actions that do not concern a note.
type PermissionChecker interface {
	Allowed(ctx context.Context, actor Actor, action Action, note *domain.Note) bool
}

// SettingsProvider persists small key/value settings.
type SettingsProvider interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Notification is one message for the players.
type Notification struct {
	Title   string
	Body    string
	Date    domain.CalendarDate
	NoteIDs []string
}

// NotificationSink delivers notifications outside the process.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// NoteStore is the persistence collaborator for notes.
type NoteStore interface {
	SaveNote(ctx context.Context, n *domain.Note) error
	GetNote(ctx context.Context, id string) (*domain.Note, error)
	ListNotes(ctx context.Context) ([]*domain.Note, error)
	DeleteNote(ctx context.Context, id string) (bool, error)
}

// StaticPermissions lets GMs do everything. Players may only attach module
// data to notes they can see.
type StaticPermissions struct{}

func (StaticPermissions) Allowed(_ context.Context, actor Actor, action Action, note *domain.Note) bool {
	if actor.IsGM() {
		return true
	}
	return action == ActionSetModuleData && note != nil && note.PlayerVisible
}

// ActorResolver maps user names to actors using the configured player list.
type ActorResolver struct {
	players map[string]bool
}

func NewActorResolver(players []string) *ActorResolver {
	r := &ActorResolver{players: make(map[string]bool, len(players))}
	for _, p := range players {
		if p = strings.TrimSpace(p); p != "" {
			r.players[strings.ToLower(p)] = true
		}
	}
	return r
}

// Resolve returns a player actor for listed names and a GM otherwise.
func (r *ActorResolver) Resolve(name string) Actor {
	if r.players[strings.ToLower(name)] {
		return Actor{Name: name, Role: RolePlayer}
	}
	return Actor{Name: name, Role: RoleGM}
}

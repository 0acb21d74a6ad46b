package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tazhate/worldcal/config"
	"github.com/tazhate/worldcal/internal/api"
	"github.com/tazhate/worldcal/internal/bot"
	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/clients/caldav"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/events"
	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/notify"
	"github.com/tazhate/worldcal/internal/registry"
	"github.com/tazhate/worldcal/internal/scheduler"
	"github.com/tazhate/worldcal/internal/service"
	"github.com/tazhate/worldcal/internal/storage"
	"github.com/tazhate/worldcal/internal/watch"
)

func fatal(msg string, err error) {
	appLog.Error(msg, err)
	os.Exit(1)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if !cfg.APIEnabled() {
		fatal("load config", errors.New("API_USERNAME and API_PASSWORD are required"))
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		fatal("init storage", err)
	}
	defer store.Close()

	calendars, err := calendar.LoadAll(cfg.CalendarDir)
	if err != nil {
		fatal("load calendars", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.NewBus()
	surfaces := registry.New()
	detach := surfaces.Attach(bus)
	defer detach()

	notes := service.NewNotesService(store, calendars[0],
		service.WithPermissions(service.StaticPermissions{}),
		service.WithBus(bus),
		service.WithMaxExpansion(cfg.MaxExpansion),
		service.WithMaxSearchResults(cfg.MaxSearchResults),
	)
	clock, err := service.NewTimeService(store, calendars,
		service.WithTimePermissions(service.StaticPermissions{}),
		service.WithTimeBus(bus),
		service.WithCalendarListener(notes),
	)
	if err != nil {
		fatal("init time service", err)
	}
	if err := clock.Load(ctx, cfg.ActiveCalendar); err != nil {
		fatal("load world time", err)
	}
	if err := notes.Load(ctx); err != nil {
		fatal("load notes", err)
	}

	var sink service.NotificationSink = notify.Log{}
	if cfg.TelegramEnabled() {
		actors := service.NewActorResolver(cfg.PlayerUsernames)
		tg, err := bot.New(cfg.TelegramToken, cfg.TelegramChatID, actors, notes, clock, surfaces)
		if err != nil {
			fatal("init telegram", err)
		}
		sink = notify.NewTelegramWithSender(tg.API(), cfg.TelegramChatID)
		go func() {
			if err := tg.Start(ctx); err != nil {
				appLog.Error("telegram bot", err)
			}
		}()
	}
	digest := service.NewDigestService(notes, clock, sink, store)

	sched := scheduler.New(scheduler.Config{
		Location:   cfg.Timezone,
		ClockSpec:  cfg.ClockCron,
		ClockStep:  cfg.ClockStepSeconds,
		DigestSpec: cfg.DigestCron,
	}, clock, digest)
	go func() {
		if err := sched.Start(ctx); err != nil {
			appLog.Error("scheduler", err)
		}
	}()

	if cfg.CalendarDir != "" {
		w := watch.New(cfg.CalendarDir, clock)
		go func() {
			if err := w.Run(ctx); err != nil {
				appLog.Error("calendar watcher", err)
			}
		}()
	}

	if cfg.CalDAVEnabled() {
		startCalDAV(ctx, cfg, store, notes, bus)
	}

	creds := api.Credentials{Username: cfg.APIUsername, Password: cfg.APIPassword, Players: cfg.PlayerUsernames}
	server := api.New(creds, notes, clock, surfaces)

	appLog.Info("worldcal started", "calendar", clock.ActiveCalendar().ID, "date", clock.CurrentDate().Key())
	if err := server.ListenAndServe(ctx, ":"+strings.TrimPrefix(cfg.ServerPort, ":")); err != nil {
		appLog.Error("http server", err)
	}

	cancel()
	sched.Stop()
	appLog.Info("worldcal stopped")
}

func startCalDAV(ctx context.Context, cfg *config.Config, store *storage.Storage, notes *service.NotesService, bus *events.Bus) {
	client := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword)
	if !client.IsConfigured() {
		appLog.Warn("caldav credentials missing, publishing disabled")
		return
	}
	if err := client.UseCalendar(ctx, cfg.CalDAVCalendar); err != nil {
		appLog.Error("caldav calendar", err, "name", cfg.CalDAVCalendar)
		return
	}

	all := func(ctx context.Context) ([]*domain.Note, error) {
		return notes.ListNotes(service.WithActor(ctx, service.System))
	}
	pub := caldav.NewPublisher(client, store, notes, caldav.WithResync(all))
	pub.Attach(bus)
	go func() {
		if existing, err := all(ctx); err == nil {
			_ = pub.PublishAll(ctx, existing)
		}
		if err := pub.Run(ctx); err != nil {
			appLog.Error("caldav publisher", err)
		}
	}()
	appLog.Info("caldav publishing enabled", "calendar", client.CalendarPath())
}

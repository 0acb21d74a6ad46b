package config

import (
	"testing"

	"github.com/tazhate/worldcal/internal/recurrence"
	"github.com/tazhate/worldcal/internal/search"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_PATH", "SERVER_PORT", "MAX_EXPANSION", "MAX_SEARCH_RESULTS",
		"CLOCK_STEP_SECONDS", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "TIMEZONE", "PLAYER_USERNAMES", "CALDAV_CALENDAR"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabasePath != "./data/worldcal.db" || cfg.ServerPort != "8080" || cfg.ActiveCalendar == "" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MaxExpansion != recurrence.DefaultMaxIterations || cfg.MaxSearchResults != search.MaxLimit {
		t.Errorf("limits = %d, %d", cfg.MaxExpansion, cfg.MaxSearchResults)
	}
	if cfg.ClockStepSeconds != 60 || cfg.Timezone.String() != "UTC" || cfg.CalDAVCalendar != "worldcal" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TelegramEnabled() || cfg.PlayerUsernames != nil {
		t.Errorf("telegram = %v, players = %v", cfg.TelegramEnabled(), cfg.PlayerUsernames)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PLAYER_USERNAMES", " alice, ,bob ")
	t.Setenv("MAX_EXPANSION", "250")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-10042")
	t.Setenv("API_USERNAME", "dm")
	t.Setenv("API_PASSWORD", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.PlayerUsernames) != 2 || cfg.PlayerUsernames[0] != "alice" || cfg.PlayerUsernames[1] != "bob" {
		t.Errorf("players = %q", cfg.PlayerUsernames)
	}
	if cfg.MaxExpansion != 250 || cfg.TelegramChatID != -10042 || !cfg.TelegramEnabled() || !cfg.APIEnabled() {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"zero expansion", "MAX_EXPANSION", "0"},
		{"text results", "MAX_SEARCH_RESULTS", "many"},
		{"text step", "CLOCK_STEP_SECONDS", "minute"},
		{"text chat", "TELEGRAM_CHAT_ID", "group"},
		{"unknown zone", "TIMEZONE", "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%q accepted", tt.key, tt.value)
			}
		})
	}

	t.Run("token without chat", func(t *testing.T) {
		t.Setenv("TELEGRAM_BOT_TOKEN", "token")
		t.Setenv("TELEGRAM_CHAT_ID", "")
		if _, err := Load(); err == nil {
			t.Error("missing chat id accepted")
		}
	})
}

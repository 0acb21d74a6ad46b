package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/worldcal/internal/recurrence"
	"github.com/tazhate/worldcal/internal/search"
)

type Config struct {
	DatabasePath     string
	CalendarDir      string
	ActiveCalendar   string
	ServerPort       string
	APIUsername      string
	APIPassword      string
	PlayerUsernames  []string
	LogLevel         string
	MaxExpansion     int
	MaxSearchResults int
	Timezone         *time.Location

	// Real-time clock: every ClockCron tick advances world time by
	// ClockStepSeconds. Empty ClockCron disables it.
	ClockCron        string
	ClockStepSeconds int64
	DigestCron       string

	TelegramToken  string
	TelegramChatID int64

	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVCalendar string
}

func Load() (*Config, error) {
	maxExpansion, err := intEnv("MAX_EXPANSION", recurrence.DefaultMaxIterations)
	if err != nil {
		return nil, err
	}
	maxResults, err := intEnv("MAX_SEARCH_RESULTS", search.MaxLimit)
	if err != nil {
		return nil, err
	}

	step, err := strconv.ParseInt(getenv("CLOCK_STEP_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("CLOCK_STEP_SECONDS must be a number: %w", err)
	}

	var chatID int64
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if chatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID must be a number: %w", err)
		}
	}

	tz, err := time.LoadLocation(getenv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg := &Config{
		DatabasePath:     getenv("DATABASE_PATH", "./data/worldcal.db"),
		CalendarDir:      os.Getenv("CALENDAR_DIR"),
		ActiveCalendar:   getenv("ACTIVE_CALENDAR", "gregorian"),
		ServerPort:       getenv("SERVER_PORT", "8080"),
		APIUsername:      os.Getenv("API_USERNAME"),
		APIPassword:      os.Getenv("API_PASSWORD"),
		PlayerUsernames:  splitList(os.Getenv("PLAYER_USERNAMES")),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		MaxExpansion:     maxExpansion,
		MaxSearchResults: maxResults,
		Timezone:         tz,
		ClockCron:        os.Getenv("CLOCK_CRON"),
		ClockStepSeconds: step,
		DigestCron:       os.Getenv("DIGEST_CRON"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   chatID,
		CalDAVURL:        os.Getenv("CALDAV_URL"),
		CalDAVUsername:   os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword:   os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendar:   getenv("CALDAV_CALENDAR", "worldcal"),
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return cfg, nil
}

// APIEnabled reports whether HTTP credentials are configured.
func (c *Config) APIEnabled() bool {
	return c.APIUsername != "" && c.APIPassword != ""
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVURL != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive number", key)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

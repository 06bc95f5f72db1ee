package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramToken string
	AuthPassword  string

	// ModeratorsChatID receives join requests and expiry notices; 0 disables them.
	ModeratorsChatID int64

	UsersFile    string
	ProjectsFile string
	MediaDir     string

	LeaderboardSize     int
	ExpiryCheckInterval time.Duration

	SpreadsheetID            string
	GoogleServiceAccountJSON string

	HTTPAddr      string
	BasePublicURL string
	ExportSecret  string

	LogLevel string
}

func FromEnv() (Config, error) {
	var c Config
	c.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	c.AuthPassword = strings.TrimSpace(os.Getenv("SCHOOL_AUTH_PASSWORD"))

	c.UsersFile = envOr("USERS_FILE", "data/users.json")
	c.ProjectsFile = envOr("PROJECTS_FILE", "data/projects.json")
	c.MediaDir = envOr("MEDIA_DIR", "media")

	c.SpreadsheetID = strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_SPREADSHEET_ID"))
	c.GoogleServiceAccountJSON = strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))

	c.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	c.BasePublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_PUBLIC_URL")), "/")
	c.ExportSecret = strings.TrimSpace(os.Getenv("EXPORT_SECRET"))
	c.LogLevel = strings.ToLower(envOr("LOG_LEVEL", "info"))

	if c.TelegramToken == "" {
		return c, fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	if c.AuthPassword == "" {
		return c, fmt.Errorf("SCHOOL_AUTH_PASSWORD is empty")
	}
	if c.SpreadsheetID != "" && c.GoogleServiceAccountJSON == "" {
		return c, fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is empty")
	}

	if raw := strings.TrimSpace(os.Getenv("MODERATORS_CHAT_ID")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c, fmt.Errorf("MODERATORS_CHAT_ID: %w", err)
		}
		c.ModeratorsChatID = v
	}

	c.LeaderboardSize = 10
	if raw := strings.TrimSpace(os.Getenv("LEADERBOARD_SIZE")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return c, fmt.Errorf("LEADERBOARD_SIZE must be a positive number, got %q", raw)
		}
		c.LeaderboardSize = v
	}

	c.ExpiryCheckInterval = time.Hour
	if raw := strings.TrimSpace(os.Getenv("EXPIRY_CHECK_INTERVAL")); raw != "" {
		v, err := time.ParseDuration(raw)
		if err != nil || v <= 0 {
			return c, fmt.Errorf("EXPIRY_CHECK_INTERVAL must be a positive duration, got %q", raw)
		}
		c.ExpiryCheckInterval = v
	}

	return c, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

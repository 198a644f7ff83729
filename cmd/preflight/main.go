// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hamed0406/slotwatch/internal/config"
	"github.com/hamed0406/slotwatch/internal/settings"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	cfg := config.FromEnv()

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (control routes would be open).")
	}
	if pub == "" {
		warn("PUBLIC_API_KEYS is empty; read routes accept admin keys only.")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if os.Getenv("API_ADDR") == "" {
		warn("API_ADDR is empty; defaulting to " + cfg.Addr)
	} else {
		ok("API_ADDR=" + cfg.Addr)
	}

	if cfg.DatabasePath == "" {
		warn("DATABASE_PATH empty; the event log is kept in memory only.")
	} else if _, err := os.Stat(filepath.Dir(cfg.DatabasePath)); err != nil {
		fail("DATABASE_PATH directory missing: " + filepath.Dir(cfg.DatabasePath))
	} else {
		ok("DATABASE_PATH=" + cfg.DatabasePath)
	}

	if _, err := os.Stat(cfg.SettingsPath); err != nil {
		warn("SETTINGS_PATH " + cfg.SettingsPath + " does not exist yet; it will be created with defaults.")
	} else if s, err := settings.Open(cfg.SettingsPath, settings.Settings{}); err != nil {
		fail("settings invalid: " + err.Error())
	} else {
		if s.WebsiteURL() == "" {
			warn("website_url is empty; checks will fail until it is set.")
		}
		if s.SelectedLocation().Value == "" {
			warn("selected_location is empty.")
		}
		ok(fmt.Sprintf("settings ok (%d watched dates)", len(s.MonitoredDates())))
	}

	if cfg.ChromePath != "" {
		if _, err := os.Stat(cfg.ChromePath); err != nil {
			fail("CHROME_PATH not found: " + cfg.ChromePath)
		}
		ok("CHROME_PATH=" + cfg.ChromePath)
	} else if p := findChrome(); p != "" {
		ok("chrome found at " + p)
	} else {
		warn("no Chrome/Chromium on PATH; set CHROME_PATH.")
	}

	var channels []string
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, "slack")
	}
	if cfg.TelegramToken != "" {
		if cfg.TelegramChatID == 0 {
			fail("TELEGRAM_BOT_TOKEN set but TELEGRAM_CHAT_ID missing or invalid.")
		}
		channels = append(channels, "telegram")
	}
	if cfg.SMTPAddr != "" {
		if cfg.SMTPFrom == "" || len(cfg.SMTPTo) == 0 {
			fail("SMTP_ADDR set but SMTP_FROM or SMTP_TO missing.")
		}
		channels = append(channels, "email")
	}
	if len(channels) == 0 {
		warn("no notification channels configured.")
	} else {
		ok("notify: " + strings.Join(channels, ","))
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; CORS allows any origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	ok("preflight passed")
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

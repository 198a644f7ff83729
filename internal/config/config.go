package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr         string // API bind address, e.g., "127.0.0.1:8080" or ":8080" (Docker)
	LogDir       string
	LogLevel     string
	LogConsole   bool
	SettingsPath string // YAML monitoring settings
	DatabasePath string // SQLite file; empty means in-memory stores

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
	AllowedOrigins []string

	ChromePath  string
	Headless    bool
	StepTimeout time.Duration // per page interaction
	SettleDelay time.Duration // pause after a UI action
	HistorySize int
	CheckCron   string // optional cron spec driving CheckNow

	NotifyTimeout     time.Duration
	NotifyRPS         int
	NotifyUnavailable bool
	NotifyErrors      bool
	SlackWebhookURL   string
	TelegramToken     string
	TelegramChatID    int64
	SMTPAddr          string
	SMTPUser          string
	SMTPPassword      string
	SMTPFrom          string
	SMTPTo            []string

	// AutoStart arms the monitor at boot when the total is > 0.
	AutoStartMinutes int
	AutoStartSeconds int
}

func FromEnv() Config {
	// Bind address (Windows-friendly default)
	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	return Config{
		Addr:         addr,
		LogDir:       str("LOG_DIR", "logs"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		LogConsole:   boolean("LOG_CONSOLE", false),
		SettingsPath: str("SETTINGS_PATH", "data/settings.yaml"),
		DatabasePath: os.Getenv("DATABASE_PATH"),

		PublicAPIKeys:  list("PUBLIC_API_KEYS"),
		AdminAPIKeys:   list("ADMIN_API_KEYS"),
		PublicRPM:      num("PUBLIC_RPM", 120, 0),
		PublicBurst:    num("PUBLIC_BURST", 60, 1),
		AdminRPM:       num("ADMIN_RPM", 30, 0),
		AdminBurst:     num("ADMIN_BURST", 10, 1),
		AllowedOrigins: list("ALLOWED_ORIGINS"),

		ChromePath:  os.Getenv("CHROME_PATH"),
		Headless:    boolean("HEADLESS", true),
		StepTimeout: millis("STEP_TIMEOUT_MS", 30*time.Second, 1),
		SettleDelay: millis("SETTLE_DELAY_MS", time.Second, 0),
		HistorySize: num("HISTORY_SIZE", 50, 1),
		CheckCron:   strings.TrimSpace(os.Getenv("CHECK_CRON")),

		NotifyTimeout:     millis("NOTIFY_TIMEOUT_MS", 10*time.Second, 1),
		NotifyRPS:         num("NOTIFY_RPS", 1, 1),
		NotifyUnavailable: boolean("NOTIFY_UNAVAILABLE", false),
		NotifyErrors:      boolean("NOTIFY_ERRORS", true),
		SlackWebhookURL:   os.Getenv("SLACK_WEBHOOK_URL"),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    chatID("TELEGRAM_CHAT_ID"),
		SMTPAddr:          os.Getenv("SMTP_ADDR"),
		SMTPUser:          os.Getenv("SMTP_USER"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:          os.Getenv("SMTP_FROM"),
		SMTPTo:            list("SMTP_TO"),

		AutoStartMinutes: num("AUTO_START_MINUTES", 0, 0),
		AutoStartSeconds: num("AUTO_START_SECONDS", 0, 0),
	}
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// num returns def when the variable is missing, malformed or below floor.
func num(key string, def, floor int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= floor {
			return n
		}
	}
	return def
}

func millis(key string, def time.Duration, floor int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms >= floor {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

// chatID accepts negative ids (group chats).
func chatID(key string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func boolean(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

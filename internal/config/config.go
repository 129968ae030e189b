package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port      int
	Env       string
	Version   string
	LogLevel  string
	LogFormat string

	// CORS
	CORSAllowedOrigins []string

	// APIToken, when set, must accompany every terminal request.
	APIToken string

	// Terminal bridge
	TerminalPath      string
	AuthTimeout       time.Duration
	PingInterval      time.Duration
	IdleTimeout       time.Duration
	SSHKnownHosts     string
	RequireSSHHostKey bool
	LocalShell        string
}

// Client holds the settings of the rlink CLI.
type Client struct {
	LogLevel  string
	LogFormat string

	APIURL           string
	APIToken         string
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
	DBPath           string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8000),
		Env:                getEnv("ENV", "development"),
		Version:            getEnv("VERSION", "0.1.0"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		APIToken:           getEnv("RLINK_API_TOKEN", ""),
		TerminalPath:       getEnv("RLINK_TERMINAL_PATH", "/api/ssh/connect"),
		AuthTimeout:        getEnvAsDuration("RLINK_AUTH_TIMEOUT", 15*time.Second),
		PingInterval:       getEnvAsDuration("RLINK_PING_INTERVAL", 25*time.Second),
		IdleTimeout:        getEnvAsDuration("RLINK_IDLE_TIMEOUT", 30*time.Minute),
		SSHKnownHosts:      getEnv("RLINK_SSH_KNOWN_HOSTS", ""),
		RequireSSHHostKey:  getEnvAsBool("RLINK_REQUIRE_SSH_HOST_KEY", false),
		LocalShell:         getEnv("RLINK_LOCAL_SHELL", ""),
	}

	if !strings.HasPrefix(cfg.TerminalPath, "/") {
		cfg.TerminalPath = "/" + cfg.TerminalPath
	}

	return cfg, nil
}

// LoadClient reads the CLI settings. Flags applied later take precedence.
func LoadClient() (*Client, error) {
	_ = godotenv.Load()

	dbPath := getEnv("RLINK_DB", "")
	if dbPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, "rlink", "profiles.db")
	}

	return &Client{
		LogLevel:         getEnv("LOG_LEVEL", "warn"),
		LogFormat:        getEnv("LOG_FORMAT", "pretty"),
		APIURL:           getEnv("RLINK_API_URL", "ws://127.0.0.1:8000/api/ssh/connect"),
		APIToken:         getEnv("RLINK_API_TOKEN", ""),
		HandshakeTimeout: getEnvAsDuration("RLINK_HANDSHAKE_TIMEOUT", 15*time.Second),
		ReconnectDelay:   getEnvAsDuration("RLINK_RECONNECT_DELAY", 500*time.Millisecond),
		DBPath:           dbPath,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("25s") or bare seconds ("25").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(getEnv(key, ""))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const appDirName = "deskchat"

// Config represents the application configuration
type Config struct {
	OpenAI  OpenAIConfig  `json:"openai"`
	UI      UIConfig      `json:"ui"`
	Data    DataConfig    `json:"data"`
	Log     LogConfig     `json:"log"`
	Metrics MetricsConfig `json:"metrics"`
}

// OpenAIConfig holds request tuning for the completion API. The API key and
// model live in the database settings, not here.
type OpenAIConfig struct {
	BaseURL     string  `json:"base_url"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Timeout     int     `json:"timeout_seconds,omitempty"`
}

// UIConfig represents UI configuration
type UIConfig struct {
	Theme        string `json:"theme"` // "light" or "dark"
	FontSize     int    `json:"font_size"`
	WindowWidth  int    `json:"window_width"`
	WindowHeight int    `json:"window_height"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DBPath string `json:"db_path"`
}

// LogConfig controls the log file
type LogConfig struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// MetricsConfig controls the optional Prometheus listener
type MetricsConfig struct {
	Addr string `json:"addr"` // empty disables the listener
}

// DefaultConfig returns the configuration written on first start
func DefaultConfig() *Config {
	base := filepath.Join(".", "data")
	if dir, err := os.UserConfigDir(); err == nil {
		base = filepath.Join(dir, appDirName)
	}
	return &Config{
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     120,
		},
		UI: UIConfig{
			Theme:        "light",
			FontSize:     14,
			WindowWidth:  1200,
			WindowHeight: 800,
		},
		Data: DataConfig{DBPath: filepath.Join(base, "chat.db")},
		Log:  LogConfig{Level: "info", Dir: filepath.Join(base, "logs")},
	}
}

// LoadConfig loads configuration from file and applies environment overrides
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	// Expand paths
	config.Data.DBPath = expandPath(config.Data.DBPath)
	config.Log.Dir = expandPath(config.Log.Dir)

	return config, nil
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DESKCHAT_DB_PATH"); v != "" {
		c.Data.DBPath = v
	}
	if v := os.Getenv("DESKCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DESKCHAT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid OPENAI_TIMEOUT_SECONDS %q", v)
		}
		c.OpenAI.Timeout = n
	}
	return nil
}

// EnvAPIKey returns the API key from the environment, if any
func EnvAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	// Expand ~
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	// Make absolute
	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	// Try to get user config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to current directory
		return "./config/default.json"
	}

	return filepath.Join(configDir, appDirName, "config.json")
}

// EnsureDefaultConfig creates a default config file at configPath if it
// doesn't exist. An empty configPath means GetConfigPath.
func EnsureDefaultConfig(configPath string) (string, error) {
	if configPath == "" {
		configPath = GetConfigPath()
	}

	// Check if config exists
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", err
	}

	return configPath, nil
}

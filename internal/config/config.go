package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lherron/channelport/internal/bulk"
)

// Config represents the application configuration
type Config struct {
	DBURL      string `yaml:"db_url"`
	ContentDir string `yaml:"content_dir"`
	BatchSize  int    `yaml:"batch_size"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/channelport/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		BatchSize: bulk.DefaultBatchSize,
		LogLevel:  "info",
		LogFormat: "console",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// The YAML file is optional
	_ = loadYAMLConfig(cfg)

	if dbURL := getEnvOrFile("CHANNELPORT_DB_URL", "CHANNELPORT_DB_URL_FILE"); dbURL != "" {
		cfg.DBURL = dbURL
	}
	if contentDir := os.Getenv("CHANNELPORT_CONTENT_DIR"); contentDir != "" {
		cfg.ContentDir = contentDir
	}
	if batch := os.Getenv("CHANNELPORT_BATCH_SIZE"); batch != "" {
		n, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid CHANNELPORT_BATCH_SIZE %q: %w", batch, err)
		}
		cfg.BatchSize = n
	}
	if logLevel := os.Getenv("CHANNELPORT_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("CHANNELPORT_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}

	if cfg.ContentDir == "" {
		dataDir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.ContentDir = filepath.Join(dataDir, "content")
	}
	if cfg.DBURL == "" {
		dataDir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DBURL = filepath.Join(dataDir, "content.db")
	}

	return cfg, nil
}

// Validate reports settings that would make an import fail later.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.DBURL == "" {
		return fmt.Errorf("db_url is not set")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want console or json)", c.LogFormat)
	}
	return nil
}

func defaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "channelport"), nil
}

// loadYAMLConfig loads configuration from ~/.config/channelport/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "channelport", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		if dir == homeDir {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Sqlite3Bin overrides the external sqlite3 executable used for
	// recovery. Empty means: bundled copy next to our binary, then PATH.
	Sqlite3Bin string `yaml:"sqlite3_bin"`
	TempDir    string `yaml:"temp_dir"`
	LogPath    string `yaml:"log_path"`
	LogLevel   string `yaml:"log_level"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/plexdb/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// Load ~/.config/plexdb/config.yaml if it exists
	if err := loadYAMLConfig(cfg); err != nil {
		// YAML config is optional, so we don't fail if it doesn't exist
	}

	// Override with environment variables
	if bin := os.Getenv("PLEXDB_SQLITE3_BIN"); bin != "" {
		cfg.Sqlite3Bin = bin
	}
	if tempDir := os.Getenv("PLEXDB_TEMP_DIR"); tempDir != "" {
		cfg.TempDir = tempDir
	}
	if logPath := os.Getenv("PLEXDB_LOG_PATH"); logPath != "" {
		cfg.LogPath = logPath
	}
	if logLevel := os.Getenv("PLEXDB_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Set defaults if not configured
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.LogPath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.LogPath = filepath.Join(homeDir, ".local", "state", "plexdb", "plexdb.log")
		}
	}

	return cfg, nil
}

// loadYAMLConfig loads configuration from ~/.config/plexdb/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "plexdb", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// findEnvLocal looks for .env.local in the current directory and walks up
// parent directories until it finds one or reaches the root
func findEnvLocal() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

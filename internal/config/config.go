package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Source    SourceConfig    `mapstructure:"source" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	Schema   string `mapstructure:"schema"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns" validate:"min=0"`
	MinConns int32  `mapstructure:"min_conns" validate:"min=0"`
}

// SourceConfig holds settings for the Notion API
type SourceConfig struct {
	BaseURL    string            `mapstructure:"base_url" validate:"omitempty,url"`
	APIVersion string            `mapstructure:"api_version"`
	Token      string            `mapstructure:"token"`
	Tokens     map[string]string `mapstructure:"tokens"` // tenant id -> integration token
	UserAgent  string            `mapstructure:"user_agent"`
	MaxRetries int               `mapstructure:"max_retries" validate:"min=0,max=10"`
	TimeoutSec int               `mapstructure:"timeout_sec" validate:"min=0"`
}

// StorageConfig holds durable object storage settings
type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"required,oneof=minio s3"`
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket" validate:"required"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PathStyle     bool   `mapstructure:"path_style"`
	PublicBaseURL string `mapstructure:"public_base_url" validate:"omitempty,url"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	MaxPages        int `mapstructure:"max_pages" validate:"min=1"`
	PageSize        int `mapstructure:"page_size" validate:"min=1,max=100"`
	BatchSize       int `mapstructure:"batch_size" validate:"min=1"`
	MaxConcurrency  int `mapstructure:"max_concurrency" validate:"min=1"`
	AssetTimeoutSec int `mapstructure:"asset_timeout_sec" validate:"min=1"`
	MaxAssetSizeMB  int `mapstructure:"max_asset_size_mb" validate:"min=1"`
}

// ServerConfig holds settings for the inbound HTTP surface
type ServerConfig struct {
	Listen            string   `mapstructure:"listen"`
	WebhookSecret     string   `mapstructure:"webhook_secret"`
	JWTSecret         string   `mapstructure:"jwt_secret"`
	JWTAudience       string   `mapstructure:"jwt_audience"`
	NarrowUpdateTypes []string `mapstructure:"narrow_update_types"`
	ReadTimeoutSec    int      `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec   int      `mapstructure:"write_timeout_sec"`
}

// DiscoveryConfig points at an optional rule file overriding the built-in rules
type DiscoveryConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode,
	)
	if d.Schema != "" {
		connStr += "&search_path=" + d.Schema + ",public"
	}
	return connStr
}

// TokenFor returns the integration token configured for a tenant
func (s *SourceConfig) TokenFor(tenantID string) string {
	if token, ok := s.Tokens[tenantID]; ok && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(s.Token)
}

// Timeout returns the per-request timeout for the source API
func (s *SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// AssetTimeout returns the timeout for a single asset download
func (s *SyncConfig) AssetTimeout() time.Duration {
	return time.Duration(s.AssetTimeoutSec) * time.Second
}

// MaxAssetBytes returns the largest asset the mirror will accept
func (s *SyncConfig) MaxAssetBytes() int64 {
	return int64(s.MaxAssetSizeMB) * 1024 * 1024
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:     5432,
			SSLMode:  "require",
			Schema:   "notionsync",
			MaxConns: 10,
			MinConns: 2,
		},
		Source: SourceConfig{
			BaseURL:    "https://api.notion.com",
			APIVersion: "2022-06-28",
			UserAgent:  "notionsync-pg/1.0",
			MaxRetries: 3,
			TimeoutSec: 30,
		},
		Storage: StorageConfig{
			Driver: "minio",
			Region: "us-east-1",
			UseSSL: true,
		},
		Sync: SyncConfig{
			MaxPages:        1000,
			PageSize:        100,
			BatchSize:       100,
			MaxConcurrency:  20,
			AssetTimeoutSec: 20,
			MaxAssetSizeMB:  25,
		},
		Server: ServerConfig{
			Listen:          ":8080",
			JWTAudience:     "notionsync",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 120,
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("database.schema", defaults.Database.Schema)
	v.SetDefault("database.max_conns", defaults.Database.MaxConns)
	v.SetDefault("database.min_conns", defaults.Database.MinConns)
	v.SetDefault("source.base_url", defaults.Source.BaseURL)
	v.SetDefault("source.api_version", defaults.Source.APIVersion)
	v.SetDefault("source.user_agent", defaults.Source.UserAgent)
	v.SetDefault("source.max_retries", defaults.Source.MaxRetries)
	v.SetDefault("source.timeout_sec", defaults.Source.TimeoutSec)
	v.SetDefault("storage.driver", defaults.Storage.Driver)
	v.SetDefault("storage.region", defaults.Storage.Region)
	v.SetDefault("storage.use_ssl", defaults.Storage.UseSSL)
	v.SetDefault("sync.max_pages", defaults.Sync.MaxPages)
	v.SetDefault("sync.page_size", defaults.Sync.PageSize)
	v.SetDefault("sync.batch_size", defaults.Sync.BatchSize)
	v.SetDefault("sync.max_concurrency", defaults.Sync.MaxConcurrency)
	v.SetDefault("sync.asset_timeout_sec", defaults.Sync.AssetTimeoutSec)
	v.SetDefault("sync.max_asset_size_mb", defaults.Sync.MaxAssetSizeMB)
	v.SetDefault("server.listen", defaults.Server.Listen)
	v.SetDefault("server.jwt_audience", defaults.Server.JWTAudience)
	v.SetDefault("server.read_timeout_sec", defaults.Server.ReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", defaults.Server.WriteTimeoutSec)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("NOTIONSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secrets may reference environment variables
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Source.Token = os.ExpandEnv(cfg.Source.Token)
	for tenant, token := range cfg.Source.Tokens {
		cfg.Source.Tokens[tenant] = os.ExpandEnv(token)
	}
	cfg.Storage.AccessKey = os.ExpandEnv(cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = os.ExpandEnv(cfg.Storage.SecretKey)
	cfg.Server.WebhookSecret = os.ExpandEnv(cfg.Server.WebhookSecret)
	cfg.Server.JWTSecret = os.ExpandEnv(cfg.Server.JWTSecret)
	cfg.Discovery.RulesFile = expandPath(cfg.Discovery.RulesFile)

	cfg.Database.Schema = SanitizeIdentifier(cfg.Database.Schema)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints and cross-field requirements
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Storage.Driver == "minio" && cfg.Storage.Endpoint == "" {
		return fmt.Errorf("config validation failed: storage.endpoint is required for the minio driver")
	}
	return nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "notionsync-pg")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "notionsync-pg")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "notionsync-pg")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "notionsync-pg")
	}
}

// GetConfigDir returns the config directory, creating it if needed
func GetConfigDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

var (
	invalidIdentChars   = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// SanitizeIdentifier converts a name into a valid PostgreSQL identifier.
// Lowercase letters, digits and underscores only, never starting with a digit,
// at most 63 characters.
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	name = invalidIdentChars.ReplaceAllString(name, "")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if len(name) == 0 {
		name = "notionsync"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "ns_" + name
	}

	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "_")
	}

	return name
}

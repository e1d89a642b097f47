// Package config loads and validates sync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every configuration override variable,
// e.g. BGMSYNC_HTTP_TIMEOUT_SECONDS=60.
const EnvPrefix = "BGMSYNC"

// wellKnownEnv maps config keys to the unprefixed variables earlier releases
// read from the environment and the .env file.
var wellKnownEnv = map[string]string{
	"bangumi.token":         "BGM_TOKEN",
	"notion.token":          "NOTION_TOKEN",
	"notion.parent_page_id": "NOTION_PAGE_ID",
	"notion.database_id":    "NOTION_DATABASE_ID",
}

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	// Dotenv is the .env file read at startup. A missing file is ignored.
	Dotenv  string        `mapstructure:"dotenv"`
	Bangumi BangumiConfig `mapstructure:"bangumi"`
	Notion  NotionConfig  `mapstructure:"notion"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Report  ReportConfig  `mapstructure:"report"`
}

// BangumiConfig controls the collection fetcher.
type BangumiConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	SiteURL           string  `mapstructure:"site_url"`
	Token             string  `mapstructure:"token"`
	UserAgent         string  `mapstructure:"user_agent"`
	PageSize          int     `mapstructure:"page_size"`
	SubjectType       int     `mapstructure:"subject_type"`
	CollectionType    int     `mapstructure:"collection_type"`
	AllowPartial      bool    `mapstructure:"allow_partial"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// NotionConfig controls the destination table.
type NotionConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Token             string  `mapstructure:"token"`
	Version           string  `mapstructure:"version"`
	ParentPageID      string  `mapstructure:"parent_page_id"`
	DatabaseID        string  `mapstructure:"database_id"`
	Title             string  `mapstructure:"title"`
	QueryPageSize     int     `mapstructure:"query_page_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// WriteEnv stores the id of a newly created table in the Dotenv file.
	WriteEnv bool `mapstructure:"write_env"`
}

// CacheConfig locates the local snapshot cache.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// HTTPConfig configures outbound HTTP clients.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features and the optional log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// MetricsConfig configures the Pushgateway push at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ReportConfig configures where run reports go besides the log.
type ReportConfig struct {
	SinkTimeoutSeconds int            `mapstructure:"sink_timeout_seconds"`
	Postgres           PostgresConfig `mapstructure:"postgres"`
	PubSub             PubSubConfig   `mapstructure:"pubsub"`
}

// PostgresConfig enables the run history table when DSN is set.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PubSubConfig enables report publishing when both ids are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Load builds a Config from defaults, an optional file, the .env file and
// the environment. Real environment variables win over .env entries.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, name := range wellKnownEnv {
		if err := v.BindEnv(key, envName(key), name); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := mergeDotenv(v, v.GetString("dotenv")); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dotenv", ".env")
	v.SetDefault("bangumi.base_url", "https://api.bgm.tv")
	v.SetDefault("bangumi.site_url", "https://bgm.tv")
	v.SetDefault("bangumi.user_agent", "BGMToNotion/0.1")
	v.SetDefault("bangumi.page_size", 50)
	v.SetDefault("bangumi.subject_type", 0)
	v.SetDefault("bangumi.collection_type", 0)
	v.SetDefault("bangumi.allow_partial", false)
	v.SetDefault("bangumi.requests_per_second", 4)
	v.SetDefault("notion.base_url", "https://api.notion.com")
	v.SetDefault("notion.version", "2022-06-28")
	v.SetDefault("notion.title", "Bangumi 收藏")
	v.SetDefault("notion.query_page_size", 100)
	v.SetDefault("notion.requests_per_second", 3)
	v.SetDefault("notion.write_env", true)
	v.SetDefault("cache.dir", ".cache")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("metrics.job", "bgm_notion_sync")
	v.SetDefault("report.sink_timeout_seconds", 10)
	v.SetDefault("report.postgres.table", "sync_runs")
	v.SetDefault("report.postgres.max_conns", 2)
	v.SetDefault("report.postgres.migrate", true)
}

// mergeDotenv reads a .env file with a second Viper instance and applies its
// entries for keys the process environment leaves unset. Both the well-known
// names and BGMSYNC_* names are recognized.
func mergeDotenv(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat dotenv: %w", err)
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("read dotenv: %w", err)
	}

	apply := func(key, name string) {
		if _, ok := os.LookupEnv(name); ok {
			return
		}
		entry := strings.ToLower(name)
		if dv.IsSet(entry) {
			v.Set(key, dv.Get(entry))
		}
	}
	for _, key := range v.AllKeys() {
		apply(key, envName(key))
	}
	for key, name := range wellKnownEnv {
		if _, ok := os.LookupEnv(envName(key)); ok {
			continue
		}
		apply(key, name)
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate enforces reasonable limits. Credentials are checked separately by
// RequireCredentials so read-only commands can run without them.
func (c Config) Validate() error {
	if c.Bangumi.PageSize <= 0 || c.Bangumi.PageSize > 100 {
		return fmt.Errorf("bangumi.page_size must be between 1 and 100")
	}
	if c.Bangumi.RequestsPerSecond < 0 || c.Notion.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if c.Notion.QueryPageSize <= 0 || c.Notion.QueryPageSize > 100 {
		return fmt.Errorf("notion.query_page_size must be between 1 and 100")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "local":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir must be set for the local storage provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs storage provider")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be local, gcs or memory, got %q", c.Storage.Provider)
	}
	if (c.Report.PubSub.ProjectID == "") != (c.Report.PubSub.TopicID == "") {
		return fmt.Errorf("report.pubsub.project_id and report.pubsub.topic_id must be set together")
	}
	if c.Report.SinkTimeoutSeconds <= 0 {
		return fmt.Errorf("report.sink_timeout_seconds must be > 0")
	}
	return nil
}

// RequireCredentials reports missing API tokens.
func (c Config) RequireCredentials() error {
	if strings.TrimSpace(c.Bangumi.Token) == "" {
		return fmt.Errorf("bangumi.token must be set (BGM_TOKEN)")
	}
	if strings.TrimSpace(c.Notion.Token) == "" {
		return fmt.Errorf("notion.token must be set (NOTION_TOKEN)")
	}
	return nil
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SinkTimeout converts the report sink timeout into a duration.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Report.SinkTimeoutSeconds) * time.Second
}

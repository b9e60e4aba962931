// Package config provides configuration loading and management for GoSQLSync
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// HostConfig defines a MySQL source server that exports can be run against
type HostConfig struct {
	Name             string   `yaml:"name"`
	Host             string   `yaml:"host"`
	Port             string   `yaml:"port"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	IncludeDatabases []string `yaml:"includeDatabases"`
	ConnectTimeout   string   `yaml:"connectTimeout"`
	ReadTimeout      string   `yaml:"readTimeout"`
}

// S3Config defines object storage settings
type S3Config struct {
	Backend            string `yaml:"backend"` // s3 or minio
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	AccessKey          string `yaml:"accessKey"`
	SecretKey          string `yaml:"secretKey"`
	Prefix             string `yaml:"prefix"`
	PathStyle          bool   `yaml:"pathStyle"`
	UseSSL             bool   `yaml:"useSSL"`
	CustomCAPath       string `yaml:"customCAPath"`
	SkipCertValidation bool   `yaml:"skipCertValidation"`
	ContentType        string `yaml:"contentType"`
}

// LocalConfig defines where durable local artifacts live
type LocalConfig struct {
	WorkDirectory string `yaml:"workDirectory"`
	Retention     string `yaml:"retention"` // empty keeps exported files forever
}

// SnapshotConfig defines the daily single-table snapshot export
type SnapshotConfig struct {
	Database            string `yaml:"database"`
	Table               string `yaml:"table"`
	DateColumn          string `yaml:"dateColumn"`
	DateOverride        string `yaml:"dateOverride"` // YYYY-MM-DD, replaces "today"
	OnlyIfUpdatedWithin string `yaml:"onlyIfUpdatedWithin"`
}

// ExportConfig defines table export behaviour
type ExportConfig struct {
	BatchSize     int            `yaml:"batchSize"`
	ExcludeTables []string       `yaml:"excludeTables"`
	SkipEmpty     bool           `yaml:"skipEmpty"`
	Snapshot      SnapshotConfig `yaml:"snapshot"`
}

// RetryConfig bounds the reconnect-and-retry loop for transient source failures
type RetryConfig struct {
	MaxAttempts     int    `yaml:"maxAttempts"`
	InitialInterval string `yaml:"initialInterval"`
	MaxInterval     string `yaml:"maxInterval"`
}

// ImportConfig defines how exported objects are pulled back down
type ImportConfig struct {
	Directory           string `yaml:"directory"`
	DeleteAfterDownload bool   `yaml:"deleteAfterDownload"`
}

// MetadataDBConfig defines MySQL connection settings for the cursor metadata database
type MetadataDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime string `yaml:"connMaxLifetime"`
	AutoMigrate     bool   `yaml:"autoMigrate"`
}

// MetricsConfig defines metrics server settings
type MetricsConfig struct {
	Port string `yaml:"port"`
}

// ScheduleConfig defines cron expressions for unattended runs
type ScheduleConfig struct {
	Snapshot string `yaml:"snapshot"`
	Export   string `yaml:"export"`
}

// AppConfig contains the complete application configuration
type AppConfig struct {
	Hosts       []HostConfig     `yaml:"hosts"`
	DefaultHost string           `yaml:"defaultHost"`
	S3          S3Config         `yaml:"s3"`
	Local       LocalConfig      `yaml:"local"`
	Export      ExportConfig     `yaml:"export"`
	Retry       RetryConfig      `yaml:"retry"`
	Import      ImportConfig     `yaml:"import"`
	MetadataDB  MetadataDBConfig `yaml:"metadata_database"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Schedules   ScheduleConfig   `yaml:"schedules"`
	Debug       bool             `yaml:"debug"`
	ConfigFile  string           `yaml:"-"`
}

// DefaultExcludeTables are operational tables that never carry billing data
var DefaultExcludeTables = []string{
	"schema_migrations",
	"flyway_schema_history",
	"goose_db_version",
	"ExportLock",
	"JobQueue",
}

// Load reads the optional YAML file at path and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	loadFromEnvironment(cfg)
	setDefaults(cfg)
	return cfg, nil
}

// loadFromEnvironment overrides configuration from environment variables
func loadFromEnvironment(cfg *AppConfig) {
	cfg.Debug = parseEnvBool("DEBUG", cfg.Debug)

	// Source host given entirely through the environment
	if host := getEnvOrDefault("MYSQL_HOST", ""); host != "" {
		cfg.Hosts = append(cfg.Hosts, HostConfig{
			Name:             getEnvOrDefault("MYSQL_HOST_NAME", "env"),
			Host:             host,
			Port:             getEnvOrDefault("MYSQL_PORT", "3306"),
			Username:         getEnvOrDefault("MYSQL_USERNAME", ""),
			Password:         getEnvOrDefault("MYSQL_PASSWORD", ""),
			IncludeDatabases: splitList(getEnvOrDefault("MYSQL_DATABASES", "")),
		})
	}
	cfg.DefaultHost = getEnvOrDefault("DEFAULT_HOST", cfg.DefaultHost)

	// S3 settings
	cfg.S3.Backend = getEnvOrDefault("S3_BACKEND", cfg.S3.Backend)
	cfg.S3.Bucket = getEnvOrDefault("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnvOrDefault("S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnvOrDefault("S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKey = getEnvOrDefault("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnvOrDefault("S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.Prefix = getEnvOrDefault("S3_PREFIX", cfg.S3.Prefix)
	cfg.S3.PathStyle = parseEnvBool("S3_PATH_STYLE", cfg.S3.PathStyle)
	cfg.S3.UseSSL = parseEnvBool("S3_USE_SSL", cfg.S3.UseSSL)
	cfg.S3.CustomCAPath = getEnvOrDefault("S3_CUSTOM_CA_PATH", cfg.S3.CustomCAPath)
	cfg.S3.SkipCertValidation = parseEnvBool("S3_SKIP_CERT_VALIDATION", cfg.S3.SkipCertValidation)

	cfg.Local.WorkDirectory = getEnvOrDefault("WORK_DIRECTORY", cfg.Local.WorkDirectory)
	cfg.Local.Retention = getEnvOrDefault("LOCAL_RETENTION", cfg.Local.Retention)

	if batch, err := strconv.Atoi(getEnvOrDefault("EXPORT_BATCH_SIZE", "")); err == nil {
		cfg.Export.BatchSize = batch
	}
	cfg.Export.SkipEmpty = parseEnvBool("EXPORT_SKIP_EMPTY", cfg.Export.SkipEmpty)
	cfg.Export.Snapshot.DateOverride = getEnvOrDefault("SNAPSHOT_DATE_OVERRIDE", cfg.Export.Snapshot.DateOverride)

	if attempts, err := strconv.Atoi(getEnvOrDefault("RETRY_MAX_ATTEMPTS", "")); err == nil {
		cfg.Retry.MaxAttempts = attempts
	}

	cfg.Import.Directory = getEnvOrDefault("IMPORT_DIRECTORY", cfg.Import.Directory)
	cfg.Import.DeleteAfterDownload = parseEnvBool("IMPORT_DELETE_AFTER_DOWNLOAD", cfg.Import.DeleteAfterDownload)

	// Metadata DB settings
	cfg.MetadataDB.Enabled = parseEnvBool("METADATA_DB_ENABLED", cfg.MetadataDB.Enabled)
	cfg.MetadataDB.Host = getEnvOrDefault("METADATA_DB_HOST", cfg.MetadataDB.Host)
	if port, err := strconv.Atoi(getEnvOrDefault("METADATA_DB_PORT", "")); err == nil {
		cfg.MetadataDB.Port = port
	}
	cfg.MetadataDB.Username = getEnvOrDefault("METADATA_DB_USERNAME", cfg.MetadataDB.Username)
	cfg.MetadataDB.Password = getEnvOrDefault("METADATA_DB_PASSWORD", cfg.MetadataDB.Password)
	cfg.MetadataDB.Database = getEnvOrDefault("METADATA_DB_DATABASE", cfg.MetadataDB.Database)

	cfg.Metrics.Port = getEnvOrDefault("METRICS_PORT", cfg.Metrics.Port)
}

// setDefaults ensures all config fields have reasonable default values
func setDefaults(cfg *AppConfig) {
	for i := range cfg.Hosts {
		if cfg.Hosts[i].Port == "" {
			cfg.Hosts[i].Port = "3306"
		}
		if cfg.Hosts[i].ConnectTimeout == "" {
			cfg.Hosts[i].ConnectTimeout = "10s"
		}
		if cfg.Hosts[i].ReadTimeout == "" {
			cfg.Hosts[i].ReadTimeout = "5m"
		}
	}
	if cfg.DefaultHost == "" && len(cfg.Hosts) > 0 {
		cfg.DefaultHost = cfg.Hosts[0].Name
	}

	if cfg.S3.Backend == "" {
		cfg.S3.Backend = "s3"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.Bucket == "" {
		cfg.S3.Bucket = "billing-uploads"
	}
	if cfg.S3.ContentType == "" {
		cfg.S3.ContentType = "text/plain"
	}

	if cfg.Local.WorkDirectory == "" {
		cfg.Local.WorkDirectory = "."
	}

	if cfg.Export.BatchSize <= 0 {
		cfg.Export.BatchSize = 1000
	}
	if cfg.Export.ExcludeTables == nil {
		cfg.Export.ExcludeTables = append([]string(nil), DefaultExcludeTables...)
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.InitialInterval == "" {
		cfg.Retry.InitialInterval = "2s"
	}
	if cfg.Retry.MaxInterval == "" {
		cfg.Retry.MaxInterval = "1m"
	}

	if cfg.Import.Directory == "" {
		cfg.Import.Directory = "imports"
	}

	if cfg.MetadataDB.Enabled {
		if cfg.MetadataDB.Host == "" {
			cfg.MetadataDB.Host = "localhost"
		}
		if cfg.MetadataDB.Port == 0 {
			cfg.MetadataDB.Port = 3306
		}
		if cfg.MetadataDB.Database == "" {
			cfg.MetadataDB.Database = "gosqlsync_metadata"
		}
		if cfg.MetadataDB.MaxOpenConns == 0 {
			cfg.MetadataDB.MaxOpenConns = 10
		}
		if cfg.MetadataDB.MaxIdleConns == 0 {
			cfg.MetadataDB.MaxIdleConns = 5
		}
		if cfg.MetadataDB.ConnMaxLifetime == "" {
			cfg.MetadataDB.ConnMaxLifetime = "5m"
		}
	}

	if cfg.Schedules.Snapshot == "" {
		cfg.Schedules.Snapshot = "*/10 * * * *"
	}
}

// Host returns the named host, or the default host when name is empty
func (c *AppConfig) Host(name string) (HostConfig, error) {
	if name == "" {
		name = c.DefaultHost
	}
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, nil
		}
	}
	return HostConfig{}, fmt.Errorf("no host named %q is configured", name)
}

// RetryIntervals returns the parsed initial and maximum backoff intervals
func (c *AppConfig) RetryIntervals() (time.Duration, time.Duration, error) {
	initial, err := time.ParseDuration(c.Retry.InitialInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid retry initial interval: %w", err)
	}
	maxInterval, err := time.ParseDuration(c.Retry.MaxInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid retry max interval: %w", err)
	}
	return initial, maxInterval, nil
}

// Helper functions for environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value = strings.ToLower(value)

	switch value {
	case "1", "t", "true", "yes", "on", "enabled":
		return true
	case "0", "f", "false", "no", "off", "disabled":
		return false
	default:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return boolValue
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Display outputs the current configuration in a readable format
// while masking sensitive information
func (c *AppConfig) Display(logger *logrus.Logger) {
	logger.Info("========== GoSQLSync Configuration ==========")
	logger.Infof("Debug Mode: %t", c.Debug)
	logger.Infof("Config File: %s", c.ConfigFile)

	for _, h := range c.Hosts {
		logger.Infof("Host %s: %s@%s:%s password=%s databases=%v",
			h.Name, h.Username, h.Host, h.Port, maskSensitiveInfo(h.Password), h.IncludeDatabases)
	}
	logger.Infof("Default Host: %s", c.DefaultHost)

	logger.Infof("Storage: backend=%s bucket=%s endpoint=%s region=%s prefix=%s",
		c.S3.Backend, c.S3.Bucket, c.S3.Endpoint, c.S3.Region, c.S3.Prefix)
	logger.Infof("Storage Keys: access=%s secret=%s",
		maskSensitiveInfo(c.S3.AccessKey), maskSensitiveInfo(c.S3.SecretKey))

	logger.Infof("Work Directory: %s", c.Local.WorkDirectory)
	logger.Infof("Batch Size: %d", c.Export.BatchSize)
	logger.Infof("Excluded Tables: %v", c.Export.ExcludeTables)
	logger.Infof("Retry: attempts=%d initial=%s max=%s",
		c.Retry.MaxAttempts, c.Retry.InitialInterval, c.Retry.MaxInterval)

	if c.MetadataDB.Enabled {
		logger.Infof("Metadata Database: %s@%s:%d/%s password=%s",
			c.MetadataDB.Username, c.MetadataDB.Host, c.MetadataDB.Port,
			c.MetadataDB.Database, maskSensitiveInfo(c.MetadataDB.Password))
	}
	logger.Info("============================================")
}

// maskSensitiveInfo masks sensitive information for logging
func maskSensitiveInfo(info string) string {
	if info == "" {
		return "[not set]"
	}

	if len(info) <= 4 {
		return "****"
	}

	// Show first and last characters, mask the rest
	return info[:2] + "****" + info[len(info)-2:]
}

// Validate validates the configuration
func (c *AppConfig) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one MySQL host must be configured")
	}

	seen := make(map[string]bool)
	for _, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("every host needs a name")
		}
		if seen[h.Name] {
			return fmt.Errorf("host name %s is configured twice", h.Name)
		}
		seen[h.Name] = true
		if h.Host == "" {
			return fmt.Errorf("host %s has no address", h.Name)
		}
		if h.Username == "" {
			return fmt.Errorf("host %s has no username", h.Name)
		}
		for _, d := range []string{h.ConnectTimeout, h.ReadTimeout} {
			if _, err := time.ParseDuration(d); err != nil {
				return fmt.Errorf("host %s has an invalid timeout %q: %v", h.Name, d, err)
			}
		}
	}

	switch c.S3.Backend {
	case "s3", "minio":
	default:
		return fmt.Errorf("unknown storage backend %q (want s3 or minio)", c.S3.Backend)
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("storage bucket must be specified")
	}
	if c.S3.Backend == "minio" && c.S3.Endpoint == "" {
		return fmt.Errorf("minio backend requires an endpoint")
	}
	if c.S3.CustomCAPath != "" {
		if _, err := os.Stat(c.S3.CustomCAPath); err != nil {
			return fmt.Errorf("custom CA path %s is not accessible: %w", c.S3.CustomCAPath, err)
		}
	}

	if c.Local.Retention != "" {
		if _, err := time.ParseDuration(c.Local.Retention); err != nil {
			return fmt.Errorf("invalid local retention: %v", err)
		}
	}

	if c.Export.BatchSize <= 0 {
		return fmt.Errorf("export batch size must be positive")
	}
	if c.Export.Snapshot.DateOverride != "" {
		if _, err := time.Parse("2006-01-02", c.Export.Snapshot.DateOverride); err != nil {
			return fmt.Errorf("invalid snapshot date override: %v", err)
		}
	}
	if c.Export.Snapshot.OnlyIfUpdatedWithin != "" {
		if _, err := time.ParseDuration(c.Export.Snapshot.OnlyIfUpdatedWithin); err != nil {
			return fmt.Errorf("invalid snapshot staleness window: %v", err)
		}
	}

	if _, _, err := c.RetryIntervals(); err != nil {
		return err
	}

	if c.MetadataDB.Enabled {
		if c.MetadataDB.Username == "" {
			return fmt.Errorf("metadata database username is required when enabled")
		}
		if _, err := time.ParseDuration(c.MetadataDB.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid metadata database connection max lifetime: %v", err)
		}
	}

	return nil
}

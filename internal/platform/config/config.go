package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Supported migration sources
const (
	SourceDir = "dir"
	SourceS3  = "s3"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds all configuration for a service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Migration MigrationConfig `mapstructure:"migration"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Version   string          `mapstructure:"version" envconfig:"VERSION"`
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT"`
}

// DatabaseConfig holds database configuration.
// URL wins over the discrete host fields when both are set.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" envconfig:"DB_DRIVER"`
	URL             string        `mapstructure:"url" envconfig:"DATABASE_URL"`
	Host            string        `mapstructure:"host" envconfig:"DB_HOST"`
	Port            int           `mapstructure:"port" envconfig:"DB_PORT"`
	User            string        `mapstructure:"user" envconfig:"DB_USER"`
	Password        string        `mapstructure:"password" envconfig:"DB_PASSWORD"`
	Database        string        `mapstructure:"database" envconfig:"DB_NAME"`
	SSLMode         string        `mapstructure:"ssl_mode" envconfig:"DB_SSL_MODE"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"DB_CONN_MAX_IDLE_TIME"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" envconfig:"DB_CONNECT_TIMEOUT"`
}

// MigrationConfig holds migration runner configuration
type MigrationConfig struct {
	Source           string        `mapstructure:"source" envconfig:"MIGRATIONS_SOURCE"`
	Dir              string        `mapstructure:"dir" envconfig:"MIGRATIONS_DIR"`
	Extension        string        `mapstructure:"extension" envconfig:"MIGRATIONS_EXTENSION"`
	Table            string        `mapstructure:"table" envconfig:"MIGRATIONS_TABLE"`
	FailOnMismatch   bool          `mapstructure:"fail_on_mismatch" envconfig:"MIGRATIONS_FAIL_ON_MISMATCH"`
	FailOnMissing    bool          `mapstructure:"fail_on_missing" envconfig:"MIGRATIONS_FAIL_ON_MISSING"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" envconfig:"MIGRATIONS_OPERATION_TIMEOUT"`
	ReportTopic      string        `mapstructure:"report_topic" envconfig:"MIGRATIONS_REPORT_TOPIC"`
	S3Bucket         string        `mapstructure:"s3_bucket" envconfig:"MIGRATIONS_S3_BUCKET"`
	S3Prefix         string        `mapstructure:"s3_prefix" envconfig:"MIGRATIONS_S3_PREFIX"`
	S3Region         string        `mapstructure:"s3_region" envconfig:"MIGRATIONS_S3_REGION"`
	S3Endpoint       string        `mapstructure:"s3_endpoint" envconfig:"MIGRATIONS_S3_ENDPOINT"`
	S3AccessKeyID    string        `mapstructure:"s3_access_key_id" envconfig:"MIGRATIONS_S3_ACCESS_KEY_ID"`
	S3SecretKey      string        `mapstructure:"s3_secret_access_key" envconfig:"MIGRATIONS_S3_SECRET_ACCESS_KEY"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS"`
	ClientID string   `mapstructure:"client_id" envconfig:"KAFKA_CLIENT_ID"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	PushGatewayURL string `mapstructure:"pushgateway_url" envconfig:"METRICS_PUSHGATEWAY_URL"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint" envconfig:"JAEGER_ENDPOINT"`
	ServiceName    string `mapstructure:"service_name" envconfig:"TELEMETRY_SERVICE_NAME"`
}

func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("service.name", serviceName)
	v.SetDefault("service.environment", "development")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "studiobook")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "1m")
	v.SetDefault("database.connect_timeout", "10s")

	v.SetDefault("migration.source", SourceDir)
	v.SetDefault("migration.dir", "migrations")
	v.SetDefault("migration.extension", ".sql")
	v.SetDefault("migration.table", "schema_migrations")
	v.SetDefault("migration.fail_on_mismatch", true)
	v.SetDefault("migration.fail_on_missing", false)
	v.SetDefault("migration.operation_timeout", "0s")
	v.SetDefault("migration.report_topic", "studiobook.migrations.runs")

	v.SetDefault("kafka.client_id", serviceName)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output_path", "stderr")

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("telemetry.service_name", serviceName)

	v.SetDefault("version", "dev")
}

// Load loads configuration from defaults, an optional file and the environment,
// in increasing order of precedence. An empty configFile searches the usual paths.
func Load(serviceName, configFile string) (*Config, error) {
	var cfg Config

	v := viper.New()
	setDefaults(v, serviceName)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("./configs/services/" + serviceName)
		v.AddConfigPath(".")
	}

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.Service.Name
	}

	return &cfg, nil
}

// Validate checks the configuration for values the runner cannot work with
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL:
	case DriverSQLite:
		if c.Database.URL == "" && c.Database.Database == "" {
			errs = append(errs, errors.New("sqlite requires DATABASE_URL or DB_NAME to name the database file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}

	m := c.Migration
	switch m.Source {
	case SourceDir:
		if m.Dir == "" {
			errs = append(errs, errors.New("MIGRATIONS_DIR is required for the dir source"))
		}
	case SourceS3:
		if m.S3Bucket == "" {
			errs = append(errs, errors.New("MIGRATIONS_S3_BUCKET is required for the s3 source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported migration source %q", m.Source))
	}

	if !strings.HasPrefix(m.Extension, ".") || len(m.Extension) < 2 {
		errs = append(errs, fmt.Errorf("migration extension %q must start with a dot", m.Extension))
	}
	if !identifierPattern.MatchString(m.Table) {
		errs = append(errs, fmt.Errorf("invalid migration table name %q", m.Table))
	}
	if m.OperationTimeout < 0 {
		errs = append(errs, errors.New("MIGRATIONS_OPERATION_TIMEOUT must not be negative"))
	}

	return errors.Join(errs...)
}

// DSN returns the database connection string for the configured driver
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	switch c.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		if c.ConnectTimeout > 0 {
			mc.Timeout = c.ConnectTimeout
		}
		return mc.FormatDSN()
	case DriverSQLite:
		return c.Database
	default:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
		if secs := int(c.ConnectTimeout / time.Second); secs > 0 {
			dsn += fmt.Sprintf(" connect_timeout=%d", secs)
		}
		return dsn
	}
}

// Hostname returns the host name reported in run events
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

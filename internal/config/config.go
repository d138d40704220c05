// Package config loads the YAML configuration of a poller.
//
// A minimal file:
//
//	connection:
//	  driver: postgres
//	  dsn: postgres://poller@db:5432/shop
//	  password: ${SHOP_DB_PASSWORD}
//	statement:
//	  text: SELECT * FROM orders WHERE id > :sql_last_value ORDER BY id
//	tracking:
//	  mode: by-column
//	  column: id
//	schedule: "*/5 * * * *"
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/filestore"
	"github.com/koustreak/sqlpoll/internal/logger"
	"go.yaml.in/yaml/v3"
)

// Config is the whole configuration of one poller. It is not modified
// after Load returns.
type Config struct {
	Connection Connection `yaml:"connection"`
	Statement  Statement  `yaml:"statement"`
	Tracking   Tracking   `yaml:"tracking"`
	Paging     Paging     `yaml:"paging"`
	Encoding   Encoding   `yaml:"encoding"`
	State      State      `yaml:"state"`

	// Schedule is a cron spec. Empty runs a single poll.
	Schedule string `yaml:"schedule"`

	Sink   Sink   `yaml:"sink"`
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
}

// Connection holds database and driver settings.
type Connection struct {
	Driver string `yaml:"driver" validate:"required"`

	// DriverLibrary lists plugin files to load before the driver is
	// looked up, comma separated.
	DriverLibrary string `yaml:"driver_library"`

	DSN              string `yaml:"dsn" validate:"required"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	PasswordFilepath string `yaml:"password_filepath"`

	FetchSize int `yaml:"fetch_size" validate:"gte=0"`

	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" validate:"gte=0"`

	PoolTimeout    time.Duration `yaml:"pool_timeout" validate:"gte=0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	MaxLifetime    time.Duration `yaml:"max_lifetime" validate:"gte=0"`

	Validate           bool          `yaml:"validate"`
	ValidationInterval time.Duration `yaml:"validation_interval" validate:"gte=0"`

	// Timezone is the IANA zone zoneless timestamps are read in.
	Timezone string `yaml:"timezone"`

	// Persistent keeps the session open between cycles.
	Persistent bool `yaml:"persistent"`

	Options map[string]string `yaml:"options"`
}

// Statement holds the query and its parameters.
type Statement struct {
	Text       string         `yaml:"text"`
	Filepath   string         `yaml:"filepath"`
	Parameters map[string]any `yaml:"parameters"`
	Prepared   Prepared       `yaml:"prepared"`
}

type Prepared struct {
	Enabled    bool   `yaml:"enabled"`
	Name       string `yaml:"name"`
	BindValues []any  `yaml:"bind_values"`
}

type Tracking struct {
	Mode       string `yaml:"mode" validate:"oneof=none by-time by-column"`
	Column     string `yaml:"column"`
	ColumnType string `yaml:"column_type" validate:"oneof=numeric timestamp"`
}

type Paging struct {
	Enabled  bool `yaml:"enabled"`
	PageSize int  `yaml:"page_size"`
}

type Encoding struct {
	Charset        string            `yaml:"charset"`
	ColumnCharsets map[string]string `yaml:"columns"`
	ColumnCasing   string            `yaml:"column_casing" validate:"oneof=lower upper verbatim"`
}

// State controls where the cursor is kept.
type State struct {
	CleanRun      bool              `yaml:"clean_run"`
	RecordLastRun bool              `yaml:"record_last_run"`
	Backend       string            `yaml:"backend" validate:"oneof=file object"`
	Path          string            `yaml:"path"`
	Object        *filestore.Config `yaml:"object" validate:"required_if=Backend object"`
}

type Sink struct {
	Type  string    `yaml:"type" validate:"oneof=stdout file kafka"`
	Path  string    `yaml:"path" validate:"required_if=Type file"`
	Kafka KafkaSink `yaml:"kafka"`
}

type KafkaSink struct {
	Brokers   []string      `yaml:"brokers"`
	Topic     string        `yaml:"topic"`
	KeyColumn string        `yaml:"key_column"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Server struct {
	// Listen is the address of the status endpoint. Empty disables it.
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

type Log struct {
	logger.Config `yaml:",inline"`

	// CountStatements logs the row count of each statement at debug level.
	CountStatements bool `yaml:"count_statements"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Connection: Connection{
			RetryAttempts:      1,
			RetryBackoff:       500 * time.Millisecond,
			PoolTimeout:        5 * time.Second,
			ConnectTimeout:     10 * time.Second,
			MaxLifetime:        30 * time.Minute,
			ValidationInterval: time.Hour,
		},
		Tracking: Tracking{
			Mode:       "by-time",
			ColumnType: "numeric",
		},
		Paging: Paging{PageSize: 100000},
		Encoding: Encoding{
			ColumnCasing: "lower",
		},
		State: State{
			RecordLastRun: true,
			Backend:       "file",
			Path:          filepath.Join(home, ".sqlpoll_last_run"),
		},
		Sink: Sink{Type: "stdout"},
		Log: Log{Config: logger.Config{
			Level:      "info",
			Format:     "json",
			TimeFormat: "rfc3339",
		}},
	}
}

// Load reads, expands, validates and resolves the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to read config file "+path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${NAME} and ${NAME:-default}. A bare $ is kept, so
// $1 style placeholders survive.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}

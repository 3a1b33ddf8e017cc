package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"uploaddesk/internal/upload"
)

const (
	defaultPort            = 8080
	defaultDataDir         = "data"
	defaultMaxSessions     = 100
	defaultTransferTimeout = 5 * time.Minute
	defaultPresignExpiry   = 15 * time.Minute
	defaultFieldName       = "file"

	TransportSimulated = "simulated"
	TransportDisk      = "disk"
	TransportHTTP      = "http"
	TransportS3        = "s3"

	JournalNone   = "none"
	JournalFile   = "file"
	JournalSQLite = "sqlite"

	// EnvConfigPath names the variable holding the config file path.
	EnvConfigPath = "UPLOADDESK_CONFIG"
)

// Config describes runtime configuration for the service and the CLI.
type Config struct {
	Port        int       `yaml:"port"`
	DataDir     string    `yaml:"data_dir"`
	MaxSessions int       `yaml:"max_sessions"`
	Upload      Upload    `yaml:"upload"`
	Transport   Transport `yaml:"transport"`
	Journal     Journal   `yaml:"journal"`
}

// Upload holds the per-session manager limits.
type Upload struct {
	MaxFileSizeMB      int           `yaml:"max_file_size_mb"`
	AcceptedExtensions []string      `yaml:"accepted_extensions"`
	MaxFiles           int           `yaml:"max_files"`
	TransferTimeout    time.Duration `yaml:"transfer_timeout"`
}

type Transport struct {
	Kind string `yaml:"kind"`
	// MaxConcurrent bounds transfers across all sessions; 0 means unbounded.
	MaxConcurrent int       `yaml:"max_concurrent"`
	Simulated     Simulated `yaml:"simulated"`
	Disk          Disk      `yaml:"disk"`
	HTTP          HTTP      `yaml:"http"`
	S3            S3        `yaml:"s3"`
}

type Simulated struct {
	Tick         time.Duration `yaml:"tick"`
	MaxIncrement int           `yaml:"max_increment"`
	FailureRate  float64       `yaml:"failure_rate"`
	FailureAfter time.Duration `yaml:"failure_after"`
}

type Disk struct {
	Dir string `yaml:"dir"`
}

type HTTP struct {
	Endpoint  string        `yaml:"endpoint"`
	FieldName string        `yaml:"field_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

type S3 struct {
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	KeyPrefix     string        `yaml:"key_prefix"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
	AccessKey     string        `yaml:"-"`
	SecretKey     string        `yaml:"-"`
}

type Journal struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:        defaultPort,
		DataDir:     defaultDataDir,
		MaxSessions: defaultMaxSessions,
		Upload: Upload{
			MaxFileSizeMB:      upload.DefaultMaxFileSizeMB,
			AcceptedExtensions: append([]string(nil), upload.DefaultAcceptedExtensions...),
			MaxFiles:           upload.DefaultMaxFiles,
			TransferTimeout:    defaultTransferTimeout,
		},
		Transport: Transport{
			Kind:      TransportSimulated,
			HTTP:      HTTP{FieldName: defaultFieldName},
			S3:        S3{PresignExpiry: defaultPresignExpiry},
			Simulated: Simulated{},
		},
		Journal: Journal{Kind: JournalFile},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error. Environment overrides are
// applied in both cases.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	return cfg, cfg.Validate()
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.Upload.AcceptedExtensions = upload.NormalizeExtensions(cfg.Upload.AcceptedExtensions)
	if len(cfg.Upload.AcceptedExtensions) == 0 {
		cfg.Upload.AcceptedExtensions = upload.NormalizeExtensions(upload.DefaultAcceptedExtensions)
	}
	cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport.Kind))
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportSimulated
	}
	if cfg.Transport.HTTP.FieldName == "" {
		cfg.Transport.HTTP.FieldName = defaultFieldName
	}
	if cfg.Transport.S3.PresignExpiry <= 0 {
		cfg.Transport.S3.PresignExpiry = defaultPresignExpiry
	}
	cfg.Journal.Kind = strings.ToLower(strings.TrimSpace(cfg.Journal.Kind))
	if cfg.Journal.Kind == "" {
		cfg.Journal.Kind = JournalNone
	}
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Upload.MaxFiles < 1 {
		errs = append(errs, fmt.Errorf("invalid upload.max_files: %d (must be >= 1)", c.Upload.MaxFiles))
	}
	if c.Upload.MaxFileSizeMB < 1 {
		errs = append(errs, fmt.Errorf("invalid upload.max_file_size_mb: %d (must be >= 1)", c.Upload.MaxFileSizeMB))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("invalid max_sessions: %d (must be >= 1)", c.MaxSessions))
	}
	if c.Transport.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("invalid transport.max_concurrent: %d", c.Transport.MaxConcurrent))
	}
	switch c.Transport.Kind {
	case TransportSimulated, TransportDisk:
	case TransportHTTP:
		if c.Transport.HTTP.Endpoint == "" {
			errs = append(errs, errors.New("transport.http.endpoint is required"))
		}
	case TransportS3:
		if c.Transport.S3.Bucket == "" {
			errs = append(errs, errors.New("transport.s3.bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.kind %q", c.Transport.Kind))
	}
	switch c.Journal.Kind {
	case JournalNone, JournalFile, JournalSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown journal.kind %q", c.Journal.Kind))
	}
	return errors.Join(errs...)
}

// applyEnv overrides secrets and deployment knobs from the environment.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("UPLOADDESK_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPLOADDESK_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v, ok := os.LookupEnv("UPLOADDESK_DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("UPLOADDESK_TRANSPORT"); ok && v != "" {
		cfg.Transport.Kind = v
	}
	if v, ok := os.LookupEnv("UPLOADDESK_S3_ACCESS_KEY"); ok {
		cfg.Transport.S3.AccessKey = v
	}
	if v, ok := os.LookupEnv("UPLOADDESK_S3_SECRET_KEY"); ok {
		cfg.Transport.S3.SecretKey = v
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Relay    RelayConfig
	Analysis AnalysisConfig
	Archive  ArchiveConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// RelayConfig covers both sides of the proxy boundary: URL is where the
// daemon reaches the relay, the rest configures `painel relay` itself.
type RelayConfig struct {
	Port              int
	URL               string
	HybridBaseURL     string
	VirusTotalBaseURL string
	HybridAPIKey      string
	VirusTotalAPIKey  string
}

type AnalysisConfig struct {
	HybridDelay     time.Duration
	VirusTotalDelay time.Duration
	ReportAttempts  int
	MaxUploadMB     int
}

type ArchiveConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether samples should be archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != ""
}

// MaxUploadBytes is the upload limit in bytes.
func (a AnalysisConfig) MaxUploadBytes() int64 {
	return int64(a.MaxUploadMB) << 20
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Relay: RelayConfig{
			Port:              4101,
			URL:               "http://127.0.0.1:4101",
			HybridBaseURL:     "https://www.hybrid-analysis.com/api/v2",
			VirusTotalBaseURL: "https://www.virustotal.com/api/v3",
		},
		Analysis: AnalysisConfig{
			HybridDelay:     8 * time.Second,
			VirusTotalDelay: 12 * time.Second,
			ReportAttempts:  3,
			MaxUploadMB:     100,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Bucket: "painel-samples",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/painel/config.yaml, then applies PAINEL_* environment
// overrides. Provider keys and the archive secret are read from the
// environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		errs = append(errs, fmt.Errorf("relay.port %d out of range", c.Relay.Port))
	}
	if c.Relay.URL == "" {
		errs = append(errs, errors.New("relay.url is empty"))
	}
	if c.Analysis.HybridDelay < 0 || c.Analysis.VirusTotalDelay < 0 {
		errs = append(errs, errors.New("analysis delays must not be negative"))
	}
	if c.Analysis.ReportAttempts < 1 {
		errs = append(errs, fmt.Errorf("analysis.report_attempts must be at least 1, got %d", c.Analysis.ReportAttempts))
	}
	if c.Analysis.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("analysis.max_upload_mb must be at least 1, got %d", c.Analysis.MaxUploadMB))
	}
	if c.Archive.Enabled() && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("archive.bucket is required when archive.endpoint is set"))
	}
	return errors.Join(errs...)
}

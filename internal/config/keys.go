package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PAINEL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAINEL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PAINEL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "relay.port", typ: kInt, env: "PAINEL_RELAY_PORT",
		apply:   func(cfg *Config, v any) { cfg.Relay.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Relay.Port },
	},
	{
		key: "relay.url", typ: kString, env: "PAINEL_RELAY_URL",
		apply:   func(cfg *Config, v any) { cfg.Relay.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.URL },
	},
	{
		key: "relay.hybrid_base_url", typ: kString, env: "PAINEL_RELAY_HYBRID_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Relay.HybridBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.HybridBaseURL },
	},
	{
		key: "relay.virustotal_base_url", typ: kString, env: "PAINEL_RELAY_VIRUSTOTAL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Relay.VirusTotalBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.VirusTotalBaseURL },
	},
	{
		key: "relay.hybrid_api_key", typ: kString, env: "PAINEL_HYBRID_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Relay.HybridAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.HybridAPIKey },
	},
	{
		key: "relay.virustotal_api_key", typ: kString, env: "PAINEL_VIRUSTOTAL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Relay.VirusTotalAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.VirusTotalAPIKey },
	},
	{
		key: "analysis.hybrid_delay", typ: kDuration, env: "PAINEL_ANALYSIS_HYBRID_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Analysis.HybridDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analysis.HybridDelay },
	},
	{
		key: "analysis.virustotal_delay", typ: kDuration, env: "PAINEL_ANALYSIS_VIRUSTOTAL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Analysis.VirusTotalDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analysis.VirusTotalDelay },
	},
	{
		key: "analysis.report_attempts", typ: kInt, env: "PAINEL_ANALYSIS_REPORT_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Analysis.ReportAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.ReportAttempts },
	},
	{
		key: "analysis.max_upload_mb", typ: kInt, env: "PAINEL_ANALYSIS_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Analysis.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.MaxUploadMB },
	},
	{
		key: "archive.endpoint", typ: kString, env: "PAINEL_ARCHIVE_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Archive.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Endpoint },
	},
	{
		key: "archive.region", typ: kString, env: "PAINEL_ARCHIVE_REGION",
		apply:   func(cfg *Config, v any) { cfg.Archive.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Region },
	},
	{
		key: "archive.bucket", typ: kString, env: "PAINEL_ARCHIVE_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Archive.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Bucket },
	},
	{
		key: "archive.access_key", typ: kString, env: "PAINEL_ARCHIVE_ACCESS_KEY",
		apply:   func(cfg *Config, v any) { cfg.Archive.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.AccessKey },
	},
	{
		key: "archive.secret_key", typ: kString, env: "PAINEL_ARCHIVE_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Archive.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.SecretKey },
	},
	{
		key: "archive.use_ssl", typ: kBool, env: "PAINEL_ARCHIVE_USE_SSL",
		apply:   func(cfg *Config, v any) { cfg.Archive.UseSSL = v.(bool) },
		extract: func(cfg Config) any { return cfg.Archive.UseSSL },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

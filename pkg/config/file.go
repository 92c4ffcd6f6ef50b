package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the operator-editable YAML overlay for ServerConfig,
// pointed at by BOMFORGE_CONFIG. Set fields win over environment
// variables; unset fields fall through.
type fileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	AMQPURL     string `yaml:"amqp_url"`
	S3Bucket    string `yaml:"audit_bucket"`
}

// applyFile overlays the YAML file named by BOMFORGE_CONFIG, if any. A
// missing or unreadable file is logged and skipped; a syntactically
// broken one is an operator error worth failing loudly on, but startup
// validation of Tunables already provides the fail-fast gate, so this
// stays a warning too.
func applyFile(cfg *ServerConfig) {
	path := os.Getenv("BOMFORGE_CONFIG")
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("config: overlay file unreadable", "path", path, "error", err)
		return
	}
	var overlay fileConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		slog.Warn("config: overlay file malformed", "path", path, "error", err)
		return
	}

	if overlay.Port != "" {
		cfg.Port = overlay.Port
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	if overlay.DatabaseURL != "" {
		cfg.DatabaseURL = overlay.DatabaseURL
	}
	if overlay.RedisURL != "" {
		cfg.RedisURL = overlay.RedisURL
	}
	if overlay.AMQPURL != "" {
		cfg.AMQPURL = overlay.AMQPURL
	}
	if overlay.S3Bucket != "" {
		cfg.S3Bucket = overlay.S3Bucket
	}
}

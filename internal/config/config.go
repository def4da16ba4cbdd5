// Package config reads server settings from the environment and flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds server settings. Environment values are read first and then
// overridden by flags.
type Config struct {
	Host            string        `env:"HOST"             envDefault:"0.0.0.0"`
	Port            string        `env:"PORT"             envDefault:"8080"`
	OriginAllowlist []string      `env:"ORIGIN_ALLOWLIST" envSeparator:","`
	RulesScript     string        `env:"RULES_SCRIPT"`
	RulesTimeout    time.Duration `env:"RULES_TIMEOUT"    envDefault:"100ms"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"       envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
	OTelEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Parse loads env defaults into a Config and applies flags from args.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	if fs == nil {
		return Config{}, errors.New("flag set is required")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	origins := strings.Join(cfg.OriginAllowlist, ",")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.StringVar(&origins, "origins", origins, "comma separated allowed websocket origins")
	fs.StringVar(&cfg.RulesScript, "rules", cfg.RulesScript, "path to a Lua house rules script")
	fs.DurationVar(&cfg.RulesTimeout, "rules-timeout", cfg.RulesTimeout, "time limit for one house rules check")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json, console)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.OriginAllowlist = splitList(origins)
	if len(cfg.OriginAllowlist) == 0 {
		cfg.OriginAllowlist = []string{"localhost:" + cfg.Port, "127.0.0.1:" + cfg.Port}
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return Config{}, errors.New("port is required")
	}
	if cfg.RulesTimeout <= 0 {
		return Config{}, errors.New("rules timeout must be positive")
	}
	return cfg, nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

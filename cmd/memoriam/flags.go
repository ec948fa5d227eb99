package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig is what the command line and its environment fallbacks select.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	InitDB          bool
	InitSearch      bool
	UpdateSearch    bool
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cfg := new(CLIConfig)

	fs.StringVar(&cfg.ConfigPath, "config",
		envOr("MEMORIAM_CONFIG", "", asString),
		"Path to a YAML or JSON configuration file (env: MEMORIAM_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		envOr("MEMORIAM_CONFIG", "", asString),
		"Path to a YAML or JSON configuration file (env: MEMORIAM_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		envOr("LOG_LEVEL", "info", asString),
		"Log level: debug, info, warn, error (env: LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		envOr("LOG_FORMAT", "json", asString),
		"Log format: json, text (env: LOG_FORMAT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envOr("SHUTDOWN_TIMEOUT", 30*time.Second, time.ParseDuration),
		"Graceful shutdown timeout (env: SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.InitDB, "init-db",
		envOr("INIT_DB", true, strconv.ParseBool),
		"Create the database and missing collections at startup (env: INIT_DB)")

	fs.BoolVar(&cfg.InitSearch, "init-search",
		envOr("INIT_SEARCH", true, strconv.ParseBool),
		"Create search analyzers and the search view at startup (env: INIT_SEARCH)")

	fs.BoolVar(&cfg.UpdateSearch, "update-search",
		envOr("UPDATE_SEARCH", false, strconv.ParseBool),
		"Rebuild the _index field of every indexed collection at startup (env: UPDATE_SEARCH)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains(logLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level %q, want one of %v", cfg.LogLevel, logLevels)
	}
	if !slices.Contains(logFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format %q, want one of %v", cfg.LogFormat, logFormats)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - schema-driven domain object API

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a config file
  %s --config=/etc/memoriam/config.yml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run from the environment only
  export ARANGO_HOSTS=http://arangodb:8529
  export DOMAIN_SCHEMA_DIR=/data/domains
  %s

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// envOr reads key through parse, falling back to def when the variable is
// unset or does not parse.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	if v, err := parse(raw); err == nil {
		return v
	}
	return def
}

func asString(s string) (string, error) { return s, nil }

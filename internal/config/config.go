// Package config parses cabinetd's command-line flags and optional
// config file override. Flags are defined with spf13/pflag rather than
// the standard library's flag package — grounded on the rest of the
// retrieval pack's server commands, which uniformly reach for pflag's
// GNU-style long/short flags over stdlib flag's single-dash-only syntax.
// The optional file is parsed with tailscale/hujson so operators can
// comment out a setting instead of deleting it.
package config

import (
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// Config is cabinetd's full runtime configuration.
type Config struct {
	// DataRoot is the directory under which every database lives, one
	// subdirectory per database.
	DataRoot string `json:"data_root"`

	// BindAddr and BindPort name the RPC listener's address.
	BindAddr string `json:"bind_addr"`
	BindPort int    `json:"bind_port"`

	// LogPath is where structured logs are written; empty means stderr.
	LogPath string `json:"log_path"`

	// Daemonize is parsed from --daemonize or the config file and
	// carried here; cabinetd does not act on it and always runs in the
	// foreground.
	Daemonize bool `json:"daemonize"`

	// FlushIntervalSeconds is the hint the background ticker uses to
	// flush every open database periodically, bounding how much
	// unflushed data a crash can lose. Zero disables the ticker.
	FlushIntervalSeconds int `json:"flush_interval_seconds"`

	// TracePath, when set, records a compressed trace of every RPC
	// operation for later replay or debugging.
	TracePath string `json:"trace_path"`
}

// Default returns the configuration cabinetd starts from before flags
// or a config file are applied.
func Default() Config {
	return Config{
		DataRoot:             "./data",
		BindAddr:             "127.0.0.1",
		BindPort:             9090,
		FlushIntervalSeconds: 5,
	}
}

// Parse builds a Config from Default(), a config file named by
// --config (if given, via -c), and then command-line flags, in that
// order of increasing precedence.
func Parse(args []string) (Config, error) {
	cfg := Default()

	// A first pass just to discover --config before the full parse,
	// since flag values should override whatever the file contains but
	// the file should override the built-in defaults.
	preScan := pflag.NewFlagSet("cabinetd-prescan", pflag.ContinueOnError)
	preScan.ParseErrorsWhitelist.UnknownFlags = true
	preScanPath := preScan.StringP("config", "c", "", "")
	_ = preScan.Parse(args)

	if *preScanPath != "" {
		if err := applyFile(*preScanPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	fs := pflag.NewFlagSet("cabinetd", pflag.ContinueOnError)
	fs.StringP("config", "c", *preScanPath, "path to a HuJSON config file")
	fs.StringVar(&cfg.DataRoot, "data-root", cfg.DataRoot, "directory under which every database lives")
	fs.StringVar(&cfg.BindAddr, "bind-addr", cfg.BindAddr, "RPC listener bind address")
	fs.IntVar(&cfg.BindPort, "bind-port", cfg.BindPort, "RPC listener bind port")
	fs.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "log file path, empty for stderr")
	fs.BoolVar(&cfg.Daemonize, "daemonize", cfg.Daemonize, "parsed but not acted on; cabinetd always runs in the foreground")
	fs.IntVar(&cfg.FlushIntervalSeconds, "flush-interval", cfg.FlushIntervalSeconds, "seconds between background flushes of every open database, 0 to disable")
	fs.StringVar(&cfg.TracePath, "trace-path", cfg.TracePath, "optional path to record a compressed operation trace")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyFile reads a HuJSON config file (plain JSON with comments and
// trailing commas allowed) and overlays it onto cfg.
func applyFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	standard, err := hujson.Standardize(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(standard, cfg)
}

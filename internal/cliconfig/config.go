// Package cliconfig parses the CLI surface spec.md §6 describes
// ("tifs <kv-endpoint> <mount-point> [-o key=val,...]") using
// spf13/cobra+pflag for flags and spf13/viper+mapstructure for
// layering an optional tifs.yaml file underneath them, the way the
// teacher layers cfg/internal/config over cobra/viper.
package cliconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tifs-fs/tifs/internal/mount"
)

// Config is the fully resolved set of settings a tifs invocation runs
// with, after flags, an optional config file, and defaults are merged.
type Config struct {
	// KVEndpoints is the comma-separated list of PD addresses fronting
	// the TiKV cluster (spec.md §6's "<kv-endpoint>").
	KVEndpoints []string `mapstructure:"kv_endpoints"`

	// MountPoint is the local directory to mount onto.
	MountPoint string `mapstructure:"mount_point"`

	// Options is the "-o key=val,..." mount option string, unparsed.
	Options string `mapstructure:"options"`

	// Foreground keeps the process attached instead of daemonizing
	// (spec.md §6; mirrors the teacher's --foreground flag).
	Foreground bool `mapstructure:"foreground"`

	// LogLevel, LogFormat, LogFile configure internal/logger.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// MetricsAddr, if non-empty, serves internal/telemetry's Prometheus
	// handler on this address (e.g. ":9117").
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// BindFlags registers the flags Config understands onto flags and
// binds each to viper under the matching key, mirroring the teacher's
// cfg.BindFlags(rootCmd.PersistentFlags()).
func BindFlags(flags *pflag.FlagSet) error {
	flags.String("options", "", "comma-separated mount options (blksize=N,direct_io,maxsize=B,tls=PATH,strictatime,allow_other)")
	flags.Bool("foreground", false, "run in the foreground instead of daemonizing")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-file", "", "log file path; empty means stderr")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables it")

	for _, key := range []string{"options", "foreground", "log-level", "log-format", "log-file", "metrics-addr"} {
		if err := viper.BindPFlag(mapstructureKey(key), flags.Lookup(key)); err != nil {
			return fmt.Errorf("cliconfig: bind flag %q: %w", key, err)
		}
	}
	return nil
}

func mapstructureKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// Load resolves positional args (kv-endpoint, mount-point) against
// whatever BindFlags + an optional config file already populated into
// viper, and unmarshals the result into a Config.
func Load(kvEndpoint, mountPoint string) (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("cliconfig: unmarshal: %w", err)
	}
	cfg.KVEndpoints = strings.Split(kvEndpoint, ",")
	cfg.MountPoint = mountPoint
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	return cfg, nil
}

// MountOptions parses Config.Options into a mount.Options value.
func (c Config) MountOptions() (mount.Options, error) {
	return mount.ParseOptionString(c.Options)
}

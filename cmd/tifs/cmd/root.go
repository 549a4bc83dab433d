// Package cmd is the CLI surface spec §6 describes, built the way the
// teacher builds cmd/root.go: a spf13/cobra root command whose
// PersistentFlags are bound into spf13/viper by internal/cliconfig,
// with an optional config file layered underneath them.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tifs-fs/tifs/internal/cliconfig"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tifs <kv-endpoint> <mount-point>",
	Short: "Mount a TiFS filesystem backed by a TiKV-compatible KV service",
	Long: `tifs mounts a distributed, POSIX-ish filesystem whose metadata and
content both live in a transactional ordered key-value service. It
translates FUSE requests into KV transactions; there is no local
persistent state besides the mount-time option snapshot.`,
	Args: cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := cliconfig.Load(args[0], args[1])
		if err != nil {
			return exitError{code: 1, err: err}
		}
		return runMount(c, cfg)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	if err := cliconfig.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to an optional tifs.yaml layering defaults under the flags")
	rootCmd.AddCommand(fsckCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "tifs: reading config file %s: %v\n", cfgFile, err)
	}
}

// exitError carries the process exit code spec §6 assigns to each
// failure class through cobra's error-returning RunE without it being
// reformatted by cobra's own error printing.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

// Execute runs the root command and terminates the process with the
// exit code spec §6 assigns: 0 clean unmount, 1 argument/config error,
// 2 mount failure, 3 fatal store error.
func Execute() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ee, ok := err.(exitError); ok {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"

	"github.com/tifs-fs/tifs/internal/cliconfig"
	"github.com/tifs-fs/tifs/internal/fsengine"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/logger"
	"github.com/tifs-fs/tifs/internal/mount"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/telemetry"
)

// inBackgroundEnv mirrors the teacher's convention of telling a
// re-exec'd daemon child apart from the original invocation via an
// environment variable, since both run the identical binary and args.
const inBackgroundEnv = "TIFS_IN_BACKGROUND_MODE"

func runMount(c *cobra.Command, cfg cliconfig.Config) error {
	logLevel, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return exitError{code: 1, err: err}
	}
	logFormat := logger.FormatText
	if strings.EqualFold(cfg.LogFormat, "json") {
		logFormat = logger.FormatJSON
	}
	closer := logger.Init(logger.Config{Level: logLevel, Format: logFormat, FilePath: cfg.LogFile})
	defer closer.Close()

	opts, err := cfg.MountOptions()
	if err != nil {
		return exitError{code: 1, err: fmt.Errorf("parsing -o options: %w", err)}
	}

	if !cfg.Foreground && os.Getenv(inBackgroundEnv) == "" {
		return daemonizeSelf(cfg)
	}

	client, err := kvtxn.NewTiKVClient(cfg.KVEndpoints)
	if err != nil {
		return exitError{code: 3, err: fmt.Errorf("connecting to KV service: %w", err)}
	}
	defer client.Close()

	engine := fsengine.New(client, record.NewProductionCodec(), timeutil.RealClock(), fsengine.Options{
		Blksize:           opts.Blksize,
		MaxSize:           opts.MaxSize,
		UpdateAtimeOnRead: opts.StrictAtime,
	})

	ctx := context.Background()
	if err := engine.EnsureFormatted(ctx); err != nil {
		return exitError{code: 3, err: fmt.Errorf("formatting filesystem: %w", err)}
	}

	recorder, metricsErr := telemetry.New()
	if metricsErr != nil {
		logger.Warnf("telemetry disabled: %v", metricsErr)
	}
	if recorder != nil && cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warnf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		defer recorder.Shutdown(context.Background())
	}
	opts.Recorder = recorder

	server, err := mount.Mount(cfg.MountPoint, engine, opts)
	if err != nil {
		signalDaemonizeOutcome(fmt.Errorf("mount: %w", err))
		return exitError{code: 2, err: err}
	}

	signalDaemonizeOutcome(nil)
	logger.Infof("mounted %s at %s", strings.Join(cfg.KVEndpoints, ","), cfg.MountPoint)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Infof("received interrupt, unmounting %s", cfg.MountPoint)
		server.Unmount()
	}()

	server.Wait()
	return nil
}

// daemonizeSelf re-execs the current binary in the background with
// --foreground and the in-background marker set, then waits for the
// child to signal success or failure over the daemonize pipe, the same
// split the teacher uses to let the parent process exit only once the
// mount is confirmed.
func daemonizeSelf(cfg cliconfig.Config) error {
	path, err := os.Executable()
	if err != nil {
		return exitError{code: 1, err: fmt.Errorf("os.Executable: %w", err)}
	}

	args := append([]string{"--foreground"}, os.Args[1:]...)
	env := append(os.Environ(), inBackgroundEnv+"=true")

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return exitError{code: 2, err: fmt.Errorf("daemonize.Run: %w", err)}
	}
	return nil
}

func signalDaemonizeOutcome(err error) {
	if os.Getenv(inBackgroundEnv) == "" {
		return
	}
	if sigErr := daemonize.SignalOutcome(err); sigErr != nil {
		logger.Errorf("signalling daemonize outcome: %v", sigErr)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return slog.Level(-8), nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

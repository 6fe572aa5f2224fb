package cmd

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli"

	"github.com/ffupdater/ffupdaterd/cmd/common"
	"github.com/ffupdater/ffupdaterd/internal/daemon"
	"github.com/ffupdater/ffupdaterd/internal/settings"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// build is set by Execute and reported by the daemon's version method.
var build BuildArgs

// settingsPath returns the --config value or the default settings file.
func settingsPath(ctx *cli.Context) (string, error) {
	if p := ctx.GlobalString("config"); p != "" {
		return p, nil
	}
	dir, err := settings.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settings.FileName), nil
}

func loadSettings(ctx *cli.Context) (*settings.Settings, string, error) {
	path, err := settingsPath(ctx)
	if err != nil {
		return nil, "", err
	}
	s, err := settings.Load(path)
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}

func daemonConfig(path string) *daemon.Config {
	return &daemon.Config{
		SettingsPath: path,
		Version:      build.Version,
		Commit:       build.Commit,
		BuildType:    build.BuildType,
	}
}

// daemonLogger logs to stderr and, when paths.log_file is set, to the
// rotated log file as well.
func daemonLogger(s *settings.Settings, debug bool) logger.Logger {
	console := logger.NewLogrusLogger("daemon", logger.FileOptions{Debug: debug})
	if s.Paths.LogFile == "" {
		return console
	}
	return logger.NewMultiLogger(console, logger.NewLogrusLogger("daemon", logger.FileOptions{
		Path:  s.Paths.LogFile,
		Debug: debug,
	}))
}

// commandLogger is used by the one-shot commands, which leave the log file
// to the daemon.
func commandLogger(component string, debug bool) logger.Logger {
	l := logger.NewStandardLogger(log.New(os.Stderr, component+": ", log.LstdFlags))
	l.SetVerbose(debug)
	return l
}

func runDaemon(ctx *cli.Context) error {
	s, path, err := loadSettings(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "load_settings", err)
		return nil
	}
	l := daemonLogger(s, ctx.GlobalBool("debug"))
	defer l.Close()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := daemon.New(daemonConfig(path), &daemon.Dependencies{Logger: l})
	err = r.Start(sigCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		common.PrintRuntimeErr(ctx, "daemon", "start", err)
		return nil
	}
	l.Info("Daemon: stopped.")
	return nil
}

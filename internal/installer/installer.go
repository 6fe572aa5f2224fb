// Package installer hands downloaded packages to the platform installer.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

var ErrNoCommand = errors.New("no installer command configured")

// Installer installs a package file.
type Installer interface {
	Install(ctx context.Context, app apps.ID, packagePath string) error
}

// CommandInstaller runs an external command with the package path appended
// as the last argument.
type CommandInstaller struct {
	command []string
	log     logger.Logger
}

func NewCommandInstaller(command []string, l logger.Logger) *CommandInstaller {
	return &CommandInstaller{command: command, log: logger.OrNop(l)}
}

func (c *CommandInstaller) Install(ctx context.Context, app apps.ID, packagePath string) error {
	if len(c.command) == 0 {
		return ErrNoCommand
	}
	args := append(append([]string(nil), c.command[1:]...), packagePath)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	cmd.Env = append(cmd.Environ(), "FFUPDATERD_APP="+string(app))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	c.log.Info("Installer: install %s from %s", app, packagePath)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return fmt.Errorf("install %s: %w: %s", app, err, msg)
		}
		return fmt.Errorf("install %s: %w", app, err)
	}
	return nil
}

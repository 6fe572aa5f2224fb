package cmd

import (
	"context"
	"errors"

	"github.com/urfave/cli"

	"github.com/ffupdater/ffupdaterd/internal/server"
	"github.com/ffupdater/ffupdaterd/pkg/ffcli"
)

var errNoSecret = errors.New("rpc.secret is not set, the daemon has no control endpoint")

// newClient dials the daemon configured in the settings file.
func newClient(ctx context.Context, cctx *cli.Context, onNotification func(server.NotificationParams)) (*ffcli.Client, error) {
	s, _, err := loadSettings(cctx)
	if err != nil {
		return nil, err
	}
	if s.RPC.Secret == "" {
		return nil, errNoSecret
	}
	return ffcli.Dial(ctx, s.RPC.Listen, ffcli.Options{
		Secret:         s.RPC.Secret,
		OnNotification: onNotification,
	})
}

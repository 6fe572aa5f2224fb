package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/ffupdater/ffupdaterd/cmd/common"
	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/internal/daemon"
)

func download(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return common.PrintErrWithCmdHelp(
			ctx,
			errors.New("no app id provided"),
		)
	} else if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignals()

	c, l, err := buildComponents(sigCtx, ctx, "download")
	if err != nil {
		common.PrintRuntimeErr(ctx, "download", "build", err)
		return nil
	}
	defer l.Close()
	defer c.Close()

	path, err := downloadLatest(sigCtx, c, apps.ID(id))
	if err != nil {
		common.PrintRuntimeErr(ctx, "download", "download", err)
		return nil
	}
	fmt.Printf("Package saved to %s\n", path)
	return nil
}

// downloadLatest fetches the newest package of id into the package cache
// and returns its path. An app missing from the installed registry is
// treated as not installed.
func downloadLatest(ctx context.Context, c *daemon.Components, id apps.ID) (string, error) {
	adapter, err := c.Catalog.Lookup(id)
	if err != nil {
		return "", err
	}
	if err := c.Registry.Refresh(ctx); err != nil {
		return "", err
	}
	installed := apps.InstalledApp{ID: id}
	for _, a := range c.Registry.Installed() {
		if a.ID == id {
			installed = a
			break
		}
	}
	st, err := adapter.FetchLatestStatus(ctx, installed, nil)
	if err != nil {
		return "", err
	}
	path := adapter.PackagePath(st.LatestVersion)
	if c.Packages.Exists(id, st.LatestVersion) {
		return path, nil
	}

	p := mpb.New(mpb.WithWidth(64))
	bar, onProgress := common.InitBar(p, fmt.Sprintf("%s %s", id, st.LatestVersion))
	_, err = c.Downloader.DownloadLarge(ctx, st.DownloadURL, path, onProgress).Wait(ctx)
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetCurrent(100)
	}
	p.Wait()
	return path, err
}

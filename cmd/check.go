package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli"

	"github.com/ffupdater/ffupdaterd/cmd/common"
	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/internal/background"
	"github.com/ffupdater/ffupdaterd/internal/daemon"
	"github.com/ffupdater/ffupdaterd/internal/scanner"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

var (
	installUpdates bool

	checkFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "update, u",
			Usage:       "download and install the outdated apps (default: false)",
			Destination: &installUpdates,
		},
	}
)

// buildComponents wires the object graph for a one-shot command. The caller
// closes the result.
func buildComponents(ctx context.Context, cctx *cli.Context, component string) (*daemon.Components, logger.Logger, error) {
	path, err := settingsPath(cctx)
	if err != nil {
		return nil, nil, err
	}
	l := commandLogger(component, cctx.GlobalBool("debug"))
	c, err := daemon.Build(ctx, daemonConfig(path), &daemon.Dependencies{Logger: l})
	if err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	return c, l, nil
}

func check(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignals()

	c, l, err := buildComponents(sigCtx, ctx, "check")
	if err != nil {
		common.PrintRuntimeErr(ctx, "check", "build", err)
		return nil
	}
	defer l.Close()
	defer c.Close()

	if installUpdates {
		return checkAndUpdate(sigCtx, ctx, c)
	}

	f := scanner.Filters{}
	for _, id := range c.Settings.Current().Foreground.HiddenApps {
		f.Hidden = append(f.Hidden, apps.ID(id))
	}
	report, err := c.Scanner.FindOutdated(sigCtx, f)
	if err != nil {
		common.PrintRuntimeErr(ctx, "check", "find_outdated", err)
		return nil
	}
	fmt.Println(statusTable(report.Checked))
	return nil
}

func checkAndUpdate(ctx context.Context, cctx *cli.Context, c *daemon.Components) error {
	d := c.Work.Run(ctx, 0)
	c.Work.Chains().Wait()
	if d.Result == background.Retry {
		common.PrintRuntimeErr(cctx, "check", "run", fmt.Errorf("update check did not complete: %s", d.Reason))
		return nil
	}
	if d.StopSchedule || d.Reason != "" {
		fmt.Printf("ffupdaterd: update check skipped: %s\n", d.Reason)
		return nil
	}
	list, err := c.State.Statuses(ctx)
	if err != nil {
		common.PrintRuntimeErr(cctx, "check", "statuses", err)
		return nil
	}
	fmt.Println(statusTable(list))
	return nil
}

func statusTable(list []apps.UpdateStatus) string {
	if len(list) == 0 {
		return "ffupdaterd: no tracked apps found"
	}
	txt := "Here are your apps:"
	txt += "\n\n-------------------------------------------------------------"
	txt += "\n|         App          |  Installed  |   Latest    | Update |"
	txt += "\n|----------------------|-------------|-------------|--------|"
	for _, st := range list {
		upd := "no"
		if st.IsUpdateAvailable {
			upd = "yes"
		}
		txt += fmt.Sprintf("\n|%s|%s|%s|%s|",
			cell(st.App.String(), 22),
			cell(st.InstalledVersion, 13),
			cell(st.LatestVersion, 13),
			cell(upd, 8),
		)
	}
	txt += "\n-------------------------------------------------------------"
	return txt
}

func cell(s string, n int) string {
	if len(s) > n-2 {
		s = s[:n-5] + "..."
	}
	return common.Beaut(s, n)
}

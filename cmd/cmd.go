package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/ffupdater/ffupdaterd/cmd/common"
	"github.com/ffupdater/ffupdaterd/internal/settings"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "path of the settings file (default: " + settings.FileName + " in the config dir)",
	},
	cli.BoolFlag{
		Name:   "debug",
		Usage:  "enable debug logging",
		EnvVar: settings.EnvDebug,
	},
}

func Execute(args []string, bArgs BuildArgs) error {
	app := newApp(bArgs)
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}

func newApp(bArgs BuildArgs) *cli.App {
	build = bArgs
	return &cli.App{
		Name:                  "ffupdaterd",
		HelpName:              "ffupdaterd",
		Usage:                 "Keeps your GitHub released apps up to date.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "ffupdaterd [global options] <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:               "daemon",
				Usage:              "runs the background updater",
				Action:             runDaemon,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        DaemonDescription,
			},
			{
				Name:                   "check",
				Aliases:                []string{"c"},
				Usage:                  "checks for updates once",
				Action:                 check,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            CheckDescription,
				UseShortOptionHandling: true,
				Flags:                  checkFlags,
			},
			{
				Name:               "download",
				Aliases:            []string{"d"},
				Usage:              "downloads the latest package of an app",
				Action:             download,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        DownloadDescription,
				UsageText:          "<app id>",
			},
			{
				Name:                   "status",
				Aliases:                []string{"s"},
				Usage:                  "shows the state of the running daemon",
				Action:                 status,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            StatusDescription,
				UseShortOptionHandling: true,
				Flags:                  statusFlags,
			},
			{
				Name:               "check-now",
				Usage:              "makes the daemon check for updates immediately",
				Action:             checkNow,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        CheckNowDescription,
			},
			{
				Name:               "start",
				Usage:              "schedules the periodic update check",
				Action:             start,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        StartDescription,
			},
			{
				Name:               "stop",
				Usage:              "cancels the periodic update check",
				Action:             stop,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        StopDescription,
			},
			{
				Name:               "proxy-password",
				Usage:              "stores the proxy password in the keyring",
				Action:             proxyPassword,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        ProxyPasswordDescription,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of ffupdaterd",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      common.Help,
		HideHelp:    true,
		HideVersion: true,
	}
}

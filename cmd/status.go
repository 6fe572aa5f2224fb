package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/ffupdater/ffupdaterd/cmd/common"
	"github.com/ffupdater/ffupdaterd/internal/background"
	"github.com/ffupdater/ffupdaterd/internal/server"
)

var (
	watchStatus bool

	statusFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "watch, w",
			Usage:       "keep running and print the notifications of the daemon (default: false)",
			Destination: &watchStatus,
		},
	}
)

func status(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignals()

	var onNotification func(server.NotificationParams)
	if watchStatus {
		onNotification = func(n server.NotificationParams) {
			fmt.Println(formatNotification(n))
		}
	}
	dctx, cancel := context.WithTimeout(sigCtx, DEF_RPC_TIMEOUT)
	defer cancel()
	client, err := newClient(dctx, ctx, onNotification)
	if err != nil {
		common.PrintRuntimeErr(ctx, "status", "new_client", err)
		return nil
	}
	defer client.Close()

	st, err := client.Status(dctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "status", "get_status", err)
		return nil
	}
	fmt.Println(formatStatus(st))
	if !watchStatus {
		return nil
	}
	fmt.Println("\nWaiting for notifications, press Ctrl+C to exit.")
	<-sigCtx.Done()
	return nil
}

func formatStatus(st *background.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State:            %s\n", st.State)
	if st.Scheduled {
		fmt.Fprintf(&b, "Next run:         %s\n", st.NextRun.Local().Format(time.DateTime))
	} else {
		b.WriteString("Next run:         not scheduled\n")
	}
	if st.LastExecution.IsZero() {
		b.WriteString("Last execution:   never\n")
	} else {
		fmt.Fprintf(&b, "Last execution:   %s\n", st.LastExecution.Local().Format(time.DateTime))
	}
	fmt.Fprintf(&b, "Failed attempts:  %d\n", st.AttemptCount)
	fmt.Fprintf(&b, "Reliable:         %t\n", st.Reliable)
	fmt.Fprintf(&b, "Downloading:      %t\n", st.DownloadRunning)
	if st.ChainRunning {
		fmt.Fprintf(&b, "Updating:         %s (%d waiting)\n", st.ChainCurrent, st.ChainWaiting)
	}
	b.WriteString("\n")
	b.WriteString(statusTable(st.Apps))
	return b.String()
}

func formatNotification(n server.NotificationParams) string {
	s := fmt.Sprintf("[%s] %s", n.Kind, n.Title)
	if n.App != "" {
		s += " (" + n.App + ")"
	}
	if n.Body != "" {
		s += ": " + n.Body
	}
	return s
}

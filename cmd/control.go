package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/ffupdater/ffupdaterd/cmd/common"
	"github.com/ffupdater/ffupdaterd/pkg/ffcli"
)

func checkNow(ctx *cli.Context) error {
	return control(ctx, "check-now", "Update check started.", (*ffcli.Client).CheckNow)
}

func start(ctx *cli.Context) error {
	return control(ctx, "start", "Background update check scheduled.", (*ffcli.Client).Start)
}

func stop(ctx *cli.Context) error {
	return control(ctx, "stop", "Background update check stopped.", (*ffcli.Client).Stop)
}

func control(ctx *cli.Context, cmd, done string, call func(*ffcli.Client, context.Context) error) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	rctx, cancel := context.WithTimeout(context.Background(), DEF_RPC_TIMEOUT)
	defer cancel()

	client, err := newClient(rctx, ctx, nil)
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "new_client", err)
		return nil
	}
	defer client.Close()
	if err := call(client, rctx); err != nil {
		common.PrintRuntimeErr(ctx, cmd, "call", err)
		return nil
	}
	fmt.Println(done)
	return nil
}

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/ffupdater/ffupdaterd/cmd/common"
	"github.com/ffupdater/ffupdaterd/internal/settings"
)

var (
	errNoProxyUser = errors.New("network.proxy_user is not set")

	storeProxyPassword           = settings.StoreProxyPassword
	passwordInput      io.Reader = os.Stdin
)

func proxyPassword(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	s, _, err := loadSettings(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "proxy-password", "load_settings", err)
		return nil
	}
	if s.Network.ProxyUser == "" {
		common.PrintRuntimeErr(ctx, "proxy-password", "proxy_user", errNoProxyUser)
		return nil
	}
	fmt.Printf("Password for proxy user %s: ", s.Network.ProxyUser)
	line, err := bufio.NewReader(passwordInput).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		common.PrintRuntimeErr(ctx, "proxy-password", "read", err)
		return nil
	}
	pass := strings.TrimRight(line, "\r\n")
	if err := storeProxyPassword(s.Network.ProxyUser, pass); err != nil {
		common.PrintRuntimeErr(ctx, "proxy-password", "store", err)
		return nil
	}
	fmt.Println("\nProxy password saved to the keyring.")
	return nil
}

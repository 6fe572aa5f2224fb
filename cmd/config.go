package cmd

import "time"

// DEF_RPC_TIMEOUT bounds a single call to the daemon.
const DEF_RPC_TIMEOUT = 15 * time.Second

const DESCRIPTION = `
ffupdaterd keeps the applications you installed from GitHub releases
up to date. It periodically checks for new versions, downloads the
packages in the background and installs them one after another.
`

const (
	DaemonDescription = `The daemon command runs the background updater. It schedules the
periodic update check, retries failed checks with a growing delay
and serves the control endpoint when rpc.secret is set.

Example:
        ffupdaterd daemon

`
	CheckDescription = `The check command looks for updates of the tracked applications
once, in the foreground, and prints what it found. With --update
the outdated applications are downloaded and installed as well.

Example:
        ffupdaterd check
        ffupdaterd check --update

`
	DownloadDescription = `The download command fetches the latest package of one tracked
application into the package cache without installing it.

Example:
        ffupdaterd download <app id>

`
	StatusDescription = `The status command asks the running daemon for the state of the
background updater. With --watch it keeps the connection open and
prints the notifications the daemon sends.

Example:
        ffupdaterd status
        ffupdaterd status --watch

`
	CheckNowDescription = `The check-now command replaces the pending update check of the
running daemon with one that starts immediately.

Example:
        ffupdaterd check-now

`
	StartDescription = `The start command asks the running daemon to (re)schedule the
periodic update check using the current settings.

Example:
        ffupdaterd start

`
	StopDescription = `The stop command asks the running daemon to cancel the periodic
update check. A cycle already running is not interrupted.

Example:
        ffupdaterd stop

`
	ProxyPasswordDescription = `The proxy-password command reads the password of network.proxy_user
from standard input and stores it in the OS keyring, where the daemon
looks it up when it creates its HTTP client.

Example:
        ffupdaterd proxy-password

`
)

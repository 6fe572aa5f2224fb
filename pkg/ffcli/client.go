// Package ffcli is the client of the daemon control endpoint.
package ffcli

import (
	"context"
	"fmt"
	"net/http"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"

	"github.com/ffupdater/ffupdaterd/internal/background"
	"github.com/ffupdater/ffupdaterd/internal/server"
)

// Client calls the control methods over a websocket.
type Client struct {
	rpc *jrpc2.Client
}

// Options configures Dial.
type Options struct {
	// Secret is sent as bearer token.
	Secret string
	// OnNotification receives pushed notifications. Optional.
	OnNotification func(server.NotificationParams)
}

// Dial connects to the daemon listening on addr (host:port).
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	conn, _, err := cws.Dial(ctx, "ws://"+addr+"/jsonrpc/ws", &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + opts.Secret}},
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to daemon: %w", err)
	}
	var copts *jrpc2.ClientOptions
	if opts.OnNotification != nil {
		copts = &jrpc2.ClientOptions{
			OnNotify: func(req *jrpc2.Request) {
				if req.Method() != server.MethodNotification {
					return
				}
				var p server.NotificationParams
				if err := req.UnmarshalParams(&p); err == nil {
					opts.OnNotification(p)
				}
			},
		}
	}
	// the connection outlives the dial context
	ch := server.NewWSChannel(context.WithoutCancel(ctx), conn)
	return &Client{rpc: jrpc2.NewClient(ch, copts)}, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) Version(ctx context.Context) (*server.VersionResult, error) {
	var v server.VersionResult
	if err := c.rpc.CallResult(ctx, server.MethodGetVersion, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Status(ctx context.Context) (*background.Status, error) {
	var st background.Status
	if err := c.rpc.CallResult(ctx, server.MethodStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) IsReliable(ctx context.Context) (bool, error) {
	var r server.ReliableResult
	if err := c.rpc.CallResult(ctx, server.MethodIsReliable, nil, &r); err != nil {
		return false, err
	}
	return r.Reliable, nil
}

// CheckNow runs the update check right away.
func (c *Client) CheckNow(ctx context.Context) error {
	return c.call(ctx, server.MethodCheckNow)
}

func (c *Client) Start(ctx context.Context) error {
	return c.call(ctx, server.MethodStart)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, server.MethodStop)
}

func (c *Client) call(ctx context.Context, method string) error {
	_, err := c.rpc.Call(ctx, method, nil)
	return err
}

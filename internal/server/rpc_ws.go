package server

import (
	"context"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2/channel"
)

// wsChannel carries jrpc2 messages over one websocket connection.
type wsChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

// NewWSChannel wraps conn for jrpc2 clients and servers. Reads and writes
// stop when ctx ends.
func NewWSChannel(ctx context.Context, conn *cws.Conn) channel.Channel {
	return &wsChannel{conn: conn, ctx: ctx}
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}

package server

import (
	"context"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/ffupdater/ffupdaterd/internal/notify"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// Push notification methods sent to websocket clients.
const (
	MethodNotification = "updater.notification"
	MethodClear        = "updater.clear"
)

// NotificationParams are the params of MethodNotification.
type NotificationParams struct {
	Kind  string `json:"kind"`
	App   string `json:"app,omitempty"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// ClearParams are the params of MethodClear.
type ClearParams struct {
	Category int `json:"category"`
}

// RPCNotifier broadcasts push notifications to every connected websocket
// client. It is a notify.Sink.
type RPCNotifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	log     logger.Logger
}

func NewRPCNotifier(l logger.Logger) *RPCNotifier {
	return &RPCNotifier{
		servers: make(map[*jrpc2.Server]struct{}),
		log:     logger.OrNop(l),
	}
}

func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast pushes method to all registered servers. Servers that fail to
// receive it are dropped.
func (n *RPCNotifier) Broadcast(ctx context.Context, method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(ctx, method, params); err != nil {
			n.log.Warning("RPC push failed: %v", err)
			failed = append(failed, srv)
		}
	}
	if len(failed) == 0 {
		return
	}
	n.mu.Lock()
	for _, srv := range failed {
		delete(n.servers, srv)
	}
	n.mu.Unlock()
}

// Count returns the number of connected clients.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

func (n *RPCNotifier) Notify(ctx context.Context, nt notify.Notification) error {
	n.Broadcast(ctx, MethodNotification, NotificationParams{
		Kind:  nt.Kind.String(),
		App:   string(nt.App),
		Title: nt.Title,
		Body:  nt.Body,
	})
	return nil
}

func (n *RPCNotifier) Clear(ctx context.Context, c notify.Category) error {
	n.Broadcast(ctx, MethodClear, ClearParams{Category: int(c)})
	return nil
}

var _ notify.Sink = (*RPCNotifier)(nil)

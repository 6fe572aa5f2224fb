package server

import (
	"context"
	"net/http"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/ffupdater/ffupdaterd/internal/background"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// Control methods.
const (
	MethodGetVersion = "system.getVersion"
	MethodStatus     = "updater.status"
	MethodIsReliable = "updater.isReliable"
	MethodCheckNow   = "updater.checkNow"
	MethodStart      = "updater.start"
	MethodStop       = "updater.stop"
)

const codeInternal = jrpc2.Code(-32603)

// Controller schedules the background check.
type Controller interface {
	Start()
	ForceRestart()
	Stop()
}

// StatusReporter reports the state of the background machinery.
type StatusReporter interface {
	Status(ctx context.Context) (background.Status, error)
	IsReliablyExecuted(ctx context.Context) (bool, error)
}

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	// Secret is the bearer token. Empty disables the endpoint.
	Secret    string
	Version   string
	Commit    string
	BuildType string
}

// RPCServer serves the control methods over HTTP and websocket.
type RPCServer struct {
	methods   handler.Map
	bridge    jhttp.Bridge
	notifier  *RPCNotifier
	secret    string
	version   string
	commit    string
	buildType string
	ctl       Controller
	status    StatusReporter
	log       logger.Logger
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// ReliableResult is the response for updater.isReliable.
type ReliableResult struct {
	Reliable bool `json:"reliable"`
}

// EmptyResult is returned by methods without data.
type EmptyResult struct{}

func NewRPCServer(cfg *RPCConfig, ctl Controller, status StatusReporter, notifier *RPCNotifier, l logger.Logger) *RPCServer {
	if notifier == nil {
		notifier = NewRPCNotifier(l)
	}
	rs := &RPCServer{
		notifier:  notifier,
		secret:    cfg.Secret,
		version:   cfg.Version,
		commit:    cfg.Commit,
		buildType: cfg.BuildType,
		ctl:       ctl,
		status:    status,
		log:       logger.OrNop(l),
	}
	rs.methods = handler.Map{
		MethodGetVersion: handler.New(rs.systemGetVersion),
		MethodStatus:     handler.New(rs.updaterStatus),
		MethodIsReliable: handler.New(rs.updaterIsReliable),
		MethodCheckNow:   handler.New(rs.updaterCheckNow),
		MethodStart:      handler.New(rs.updaterStart),
		MethodStop:       handler.New(rs.updaterStop),
	}
	rs.bridge = jhttp.NewBridge(rs.methods, nil)
	return rs
}

// Notifier returns the push notifier of the websocket clients.
func (rs *RPCServer) Notifier() *RPCNotifier {
	return rs.notifier
}

// Handler returns the authenticated HTTP handler: JSON-RPC over POST at
// /jsonrpc and over a websocket at /jsonrpc/ws.
func (rs *RPCServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/jsonrpc", requireToken(rs.secret, rs.bridge))
	mux.Handle("/jsonrpc/ws", requireToken(rs.secret, http.HandlerFunc(rs.serveWS)))
	return mux
}

func (rs *RPCServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, nil)
	if err != nil {
		rs.log.Warning("RPC: websocket accept: %v", err)
		return
	}
	srv := jrpc2.NewServer(rs.methods, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(NewWSChannel(r.Context(), conn))
	rs.notifier.Register(srv)
	defer rs.notifier.Unregister(srv)
	if err := srv.Wait(); err != nil {
		rs.log.Debug("RPC: websocket client gone: %v", err)
	}
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{
		Version:   rs.version,
		Commit:    rs.commit,
		BuildType: rs.buildType,
	}, nil
}

func (rs *RPCServer) updaterStatus(ctx context.Context) (*background.Status, error) {
	st, err := rs.status.Status(ctx)
	if err != nil {
		return nil, &jrpc2.Error{Code: codeInternal, Message: err.Error()}
	}
	return &st, nil
}

func (rs *RPCServer) updaterIsReliable(ctx context.Context) (*ReliableResult, error) {
	ok, err := rs.status.IsReliablyExecuted(ctx)
	if err != nil {
		return nil, &jrpc2.Error{Code: codeInternal, Message: err.Error()}
	}
	return &ReliableResult{Reliable: ok}, nil
}

// updaterCheckNow cancels the pending check and runs it immediately.
func (rs *RPCServer) updaterCheckNow(_ context.Context) (*EmptyResult, error) {
	rs.ctl.ForceRestart()
	return &EmptyResult{}, nil
}

func (rs *RPCServer) updaterStart(_ context.Context) (*EmptyResult, error) {
	rs.ctl.Start()
	return &EmptyResult{}, nil
}

func (rs *RPCServer) updaterStop(_ context.Context) (*EmptyResult, error) {
	rs.ctl.Stop()
	return &EmptyResult{}, nil
}

// Close shuts down the HTTP bridge.
func (rs *RPCServer) Close() {
	rs.bridge.Close()
}

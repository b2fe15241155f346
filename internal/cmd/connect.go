package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/Iron-Ham/grove/internal/bridge"
	"github.com/Iron-Ham/grove/internal/config"
	"github.com/Iron-Ham/grove/internal/host"
	"github.com/Iron-Ham/grove/internal/logging"
	"github.com/Iron-Ham/grove/internal/session"
	"github.com/Iron-Ham/grove/internal/workspace"
)

// newService builds the workspace service used by serve and by commands
// that run without a server.
func newService(cfg *config.Config, root string, logger *logging.Logger) (*workspace.Service, error) {
	opts := []workspace.Option{workspace.WithLogger(logger)}
	if host.Available() {
		opts = append(opts, workspace.WithTerminal(host.NewTmux(host.WithTmuxLogger(logger))))
	}
	return workspace.New(root, cfg, opts...)
}

// connectWorkspace returns a client for the current workspace. A live
// socket server is used when there is one; otherwise the workspace is
// served in-process for the duration of the command. The returned func
// releases everything.
func connectWorkspace(ctx context.Context) (*bridge.Client, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	root, err := resolveRoot()
	if err != nil {
		return nil, nil, fmt.Errorf("not inside a git repository: %w", err)
	}

	layout := session.NewLayout(root, cfg.Paths.ResolveStateDir(root))
	if lock, ok := session.LiveServer(layout); ok && lock.Socket != "" {
		launcher := bridge.NewLauncher(cfg, bridge.WithClientVersion(Version))
		client, err := launcher.Connect(ctx, lock.Socket, root)
		if err == nil {
			return client, func() { _ = client.Close() }, nil
		}
	}

	logger := openLogger(cfg, root).WithComponent("cli")
	svc, err := newService(cfg, root, logger)
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	srv := bridge.New(svc, bridge.WithLogger(logger), bridge.WithVersion(Version))

	serverSide, clientSide := net.Pipe()
	go func() { _ = srv.ServeConn(context.WithoutCancel(ctx), serverSide) }()

	client := bridge.NewClient(clientSide, bridge.WithClientLogger(logger))
	release := func() {
		_ = client.Close()
		srv.Shutdown("command finished")
		_ = logger.Close()
	}
	if _, err := client.Initialize(ctx, Version, root); err != nil {
		release()
		return nil, nil, err
	}
	return client, release, nil
}

// callWorkspace runs one request against the current workspace.
func callWorkspace(ctx context.Context, method string, params, result any) error {
	client, release, err := connectWorkspace(ctx)
	if err != nil {
		return err
	}
	defer release()
	return client.Call(ctx, method, params, result)
}

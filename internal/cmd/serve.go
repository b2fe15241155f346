package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/grove/internal/bridge"
	"github.com/Iron-Ham/grove/internal/config"
	"github.com/Iron-Ham/grove/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workspace to editor clients",
	Long: `Serve the workspace over the grove bridge protocol: newline-delimited JSON
requests and notifications.

With --stdio the protocol runs over standard input and output, for an editor
that spawned this process. Otherwise the server listens on the workspace
socket, which is how 'grove call' and other clients find it.

Only one server may own a workspace. Logs go to the user cache directory,
never to standard output.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveStdio  bool
	serveForce  bool
	serveSocket string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "speak the protocol on stdin/stdout")
	serveCmd.Flags().BoolVar(&serveForce, "force", false, "allow --stdio on an interactive terminal")
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "socket path (default is derived from the workspace)")
}

// stdio joins stdin and stdout into one connection.
type stdio struct {
	io.Reader
	io.Writer
	in *os.File
}

func (s stdio) Close() error { return s.in.Close() }

func runServe(cmd *cobra.Command, args []string) error {
	if serveStdio && !serveForce && term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("refusing to serve on an interactive terminal; editors launch 'grove serve --stdio' themselves (use --force to override)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	root, err := resolveRoot()
	if err != nil {
		return fmt.Errorf("not inside a git repository: %w", err)
	}

	logger := openLogger(cfg, root).WithComponent("serve")
	defer func() { _ = logger.Close() }()

	socket := ""
	if !serveStdio {
		socket = serveSocket
		if socket == "" {
			socket = bridge.SocketPath(cfg.Bridge.SocketDir, root)
		}
	}

	layout := session.NewLayout(root, cfg.Paths.ResolveStateDir(root))
	lock, err := session.AcquireServerLock(layout, socket, logger)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	svc, err := newService(cfg, root, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		_ = svc.Close()
		return err
	}

	srv := bridge.New(svc, bridge.WithLogger(logger), bridge.WithVersion(Version))
	logger.Info("serving workspace", "root", root, "stdio", serveStdio, "socket", socket, "log", logPath(root))

	if serveStdio {
		err = srv.ServeConn(ctx, stdio{Reader: os.Stdin, Writer: os.Stdout, in: os.Stdin})
		srv.Shutdown("stdin closed")
		return err
	}

	ln, err := bridge.Listen(socket)
	if err != nil {
		srv.Shutdown("listen failed")
		return err
	}
	defer func() { _ = os.Remove(socket) }()

	err = srv.Serve(ctx, ln)
	srv.Shutdown("listener closed")
	srv.Wait()
	return err
}

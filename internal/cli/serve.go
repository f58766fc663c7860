package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/config"
	"github.com/ppiankov/tradeguard/internal/server"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the browser bridge server",
	Long:  "Runs the HTTP/websocket bridge that trading tabs connect to.\nEvery tab reports its trade buttons; the bridge enables or disables them and counts clicks.\nAlert webhooks in the config file are hot-reloaded.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg := server.ConfigFrom(rt.cfg, path)
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if _, err := os.Stat(path); err != nil {
		cfg.ConfigPath = ""
	}

	srv := server.New(rt.store, cfg,
		server.WithLogger(rt.log),
		server.WithDispatcher(alert.NewDispatcher(rt.cfg.Alerts, rt.log)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "tradeguard bridge listening on %s\n", cfg.Addr)
	fmt.Fprintf(os.Stderr, "Store: %s %s\n", rt.cfg.Store.Backend, rt.cfg.Store.Path)
	if cfg.ConfigPath != "" {
		fmt.Fprintf(os.Stderr, "Config: %s (alerts hot-reload enabled)\n", cfg.ConfigPath)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}

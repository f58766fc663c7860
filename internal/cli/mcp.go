package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/alert"
	tgmcp "github.com/ppiankov/tradeguard/internal/mcp"
)

var mcpAgent string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "mcp", "Agent name used in logs and alerts")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs tradeguard as an MCP (Model Context Protocol) server over stdio.\nExposes tools: tradeguard_status, tradeguard_attempt.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := tgmcp.New(rt.store, tgmcp.Config{Agent: mcpAgent, Version: version},
		tgmcp.WithLogger(rt.log),
		tgmcp.WithDispatcher(alert.NewDispatcher(rt.cfg.Alerts, rt.log)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "tradeguard MCP server running on stdio")
	return srv.Run(ctx)
}

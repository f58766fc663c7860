package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/config"
	"github.com/ppiankov/tradeguard/internal/logging"
	"github.com/ppiankov/tradeguard/internal/settings"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "tradeguard",
	Short:         "Daily trade limits and trading hours for browser trading",
	Long:          "Caps the number of trade actions per day and restricts trading to a time window.\nTrading tabs connect to the bridge server; bots use the Go SDK or the MCP tools.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.tradeguard/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errBlocked) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// runtime is what every command that touches the store needs.
type runtime struct {
	cfg   *config.Config
	log   *zap.Logger
	store *settings.Store
}

func openRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(cfg.StoreOptions(), log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	return &runtime{cfg: cfg, log: log, store: store}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.log.Warn("closing settings store", zap.Error(err))
	}
	_ = r.log.Sync()
}

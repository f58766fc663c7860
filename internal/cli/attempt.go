package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/metrics"
)

var attemptSource string

// errBlocked makes the command exit non-zero without a second message.
var errBlocked = errors.New("trade blocked")

func init() {
	rootCmd.AddCommand(attemptCmd)
	attemptCmd.Flags().StringVar(&attemptSource, "source", "cli", "Session name reported in alerts")
}

var attemptCmd = &cobra.Command{
	Use:   "attempt",
	Short: "Count one trade action if policy allows it",
	Long:  "Runs the same transactional check as a button click: the action is counted only if allowed.\nExits non-zero when blocked, so scripts can gate an order on it.",
	RunE:  runAttempt,
}

func runAttempt(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	dispatcher := alert.NewDispatcher(rt.cfg.Alerts, rt.log)
	defer dispatcher.Wait()

	g := gate.New(rt.store, gate.NewControlSet(nil),
		gate.WithLogger(rt.log),
		gate.WithObserver(metrics.Observer{}),
		gate.WithObserver(dispatcher.Observer(attemptSource)),
	)
	out, err := g.Attempt(cmd.Context(), gate.NewButton(attemptSource, nil))
	if err != nil {
		return fmt.Errorf("attempt not confirmed: %w", err)
	}

	w := cmd.OutOrStdout()
	if !out.Permitted {
		fmt.Fprintf(w, "BLOCKED: %s (%d / %d trades)\n", out.Decision.Reason.Describe(), out.Count, out.Max)
		return errBlocked
	}
	fmt.Fprintf(w, "ALLOWED: trade %d of %d today\n", out.Count, out.Max)
	return nil
}

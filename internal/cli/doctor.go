package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/config"
	"github.com/ppiankov/tradeguard/internal/settings"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and settings store health",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{
			label:  "tradeguard binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "tradeguard binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. Config file.
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, cfgErr := config.Load(path)
	switch {
	case cfgErr != nil:
		checks = append(checks, checkResult{
			label:  "config",
			ok:     false,
			detail: cfgErr.Error(),
			fix:    "edit " + path,
		})
	default:
		detail := path
		if _, err := os.Stat(path); err != nil {
			detail = "defaults (no " + path + ")"
		}
		checks = append(checks, checkResult{label: "config", ok: true, detail: detail})
	}

	// 3. Settings store, read and evaluated.
	if cfg != nil {
		checks = append(checks, checkStore(cmd.Context(), cfg)...)
	}

	return printChecks(cmd, checks)
}

func checkStore(ctx context.Context, cfg *config.Config) []checkResult {
	label := "store (" + cfg.Store.Backend + ")"
	store, err := settings.Open(cfg.StoreOptions(), nil)
	if err != nil {
		return []checkResult{{label: label, ok: false, detail: err.Error(), fix: "check store settings in config"}}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := store.Get(ctx)
	if err != nil {
		return []checkResult{{label: label, ok: false, detail: err.Error(), fix: "check the store is reachable"}}
	}

	st := settings.StatusOf(snap, time.Now())
	out := []checkResult{
		{label: label, ok: true, detail: "reachable"},
		{label: "usage", ok: true, detail: st.Summary()},
	}
	if st.Warning != "" {
		out = append(out, checkResult{
			label:  "trading window",
			ok:     false,
			detail: st.Warning + " (ignored, trading allowed)",
			fix:    "tradeguard settings set --start HH:MM --end HH:MM",
		})
	} else {
		out = append(out, checkResult{label: "trading window", ok: true, detail: "valid"})
	}
	return out
}

func printChecks(cmd *cobra.Command, checks []checkResult) error {
	w := cmd.OutOrStdout()
	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(w, line)
	}

	if hasFailures {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "All checks passed.")
	return nil
}

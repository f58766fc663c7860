package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/settings"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's trade usage and whether trading is allowed",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	snap, err := rt.store.Get(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	st := settings.StatusOf(snap, time.Now())
	if statusJSON {
		return printJSON(cmd.OutOrStdout(), st)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(w io.Writer, st settings.Status) {
	fmt.Fprintln(w, st.Summary())
	if st.Decision.Allowed {
		fmt.Fprintf(w, "Trading:  allowed (%d remaining)\n", st.Remaining)
	} else {
		fmt.Fprintf(w, "Trading:  blocked, %s\n", st.Decision.Reason.Describe())
	}
	if st.Window.Enabled {
		fmt.Fprintf(w, "Window:   %s-%s on %s\n", st.Window.Start, st.Window.End, formatDays(st.Window))
	} else {
		fmt.Fprintln(w, "Window:   off")
	}
	fmt.Fprintf(w, "Auto-close: %v\n", st.AutoClose)
	if st.OptionsLocked {
		fmt.Fprintf(w, "Options:  locked, change again in %s\n", st.UnlocksIn)
	}
	if st.Warning != "" {
		fmt.Fprintf(w, "Warning:  %s\n", st.Warning)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

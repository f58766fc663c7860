package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/policy"
	"github.com/ppiankov/tradeguard/internal/settings"
)

var (
	setMax       int
	setWindow    bool
	setStart     string
	setEnd       string
	setDays      string
	setAutoClose bool
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	addSetFlags(settingsSetCmd.Flags())
}

func addSetFlags(f *pflag.FlagSet) {
	f.IntVar(&setMax, "max", 0, "Maximum trade actions per day")
	f.BoolVar(&setWindow, "window", false, "Restrict trading to the time window")
	f.StringVar(&setStart, "start", "", "Window start, HH:MM")
	f.StringVar(&setEnd, "end", "", "Window end, HH:MM (before start wraps past midnight)")
	f.StringVar(&setDays, "days", "", "Allowed weekdays: mon,tue,... or 0-6 with 0 = Sunday")
	f.BoolVar(&setAutoClose, "auto-close", false, "Close the trading tab when trading is blocked")
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change trading limits",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"max_daily_actions":  snap.MaxDaily,
			"window_enabled":     snap.Window.Enabled,
			"window_start":       snap.Window.Start,
			"window_end":         snap.Window.End,
			"allowed_weekdays":   formatDays(snap.Window),
			"auto_close_enabled": snap.AutoClose,
			"options_locked":     st.OptionsLocked,
			"options_unlock_in":  st.UnlocksIn,
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Change trading limits (once per day)",
	Long:    "Changes only the flags given. Options can be changed once per calendar day;\nthe lock clears at local midnight.",
	Example: "  tradeguard settings set --max 3\n  tradeguard settings set --window --start 09:30 --end 16:00 --days mon,tue,wed,thu,fri",
	RunE:    runSettingsSet,
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	p, err := patchFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	if !p.TouchesConfig() {
		return errors.New("nothing to change; pass at least one flag")
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	dispatcher := alert.NewDispatcher(rt.cfg.Alerts, rt.log)
	defer dispatcher.Wait()

	if err := settings.SaveOptions(cmd.Context(), rt.store, p, time.Now()); err != nil {
		return err
	}
	dispatcher.Dispatch(alert.AlertEvent{
		Type:   alert.EventOptionsChanged,
		Detail: strings.Join(p.Keys(), ","),
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s\n", strings.Join(p.Keys(), ", "))
	return nil
}

// patchFromFlags builds a patch from the flags the user actually set.
func patchFromFlags(flags *pflag.FlagSet) (settings.Patch, error) {
	var p settings.Patch
	if flags.Changed("max") {
		p.MaxDaily = settings.Ptr(setMax)
	}
	if flags.Changed("window") {
		p.WindowEnabled = settings.Ptr(setWindow)
	}
	if flags.Changed("start") {
		p.WindowStart = settings.Ptr(setStart)
	}
	if flags.Changed("end") {
		p.WindowEnd = settings.Ptr(setEnd)
	}
	if flags.Changed("days") {
		days, err := parseDays(setDays)
		if err != nil {
			return p, err
		}
		p.AllowedWeekdays = &days
	}
	if flags.Changed("auto-close") {
		p.AutoClose = settings.Ptr(setAutoClose)
	}
	return p, settings.Validate(p)
}

var dayNames = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// parseDays accepts day names or numbers, comma separated. An empty string
// is an empty set.
func parseDays(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			if n < 0 || n > 6 {
				return nil, fmt.Errorf("weekday %d out of range 0-6", n)
			}
			out = append(out, n)
			continue
		}
		d, ok := lookupDay(part)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		out = append(out, d)
	}
	if out == nil {
		out = []int{}
	}
	return out, nil
}

// lookupDay accepts a full weekday name or any prefix of one at least three
// letters long ("tue", "thurs", "sunday").
func lookupDay(part string) (int, bool) {
	if len(part) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.HasPrefix(strings.ToLower(d.String()), part) {
			return int(d), true
		}
	}
	return 0, false
}

func formatDays(w policy.Window) string {
	if len(w.Days) == 0 {
		return "no days"
	}
	names := make([]string, 0, len(w.Days))
	for _, d := range policy.WeekdayInts(w.Days) {
		names = append(names, dayNames[d])
	}
	return strings.Join(names, ",")
}

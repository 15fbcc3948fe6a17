package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hyperbridge/internal/island"
	"hyperbridge/internal/settings"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		Aliases: []string{"s"},
		Short:   "Show or change per-app bridge settings",
	}
	cmd.AddCommand(
		newShowCmd(opts),
		newAllowCmd(opts),
		newDenyCmd(opts),
		newModeCmd(opts),
		newPriorityCmd(opts),
		newTypesCmd(opts),
		newAppearanceCmd(opts),
	)
	return cmd
}

// withService opens the store around fn.
func withService(opts *rootOptions, fn func(cmd *cobra.Command, svc *settings.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := opts.open(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(cmd, svc, args)
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: withService(opts, func(cmd *cobra.Command, svc *settings.Service, _ []string) error {
			v := svc.Current().View()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			return printView(cmd, v)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printView(cmd *cobra.Command, v settings.View) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "limit mode\t%s\n", v.Mode)
	fmt.Fprintf(w, "priority\t%s\n", orDash(strings.Join(v.Priority, ", ")))
	fmt.Fprintf(w, "global\tfloat=%t shade=%t timeout=%dms\n", v.Global.Float, v.Global.ShowShade, v.Global.TimeoutMS)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PACKAGE\tTYPES\tFLOAT\tSHADE\tTIMEOUT")
	for _, pkg := range v.Allowed {
		types := "all"
		if t, ok := v.Types[pkg]; ok {
			types = orDash(strings.Join(t, ","))
		}
		eff, ok := v.Apps[pkg]
		if !ok {
			eff = v.Global
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%dms\n", pkg, types, eff.Float, eff.ShowShade, eff.TimeoutMS)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newAllowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "allow <package>...",
		Short: "Bridge notifications from packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: withService(opts, func(cmd *cobra.Command, svc *settings.Service, args []string) error {
			for _, pkg := range args {
				if err := svc.Allow(cmd.Context(), pkg); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s\n", strings.Join(svc.Current().AllowedPackages(), ", "))
			return nil
		}),
	}
}

func newDenyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deny <package>...",
		Short: "Stop bridging notifications from packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: withService(opts, func(cmd *cobra.Command, svc *settings.Service, args []string) error {
			for _, pkg := range args {
				if err := svc.Deny(cmd.Context(), pkg); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s\n", orDash(strings.Join(svc.Current().AllowedPackages(), ", ")))
			return nil
		}),
	}
}

func newModeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "mode <FIRST_COME|MOST_RECENT|PRIORITY>",
		Short:     "Set what happens when the island limit is reached",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"FIRST_COME", "MOST_RECENT", "PRIORITY"},
		RunE: withService(opts, func(cmd *cobra.Command, svc *settings.Service, args []string) error {
			if err := svc.SetLimitMode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "limit mode: %s\n", svc.Current().LimitMode())
			return nil
		}),
	}
}

func newPriorityCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "priority [package]...",
		Short: "Set the app priority order, highest first (no args clears it)",
		RunE: withService(opts, func(cmd *cobra.Command, svc *settings.Service, args []string) error {
			if err := svc.SetPriorityOrder(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "priority: %s\n", orDash(strings.Join(svc.Current().PriorityOrder(), ", ")))
			return nil
		}),
	}
}

func newTypesCmd(opts *rootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "types <package> [TYPE]...",
		Short: "Limit which notification types of a package become islands",
		Long: `Limit which notification types of a package become islands.

Types: CALL, NAVIGATION, TIMER, PROGRESS, MEDIA, STANDARD.
Passing no types disables every type; --clear restores the default (all).`,
		Args: cobra.MinimumNArgs(1),
		RunE: withService(opts, func(cmd *cobra.Command, svc *settings.Service, args []string) error {
			pkg := args[0]
			if reset {
				if len(args) > 1 {
					return fmt.Errorf("--clear takes no types")
				}
				if err := svc.SetAppTypes(cmd.Context(), pkg, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: all types\n", pkg)
				return nil
			}
			types := make([]island.Type, 0, len(args)-1)
			for _, raw := range args[1:] {
				t, err := island.ParseType(raw)
				if err != nil {
					return err
				}
				types = append(types, t)
			}
			if err := svc.SetAppTypes(cmd.Context(), pkg, types); err != nil {
				return err
			}
			names := []string{}
			for _, t := range svc.Current().EnabledTypes(pkg) {
				names = append(names, t.String())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", pkg, orDash(strings.Join(names, ",")))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&reset, "clear", false, "remove the per-app type list")
	return cmd
}

func newAppearanceCmd(opts *rootOptions) *cobra.Command {
	var (
		global  bool
		float   bool
		shade   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "appearance [package]",
		Short: "Set float, shade and timeout for a package or globally",
		Long: `Set float, shade and timeout for a package or, with --global, for every app.

Flags that are not passed are cleared and inherit again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withService(opts, func(cmd *cobra.Command, svc *settings.Service, args []string) error {
			if global == (len(args) == 1) {
				return fmt.Errorf("pass either a package or --global")
			}
			var c island.Config
			if cmd.Flags().Changed("float") {
				c.Float = &float
			}
			if cmd.Flags().Changed("shade") {
				c.ShowShade = &shade
			}
			if cmd.Flags().Changed("timeout") {
				if timeout < 0 {
					return fmt.Errorf("timeout must be >= 0")
				}
				c.Timeout = &timeout
			}
			if c.IsZero() {
				return fmt.Errorf("nothing to set: pass --float, --shade or --timeout")
			}

			var (
				err error
				r   island.Resolved
			)
			if global {
				err = svc.SetGlobalAppearance(cmd.Context(), c)
				r = svc.Current().Resolve("")
			} else {
				err = svc.SetAppAppearance(cmd.Context(), args[0], c)
				r = svc.Current().Resolve(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "float=%t shade=%t timeout=%dms\n", r.Float, r.ShowShade, r.Timeout.Milliseconds())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&global, "global", false, "change the global appearance")
	cmd.Flags().BoolVar(&float, "float", true, "show the island as a floating popup")
	cmd.Flags().BoolVar(&shade, "shade", true, "keep the island in the notification shade")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "float timeout (e.g. 5s); 0 disables floating")
	return cmd
}

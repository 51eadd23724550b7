package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"estately/internal/profiles"
)

func newUpgradeCmd() *cobra.Command {
	var plan string
	var cancel bool

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Start or cancel a premium membership",
		Long:  "Premium members may publish unlimited listings and feature them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			var profile profiles.Profile
			if cancel {
				if err := client.RPC(cmd.Context(), "cancel_premium", nil, &profile); err != nil {
					return fmt.Errorf("cancel premium: %w", err)
				}
				fmt.Fprintln(out, "Premium membership cancelled.")
				return nil
			}

			if _, ok := profiles.Plan(plan).Duration(); !ok {
				return fmt.Errorf("plan must be monthly or yearly")
			}
			if err := client.RPC(cmd.Context(), "upgrade_premium", map[string]string{"plan": plan}, &profile); err != nil {
				return fmt.Errorf("upgrade premium: %w", err)
			}
			if profile.PremiumExpiresAt != nil {
				expires := *profile.PremiumExpiresAt
				fmt.Fprintf(out, "Premium (%s) active until %s (%s).\n", plan, expires.Local().Format("Jan 2, 2006"), humanize.Time(expires))
			} else {
				fmt.Fprintf(out, "Premium (%s) active.\n", plan)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&plan, "plan", string(profiles.PlanMonthly), "Billing period (monthly, yearly)")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "Cancel the current membership")
	return cmd
}

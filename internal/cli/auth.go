package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"estately/internal/profiles"
	"estately/internal/session"
)

func newLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			if err := p.fill(&email, "Email"); err != nil {
				return err
			}
			if err := p.fill(&password, "Password"); err != nil {
				return err
			}

			ctx := cmd.Context()
			m, _ := openSession(ctx)
			defer m.Close()

			if result := m.Login(ctx, email, password); !result.Success {
				return errors.New(result.ErrorMessage)
			}
			state, err := waitFor(ctx, m, signedInAs(email))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if profile := state.User.Profile; profile != nil {
				fmt.Fprintf(out, "Signed in as %s (%s, %s)\n", state.User.Email, profile.Name, profile.Role)
			} else {
				fmt.Fprintf(out, "Signed in as %s\n", state.User.Email)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted if omitted)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted if omitted)")
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var name, email, password, role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: "Create an account and its member profile. Sellers and landlords can publish listings;\n" +
			"buyers and renters can save favorites and contact owners.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			for _, field := range []struct {
				value *string
				label string
			}{
				{&name, "Name"},
				{&email, "Email"},
				{&password, "Password"},
			} {
				if err := p.fill(field.value, field.label); err != nil {
					return err
				}
			}
			memberRole := profiles.Role(strings.ToLower(role))
			if !memberRole.Valid() {
				return fmt.Errorf("role must be one of buyer, seller, renter, landlord")
			}

			ctx := cmd.Context()
			m, _ := openSession(ctx)
			defer m.Close()

			if !m.Register(ctx, name, email, password, memberRole) {
				return errors.New("registration failed; check the details and try again (use --debug for details)")
			}

			out := cmd.OutOrStdout()
			current, err := client.GetSession(ctx)
			if err != nil {
				return err
			}
			if current == nil {
				fmt.Fprintf(out, "Account created. Check %s for a confirmation link, then run `estately verify <token>`.\n", email)
				return nil
			}
			if _, err := waitFor(ctx, m, signedInAs(email)); err != nil {
				return err
			}
			fmt.Fprintf(out, "Account created for %s (%s). You are signed in.\n", email, memberRole)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (prompted if omitted)")
	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted if omitted)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted if omitted)")
	cmd.Flags().StringVar(&role, "role", string(profiles.RoleBuyer), "Member role (buyer, seller, renter, landlord)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, _ := openSession(ctx)
			defer m.Close()

			if result := m.Logout(ctx); !result.Success {
				return errors.New(result.ErrorMessage)
			}
			if _, err := waitFor(ctx, m, func(s session.State) bool { return !s.IsLoading && s.User == nil }); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, state := openSession(cmd.Context())
			defer m.Close()

			out := cmd.OutOrStdout()
			if !state.IsAuthenticated {
				fmt.Fprintln(out, "Not signed in.")
				return nil
			}

			user := state.User
			fmt.Fprintf(out, "Email:    %s\n", user.Email)
			fmt.Fprintf(out, "ID:       %s\n", user.ID)
			fmt.Fprintf(out, "Verified: %s\n", yesNo(user.EmailVerified))
			profile := user.Profile
			if profile == nil {
				fmt.Fprintln(out, "Profile:  not available")
				return nil
			}
			role := string(profile.Role)
			if profile.IsAdmin {
				role += " (admin)"
			}
			fmt.Fprintf(out, "Name:     %s\n", profile.Name)
			fmt.Fprintf(out, "Role:     %s\n", role)
			fmt.Fprintf(out, "Member:   %s\n", profile.PersonalID)
			switch {
			case !profile.PremiumActive(time.Now()):
				fmt.Fprintln(out, "Premium:  no")
			case profile.PremiumExpiresAt != nil:
				expires := *profile.PremiumExpiresAt
				fmt.Fprintf(out, "Premium:  yes, until %s (%s)\n", expires.Local().Format("Jan 2, 2006"), humanize.Time(expires))
			default:
				fmt.Fprintln(out, "Premium:  yes")
			}
			fmt.Fprintf(out, "Joined:   %s\n", humanize.Time(profile.CreatedAt))
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Confirm an email address with the token from the confirmation mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := client.VerifyEmail(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("verify email: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Email confirmed. Signed in as %s\n", current.User.Email)
			return nil
		},
	}
}

func newResetPasswordCmd() *cobra.Command {
	var email, token, password string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Request a password reset link, or complete a reset with --token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			p := newPrompter(cmd)

			if token != "" {
				if err := p.fill(&password, "New password"); err != nil {
					return err
				}
				if err := client.ResetPassword(ctx, token, password); err != nil {
					return fmt.Errorf("reset password: %w", err)
				}
				fmt.Fprintln(out, "Password updated. Sign in with your new password.")
				return nil
			}

			if err := p.fill(&email, "Email"); err != nil {
				return err
			}
			m, _ := openSession(ctx)
			defer m.Close()
			if result := m.ResetPassword(ctx, email); !result.Success {
				return errors.New(result.ErrorMessage)
			}
			fmt.Fprintf(out, "If an account exists for %s, a reset link is on its way.\n", email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted if omitted)")
	cmd.Flags().StringVar(&token, "token", "", "Reset token from the recovery mail")
	cmd.Flags().StringVar(&password, "password", "", "New password when completing a reset")
	return cmd
}

func newPasswdCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newPrompter(cmd).fill(&password, "New password"); err != nil {
				return err
			}

			ctx := cmd.Context()
			m, _ := openSession(ctx)
			defer m.Close()
			if result := m.UpdatePassword(ctx, password); !result.Success {
				return errors.New(result.ErrorMessage)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed.")
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "New password (prompted if omitted)")
	return cmd
}

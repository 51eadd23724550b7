package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"estately/internal/inquiries"
)

func newContactCmd() *cobra.Command {
	var name, email, phone, message string

	cmd := &cobra.Command{
		Use:   "contact <property_id>",
		Short: "Send a message to a listing's owner",
		Long:  "Send a contact request about a listing. Name and email default to the signed-in account.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid property id %q", args[0])
			}
			m, state, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			if email == "" {
				email = state.User.Email
			}
			if name == "" && state.User.Profile != nil {
				name = state.User.Profile.Name
			}
			if err := newPrompter(cmd).fill(&message, "Message"); err != nil {
				return err
			}

			var sent inquiries.ContactRequest
			err = client.From("contact_requests").Insert(cmd.Context(), map[string]any{
				"property_id": id,
				"name":        name,
				"email":       email,
				"phone":       phone,
				"message":     message,
			}, &sent)
			if err != nil {
				return fmt.Errorf("send contact request: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Message sent to the owner of %s (request %s).\n", sent.PropertyID, sent.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Your name (defaults to your profile name)")
	cmd.Flags().StringVar(&email, "email", "", "Reply address (defaults to your account email)")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message (prompted if omitted)")
	return cmd
}

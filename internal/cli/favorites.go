package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"estately/internal/favorites"
)

func newFavoritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"favs"},
		Short:   "Manage saved properties",
	}
	cmd.AddCommand(newFavoritesListCmd(), newFavoritesAddCmd(), newFavoritesRemoveCmd())
	return cmd
}

func newFavoritesListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			var rows []favorites.Favorite
			total, err := client.From("favorites").Range(offset, offset+limit-1).Select(cmd.Context(), &rows)
			if err != nil {
				return fmt.Errorf("list favorites: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No favorites yet.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-30s  %14s  %s\n", "PROPERTY", "TITLE", "PRICE", "SAVED")
			fmt.Fprintf(out, "%-36s  %-30s  %14s  %s\n", "--------", "-----", "-----", "-----")
			for _, fav := range rows {
				title, price := "(no longer available)", ""
				if fav.Property != nil {
					title, price = truncate(fav.Property.Title, 30), formatPrice(*fav.Property)
				}
				fmt.Fprintf(out, "%-36s  %-30s  %14s  %s\n", fav.PropertyID, title, price, humanize.Time(fav.CreatedAt))
			}

			if total > len(rows) {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(rows), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Rows per page")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newFavoritesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <property_id>",
		Short: "Save a property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid property id %q", args[0])
			}
			m, _, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			var saved favorites.Favorite
			if err := client.From("favorites").Insert(cmd.Context(), map[string]any{"property_id": id}, &saved); err != nil {
				return fmt.Errorf("save favorite: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to favorites.\n", saved.PropertyID)
			return nil
		},
	}
}

func newFavoritesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <property_id>",
		Aliases: []string{"rm"},
		Short:   "Forget a saved property",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid property id %q", args[0])
			}
			m, _, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			if err := client.From("favorites").Key(id).Delete(cmd.Context()); err != nil {
				return fmt.Errorf("remove favorite: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from favorites.\n", id)
			return nil
		},
	}
}

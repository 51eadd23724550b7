package cli

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"estately/internal/properties"
)

func newListingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "listings",
		Aliases: []string{"listing"},
		Short:   "Browse and manage property listings",
	}
	cmd.AddCommand(
		newListingsListCmd(),
		newListingsShowCmd(),
		newListingsCreateCmd(),
		newListingsUploadCmd(),
	)
	return cmd
}

func newListingsListCmd() *cobra.Command {
	var (
		city, listingType, propertyType, status, query, order string
		minPrice, maxPrice                                    float64
		minBedrooms, limit, offset                            int
		mine                                                  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("limit must be positive")
			}
			column, direction, _ := strings.Cut(order, ".")

			q := client.From("properties").
				Order(column, direction == "asc").
				Range(offset, offset+limit-1)
			for col, value := range map[string]string{
				"city":          city,
				"listing_type":  listingType,
				"property_type": propertyType,
				"status":        status,
			} {
				if value != "" {
					q.Eq(col, value)
				}
			}
			if mine {
				q.Eq("owner_id", "me")
			}
			if query != "" {
				q.Param("q", query)
			}
			if cmd.Flags().Changed("min-price") {
				q.Param("min_price", minPrice)
			}
			if cmd.Flags().Changed("max-price") {
				q.Param("max_price", maxPrice)
			}
			if cmd.Flags().Changed("min-bedrooms") {
				q.Param("min_bedrooms", minBedrooms)
			}

			var rows []properties.Property
			total, err := q.Select(cmd.Context(), &rows)
			if err != nil {
				return fmt.Errorf("list properties: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No listings found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-30s  %-16s  %14s  %4s  %s\n", "ID", "TITLE", "CITY", "PRICE", "BEDS", "LISTED")
			fmt.Fprintf(out, "%-36s  %-30s  %-16s  %14s  %4s  %s\n", "--", "-----", "----", "-----", "----", "------")
			for _, p := range rows {
				fmt.Fprintf(out, "%-36s  %-30s  %-16s  %14s  %4d  %s\n",
					p.ID, truncate(p.Title, 30), truncate(p.City, 16), formatPrice(p), p.Bedrooms, humanize.Time(p.CreatedAt))
			}

			if total > len(rows) {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(rows), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&city, "city", "", "Only listings in this city")
	cmd.Flags().StringVar(&listingType, "listing-type", "", "sale or rent")
	cmd.Flags().StringVar(&propertyType, "property-type", "", "house, apartment, condo, townhouse, land or commercial")
	cmd.Flags().StringVar(&status, "status", "", "Listing status")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search title, description and address")
	cmd.Flags().StringVar(&order, "order", "created_at.desc", "Sort as column.asc|desc (created_at, price, views)")
	cmd.Flags().Float64Var(&minPrice, "min-price", 0, "Minimum price")
	cmd.Flags().Float64Var(&maxPrice, "max-price", 0, "Maximum price")
	cmd.Flags().IntVar(&minBedrooms, "min-bedrooms", 0, "Minimum bedrooms")
	cmd.Flags().IntVar(&limit, "limit", 20, "Rows per page")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only my listings (requires login)")
	return cmd
}

func newListingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <property_id>",
		Short: "Show one property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid property id %q", args[0])
			}

			var p properties.Property
			if _, err := client.From("properties").Key(id).Select(cmd.Context(), &p); err != nil {
				return fmt.Errorf("get property: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", p.Title)
			fmt.Fprintf(out, "  ID:       %s\n", p.ID)
			fmt.Fprintf(out, "  Price:    %s (%s)\n", formatPrice(p), p.ListingType)
			layout := fmt.Sprintf("%s, %d bed / %d bath", p.PropertyType, p.Bedrooms, p.Bathrooms)
			if p.AreaSqm != nil {
				layout += fmt.Sprintf(", %s m²", humanize.Commaf(*p.AreaSqm))
			}
			fmt.Fprintf(out, "  Layout:   %s\n", layout)
			fmt.Fprintf(out, "  Status:   %s\n", p.Status)
			if p.Featured {
				fmt.Fprintln(out, "  Featured: yes")
			}
			fmt.Fprintf(out, "  Where:    %s\n", location(p))
			if p.Latitude != nil && p.Longitude != nil {
				fmt.Fprintf(out, "  Map:      %.5f, %.5f\n", *p.Latitude, *p.Longitude)
			}
			fmt.Fprintf(out, "  Views:    %s\n", humanize.Comma(int64(p.Views)))
			fmt.Fprintf(out, "  Listed:   %s\n", humanize.Time(p.CreatedAt))
			if len(p.Images) > 0 {
				fmt.Fprintln(out, "  Images:")
				for _, image := range p.Images {
					fmt.Fprintf(out, "    - %s\n", client.PublicURL(image))
				}
			}
			if p.Description != "" {
				fmt.Fprintf(out, "\n%s\n", p.Description)
			}
			return nil
		},
	}
}

func newListingsCreateCmd() *cobra.Command {
	var (
		title, description, listingType, propertyType, status string
		address, city, state, postalCode, country             string
		price, area                                           float64
		bedrooms, bathrooms                                   int
		featured                                              bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a new listing",
		Long:  "Publish a new listing. Free members may hold up to three open listings; premium members are unlimited.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			values := map[string]any{
				"title":         title,
				"description":   description,
				"listing_type":  listingType,
				"property_type": propertyType,
				"status":        status,
				"price":         price,
				"bedrooms":      bedrooms,
				"bathrooms":     bathrooms,
				"address":       address,
				"city":          city,
				"state":         state,
				"postal_code":   postalCode,
				"country":       country,
				"featured":      featured,
			}
			if cmd.Flags().Changed("area") {
				values["area_sqm"] = area
			}

			var created properties.Property
			if err := client.From("properties").Insert(cmd.Context(), values, &created); err != nil {
				return fmt.Errorf("create listing: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Listing created: %s\n", created.ID)
			fmt.Fprintf(out, "  %s in %s for %s\n", created.Title, created.City, formatPrice(created))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Listing title")
	cmd.Flags().StringVar(&description, "description", "", "Listing description")
	cmd.Flags().StringVar(&listingType, "listing-type", string(properties.ListingSale), "sale or rent")
	cmd.Flags().StringVar(&propertyType, "property-type", string(properties.TypeHouse), "house, apartment, condo, townhouse, land or commercial")
	cmd.Flags().StringVar(&status, "status", string(properties.StatusActive), "pending or active")
	cmd.Flags().Float64Var(&price, "price", 0, "Asking price, or monthly rent")
	cmd.Flags().Float64Var(&area, "area", 0, "Floor area in square meters")
	cmd.Flags().IntVar(&bedrooms, "bedrooms", 0, "Bedrooms")
	cmd.Flags().IntVar(&bathrooms, "bathrooms", 0, "Bathrooms")
	cmd.Flags().StringVar(&address, "address", "", "Street address")
	cmd.Flags().StringVar(&city, "city", "", "City")
	cmd.Flags().StringVar(&state, "state", "", "State or province")
	cmd.Flags().StringVar(&postalCode, "postal-code", "", "Postal code")
	cmd.Flags().StringVar(&country, "country", "", "Country")
	cmd.Flags().BoolVar(&featured, "featured", false, "Feature the listing (premium only)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("city")
	return cmd
}

func newListingsUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <property_id> <image>",
		Short: "Attach an image to a listing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer f.Close()

			contentType, err := detectContentType(f)
			if err != nil {
				return err
			}

			var updated properties.Property
			if err := client.Upload(cmd.Context(), args[0], filepath.Base(f.Name()), contentType, f, &updated); err != nil {
				return fmt.Errorf("upload image: %w", err)
			}
			if len(updated.Images) == 0 {
				return fmt.Errorf("upload image: server returned no images")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s: %s\n", filepath.Base(f.Name()), client.PublicURL(updated.Images[len(updated.Images)-1]))
			return nil
		},
	}
}

// detectContentType picks the image type from the extension, sniffing the
// first bytes when the extension is unknown. f is rewound afterwards.
func detectContentType(f *os.File) (string, error) {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name()))); ct != "" {
		return ct, nil
	}
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read image: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind image: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}

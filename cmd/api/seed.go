package main

import (
	"context"
	"fmt"
	"log/slog"

	"estately/internal/auth"
	"estately/internal/profiles"
	"estately/internal/properties"
)

const demoPassword = "estately-demo"

type demoAccount struct {
	email    string
	name     string
	role     profiles.Role
	listings []properties.CreateInput
}

// seedDemoData creates demo members and listings for the in-memory store.
func seedDemoData(ctx context.Context, authSvc *auth.Service, profileSvc *profiles.Service, propertySvc *properties.Service, logger *slog.Logger) error {
	for _, account := range demoAccounts() {
		signUp, err := authSvc.SignUp(ctx, account.email, demoPassword, "seed", "127.0.0.1")
		if err != nil {
			return fmt.Errorf("seed %s: %w", account.email, err)
		}
		profile, err := profileSvc.Create(ctx, signUp.User.ID, profiles.CreateInput{
			ID:      signUp.User.ID,
			Name:    account.name,
			Role:    account.role,
			IsAdmin: profiles.DefaultAdminForRole(account.role),
		})
		if err != nil {
			return fmt.Errorf("seed profile %s: %w", account.email, err)
		}
		for _, listing := range account.listings {
			if _, err := propertySvc.Create(ctx, profile, listing); err != nil {
				return fmt.Errorf("seed listing %q: %w", listing.Title, err)
			}
		}
		logger.Info("seeded demo account",
			"email", account.email,
			"role", account.role,
			"listings", len(account.listings),
			"needs_confirmation", signUp.Session == nil,
		)
	}
	logger.Info("demo accounts share one password", "password", demoPassword)
	return nil
}

func demoAccounts() []demoAccount {
	area := func(v float64) *float64 { return &v }
	coord := func(v float64) *float64 { return &v }

	return []demoAccount{
		{
			email: "seller@estately.test",
			name:  "Marta Ribeiro",
			role:  profiles.RoleSeller,
			listings: []properties.CreateInput{
				{
					Title:        "Bright two-bedroom in Alfama",
					Description:  "Renovated flat with river views, original tiles and a small balcony.",
					ListingType:  properties.ListingSale,
					PropertyType: properties.TypeApartment,
					Price:        385000,
					Bedrooms:     2,
					Bathrooms:    1,
					AreaSqm:      area(78),
					Address:      "Rua de São Miguel 12",
					City:         "Lisbon",
					PostalCode:   "1100-544",
					Country:      "Portugal",
					Latitude:     coord(38.71127),
					Longitude:    coord(-9.12962),
				},
				{
					Title:        "Family house with garden",
					Description:  "Detached four-bedroom house, quiet street, ten minutes from the beach.",
					ListingType:  properties.ListingSale,
					PropertyType: properties.TypeHouse,
					Price:        720000,
					Bedrooms:     4,
					Bathrooms:    3,
					AreaSqm:      area(210),
					Address:      "Avenida Marginal 480",
					City:         "Cascais",
					PostalCode:   "2750-642",
					Country:      "Portugal",
					Latitude:     coord(38.69790),
					Longitude:    coord(-9.42146),
				},
				{
					Title:        "Building plot near the coast",
					ListingType:  properties.ListingSale,
					PropertyType: properties.TypeLand,
					Price:        145000,
					AreaSqm:      area(1200),
					City:         "Ericeira",
					Country:      "Portugal",
					Latitude:     coord(38.96270),
					Longitude:    coord(-9.41571),
				},
			},
		},
		{
			email: "landlord@estately.test",
			name:  "Jonas Weber",
			role:  profiles.RoleLandlord,
			listings: []properties.CreateInput{
				{
					Title:        "Furnished studio by the university",
					Description:  "Compact studio, bills included, available from next month.",
					ListingType:  properties.ListingRent,
					PropertyType: properties.TypeApartment,
					Price:        950,
					Bedrooms:     0,
					Bathrooms:    1,
					AreaSqm:      area(32),
					Address:      "Rua Santa Catarina 301",
					City:         "Porto",
					PostalCode:   "4000-451",
					Country:      "Portugal",
					Latitude:     coord(41.15005),
					Longitude:    coord(-8.60580),
				},
				{
					Title:        "Townhouse with roof terrace",
					ListingType:  properties.ListingRent,
					PropertyType: properties.TypeTownhouse,
					Price:        2400,
					Bedrooms:     3,
					Bathrooms:    2,
					AreaSqm:      area(140),
					City:         "Porto",
					Country:      "Portugal",
					Latitude:     coord(41.14220),
					Longitude:    coord(-8.61100),
				},
			},
		},
		{
			email: "buyer@estately.test",
			name:  "Ana Costa",
			role:  profiles.RoleBuyer,
		},
	}
}

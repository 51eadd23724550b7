package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"estately/internal/properties"
)

func formatPrice(p properties.Property) string {
	price := "$" + humanize.Commaf(p.Price)
	if p.ListingType == properties.ListingRent {
		price += "/mo"
	}
	return price
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func location(p properties.Property) string {
	parts := make([]string, 0, 4)
	for _, part := range []string{p.Address, p.City, p.State, p.Country} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), noun)
}

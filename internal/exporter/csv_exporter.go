package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"estately/internal/properties"
)

// SchemaVersion identifies the CSV export format version.
// This version should be incremented when adding new columns or changing the format.
const SchemaVersion = "1"

// csvColumns defines the column order for export. These columns are a superset
// of the import format so an export can be re-imported unchanged.
var csvColumns = []string{
	"schema_version",
	"id",
	"title",
	"description",
	"listing_type",
	"property_type",
	"status",
	"price",
	"bedrooms",
	"bathrooms",
	"area_sqm",
	"address",
	"city",
	"state",
	"postal_code",
	"country",
	"latitude",
	"longitude",
	"featured",
	"images",
	"views",
	"created_at",
	"updated_at",
}

// CSVExporter exports listings to CSV format.
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes listings to the given writer in CSV format.
func (e *CSVExporter) Export(w io.Writer, listings []properties.Property) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, p := range listings {
		if err := writer.Write(propertyToRow(p)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func propertyToRow(p properties.Property) []string {
	return []string{
		SchemaVersion,
		p.ID.String(),
		p.Title,
		p.Description,
		string(p.ListingType),
		string(p.PropertyType),
		string(p.Status),
		strconv.FormatFloat(p.Price, 'f', 2, 64),
		strconv.Itoa(p.Bedrooms),
		strconv.Itoa(p.Bathrooms),
		formatOptionalFloat(p.AreaSqm, 2),
		p.Address,
		p.City,
		p.State,
		p.PostalCode,
		p.Country,
		formatOptionalFloat(p.Latitude, -1),
		formatOptionalFloat(p.Longitude, -1),
		strconv.FormatBool(p.Featured),
		strings.Join(p.Images, "|"),
		strconv.Itoa(p.Views),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	}
}

func formatOptionalFloat(value *float64, precision int) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', precision, 64)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"estately/internal/profiles"
	"estately/internal/properties"
)

// PropertyStore is the subset of the properties service the importer writes through.
type PropertyStore interface {
	Create(ctx context.Context, actor profiles.Profile, input properties.CreateInput) (properties.Property, error)
	List(ctx context.Context, viewer *profiles.Profile, opts properties.ListOptions) ([]properties.Property, int, error)
}

type Summary struct {
	TotalRows         int             `json:"total_rows"`
	Imported          int             `json:"imported"`
	SkippedDuplicates []SkippedRecord `json:"skipped_duplicates"`
	Failed            []FailedRecord  `json:"failed"`
	TruncatedRecords  bool            `json:"truncated_records,omitempty"`
}

type SkippedRecord struct {
	Row    int    `json:"row"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason"`
}

type FailedRecord struct {
	Row   int    `json:"row"`
	Title string `json:"title,omitempty"`
	Error string `json:"error"`
}

var ErrInvalidCSV = errors.New("invalid csv upload")

// MaxImportRows limits the number of data rows processed per CSV import.
const MaxImportRows = 1000

// MaxFailedRecords caps the number of failed/skipped records stored in the summary.
const MaxFailedRecords = 100

// ImageSeparator joins multiple image URLs inside the images column.
const ImageSeparator = "|"

const listPageSize = 100

var requiredColumns = []string{
	"title",
	"listing_type",
	"property_type",
	"price",
	"city",
}

type CSVImporter struct {
	properties PropertyStore
}

func NewCSVImporter(store PropertyStore) *CSVImporter {
	return &CSVImporter{properties: store}
}

// Import creates one listing per CSV row on behalf of actor. Rows matching an existing
// listing of the actor by title and address are skipped.
func (i *CSVImporter) Import(ctx context.Context, reader io.Reader, actor profiles.Profile) (Summary, error) {
	if i.properties == nil {
		return Summary{}, fmt.Errorf("%w: property store is not configured", ErrInvalidCSV)
	}

	existing, err := i.ownedListings(ctx, actor)
	if err != nil {
		return Summary{}, err
	}
	tracker := newDuplicateTracker(existing)

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Summary{}, fmt.Errorf("%w: file is empty", ErrInvalidCSV)
		}
		return Summary{}, fmt.Errorf("%w: failed to read header", ErrInvalidCSV)
	}

	columns, err := normalizeHeader(header)
	if err != nil {
		return Summary{}, err
	}

	type parsedRow struct {
		number int
		values map[string]string
	}

	var rows []parsedRow
	rowNumber := 1
	totalRows := 0

	for {
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Summary{}, fmt.Errorf("%w: failed to read row %d", ErrInvalidCSV, rowNumber+1)
		}
		rowNumber++
		values := mapRecord(columns, record)
		if isRowEmpty(values) {
			continue
		}

		totalRows++
		if totalRows > MaxImportRows {
			return Summary{}, fmt.Errorf("%w: CSV exceeds maximum of %d rows", ErrInvalidCSV, MaxImportRows)
		}

		rows = append(rows, parsedRow{number: rowNumber, values: values})
	}

	summary := Summary{TotalRows: totalRows}

	for _, row := range rows {
		input, rowErr := buildInput(row.values)
		if rowErr != nil {
			summary.fail(row.number, strings.TrimSpace(row.values["title"]), rowErr)
			continue
		}

		if reason, ok := tracker.Check(input); ok {
			if len(summary.SkippedDuplicates) < MaxFailedRecords {
				summary.SkippedDuplicates = append(summary.SkippedDuplicates, SkippedRecord{
					Row:    row.number,
					Title:  input.Title,
					Reason: reason,
				})
			} else {
				summary.TruncatedRecords = true
			}
			continue
		}

		if _, err := i.properties.Create(ctx, actor, input); err != nil {
			if errors.Is(err, properties.ErrForbidden) {
				return summary, err
			}
			summary.fail(row.number, input.Title, err)
			continue
		}

		tracker.Add(input.Title, input.Address, input.City)
		summary.Imported++
	}

	return summary, nil
}

func (s *Summary) fail(row int, title string, err error) {
	if len(s.Failed) >= MaxFailedRecords {
		s.TruncatedRecords = true
		return
	}
	s.Failed = append(s.Failed, FailedRecord{Row: row, Title: title, Error: err.Error()})
}

func (i *CSVImporter) ownedListings(ctx context.Context, actor profiles.Profile) ([]properties.Property, error) {
	var all []properties.Property
	for offset := 0; ; offset += listPageSize {
		page, total, err := i.properties.List(ctx, &actor, properties.ListOptions{
			OwnerID: &actor.ID,
			Offset:  offset,
			Limit:   listPageSize,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

func buildInput(values map[string]string) (properties.CreateInput, error) {
	input := properties.CreateInput{
		Title:        values["title"],
		Description:  values["description"],
		ListingType:  properties.ListingType(strings.ToLower(values["listing_type"])),
		PropertyType: properties.PropertyType(strings.ToLower(values["property_type"])),
		Status:       properties.Status(strings.ToLower(values["status"])),
		Address:      values["address"],
		City:         values["city"],
		State:        values["state"],
		PostalCode:   values["postal_code"],
		Country:      values["country"],
	}

	if input.Title == "" {
		return properties.CreateInput{}, fmt.Errorf("title is required")
	}

	price, err := strconv.ParseFloat(values["price"], 64)
	if err != nil {
		return properties.CreateInput{}, fmt.Errorf("price must be a number")
	}
	input.Price = price

	if input.Bedrooms, err = parseOptionalCount(values["bedrooms"], "bedrooms"); err != nil {
		return properties.CreateInput{}, err
	}
	if input.Bathrooms, err = parseOptionalCount(values["bathrooms"], "bathrooms"); err != nil {
		return properties.CreateInput{}, err
	}
	if input.AreaSqm, err = parseOptionalFloat(values["area_sqm"], "area_sqm"); err != nil {
		return properties.CreateInput{}, err
	}
	if input.Latitude, err = parseOptionalFloat(values["latitude"], "latitude"); err != nil {
		return properties.CreateInput{}, err
	}
	if input.Longitude, err = parseOptionalFloat(values["longitude"], "longitude"); err != nil {
		return properties.CreateInput{}, err
	}
	if input.Featured, err = parseOptionalBool(values["featured"], "featured"); err != nil {
		return properties.CreateInput{}, err
	}
	if raw := values["images"]; raw != "" {
		input.Images = strings.Split(raw, ImageSeparator)
	}

	return input, nil
}

func normalizeHeader(header []string) (map[int]string, error) {
	columns := make(map[int]string, len(header))
	seen := map[string]bool{}
	for idx, raw := range header {
		cleaned := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if cleaned == "" {
			continue
		}
		columns[idx] = cleaned
		seen[cleaned] = true
	}

	missing := make([]string, 0)
	for _, column := range requiredColumns {
		if !seen[column] {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrInvalidCSV, strings.Join(missing, ", "))
	}
	return columns, nil
}

func mapRecord(columns map[int]string, record []string) map[string]string {
	values := make(map[string]string, len(columns))
	for idx, column := range columns {
		if idx >= len(record) {
			values[column] = ""
			continue
		}
		values[column] = strings.TrimSpace(record[idx])
	}
	return values
}

func isRowEmpty(values map[string]string) bool {
	for column, value := range values {
		if column == "schema_version" {
			continue
		}
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

func parseOptionalCount(value string, field string) (int, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", field)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%s must be zero or greater", field)
	}
	return parsed, nil
}

func parseOptionalFloat(value string, field string) (*float64, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", field)
	}
	return &parsed, nil
}

func parseOptionalBool(value string, field string) (bool, error) {
	if value == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", field)
	}
	return parsed, nil
}

type duplicateTracker struct {
	known map[string]bool
}

func newDuplicateTracker(existing []properties.Property) *duplicateTracker {
	tracker := &duplicateTracker{known: map[string]bool{}}
	for _, p := range existing {
		tracker.Add(p.Title, p.Address, p.City)
	}
	return tracker
}

func duplicateKey(title, address, city string) string {
	norm := func(s string) string { return strings.Join(strings.Fields(strings.ToLower(s)), " ") }
	return norm(title) + "\x00" + norm(address) + "\x00" + norm(city)
}

func (t *duplicateTracker) Check(input properties.CreateInput) (string, bool) {
	if t.known[duplicateKey(input.Title, input.Address, input.City)] {
		return "duplicate listing", true
	}
	return "", false
}

func (t *duplicateTracker) Add(title, address, city string) {
	t.known[duplicateKey(title, address, city)] = true
}

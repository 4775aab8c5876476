// Package importer reads spreadsheet exports into raw rows and writes merged
// vehicle records back out as CSV, JSON or YAML.
package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/merge"
	"github.com/WessleyAI/vanfleet/pkg/fn"
)

// Format names an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown format")

// ParseFormat accepts csv, json, yaml and yml in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("importer: %w: %q", ErrUnknownFormat, s)
}

// Read parses CSV with a header line. Each following line becomes a row
// keyed by header name; lines with no non-empty cell are dropped. Short
// lines leave the missing columns empty and extra cells are ignored.
func Read(r io.Reader) ([]domain.RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("importer: read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []domain.RawRow
	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("importer: read line %d: %w", len(rows)+2, err)
		}
		row := make(domain.RawRow, len(header))
		for i, name := range header {
			if i < len(cells) {
				row[name] = cells[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return fn.Filter(rows, hasValue), nil
}

func hasValue(row domain.RawRow) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// Row is the flat export form of a record.
type Row struct {
	Key           string            `json:"van_number" yaml:"van_number"`
	Attributes    map[string]string `json:"attributes" yaml:"attributes"`
	Severity      int               `json:"severity" yaml:"severity"`
	Condition     string            `json:"condition" yaml:"condition"`
	Description   string            `json:"damage_description,omitempty" yaml:"damage_description,omitempty"`
	AffectedSides []string          `json:"affected_sides" yaml:"affected_sides"`
	Status        string            `json:"damage_status" yaml:"damage_status"`
	CreatedAt     time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Flatten converts a record to its export row.
func Flatten(rec domain.VehicleRecord) Row {
	sides := rec.Damage.AffectedSides.Strings()
	if sides == nil {
		sides = []string{}
	}
	return Row{
		Key:           rec.Key.String(),
		Attributes:    rec.Attributes,
		Severity:      rec.Damage.Severity,
		Condition:     string(rec.Damage.Condition()),
		Description:   rec.Damage.Description,
		AffectedSides: sides,
		Status:        string(rec.Damage.Status),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

// Write encodes records sorted by key.
func Write(w io.Writer, records map[domain.CanonicalKey]domain.VehicleRecord, format Format) error {
	keys := merge.SortedKeys(records)
	rows := fn.Map(keys, func(k domain.CanonicalKey) Row { return Flatten(records[k]) })

	switch format {
	case FormatCSV, "":
		return writeCSV(w, rows)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("importer: write json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("importer: write yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("importer: %w: %q", ErrUnknownFormat, format)
}

// damageColumns follow the attribute columns in CSV output.
var damageColumns = []string{"severity", "condition", "damage_summary", "affected_sides", "damage_status", "created_at", "updated_at"}

func writeCSV(w io.Writer, rows []Row) error {
	attrs := attributeColumns(rows)
	header := append(append([]string{domain.KeyField}, attrs...), damageColumns...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("importer: write csv: %w", err)
	}
	for _, r := range rows {
		line := make([]string, 0, len(header))
		line = append(line, r.Key)
		for _, a := range attrs {
			line = append(line, r.Attributes[a])
		}
		line = append(line,
			strconv.Itoa(r.Severity),
			r.Condition,
			r.Description,
			strings.Join(r.AffectedSides, ","),
			r.Status,
			r.CreatedAt.Format(time.RFC3339),
			r.UpdatedAt.Format(time.RFC3339),
		)
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("importer: write csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("importer: write csv: %w", err)
	}
	return nil
}

// attributeColumns returns the union of attribute names, well-known fields
// first in a fixed order and the rest sorted.
func attributeColumns(rows []Row) []string {
	known := []string{
		domain.FieldType, domain.FieldStatus, domain.FieldRating, domain.FieldDriver,
		domain.FieldDate, domain.FieldLastUpdated, domain.FieldURL, domain.FieldNotes,
		domain.FieldDamage, domain.FieldDamageDescription, domain.FieldVanRating, domain.FieldDamageLevel,
	}
	present := make(map[string]bool)
	for _, r := range rows {
		for k := range r.Attributes {
			present[k] = true
		}
	}
	cols := fn.Filter(known, func(k string) bool { return present[k] })
	var extra []string
	for k := range present {
		if !slices.Contains(known, k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	return append(cols, extra...)
}

// Marshal is Write into a byte slice.
func Marshal(records map[domain.CanonicalKey]domain.VehicleRecord, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, records, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

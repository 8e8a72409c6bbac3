package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/shared"
)

var tableColumns = map[string]string{
	"name":                "name",
	"product":             "name",
	"retail":              "retail",
	"retail_price":        "retail",
	"wholesale":           "wholesale",
	"wholesale_price":     "wholesale",
	"vip":                 "vip",
	"vip_price":           "vip",
	"threshold":           "threshold",
	"wholesale_threshold": "threshold",
}

// ParseTable reads a CSV price table with a header row. Recognised columns are
// name, retail, wholesale, vip and threshold; the threshold column is optional.
func ParseTable(r io.Reader) ([]TableRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty table", shared.ErrInvalidProduct)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", shared.ErrInvalidProduct, err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		key, ok := tableColumns[strings.ToLower(strings.TrimSpace(col))]
		if !ok {
			continue
		}
		index[key] = i
	}
	for _, required := range []string{"name", "retail", "wholesale", "vip"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", shared.ErrInvalidProduct, required)
		}
	}

	var rows []TableRow
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", shared.ErrInvalidProduct, line, err)
		}
		row := TableRow{Name: strings.TrimSpace(field(record, index, "name"))}
		if row.Name == "" {
			continue
		}
		if row.RetailPrice, err = parseAmount(field(record, index, "retail")); err != nil {
			return nil, fmt.Errorf("line %d retail: %w", line, err)
		}
		if row.WholesalePrice, err = parseAmount(field(record, index, "wholesale")); err != nil {
			return nil, fmt.Errorf("line %d wholesale: %w", line, err)
		}
		if row.VIPPrice, err = parseAmount(field(record, index, "vip")); err != nil {
			return nil, fmt.Errorf("line %d vip: %w", line, err)
		}
		if raw := field(record, index, "threshold"); strings.TrimSpace(raw) != "" {
			if row.WholesaleThreshold, err = decimal.NewFromString(strings.TrimSpace(raw)); err != nil {
				return nil, fmt.Errorf("%w: line %d threshold %q", shared.ErrInvalidQuantity, line, raw)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func field(record []string, index map[string]int, key string) string {
	i, ok := index[key]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", shared.ErrInvalidAmount, raw)
	}
	return v, nil
}

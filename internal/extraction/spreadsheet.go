package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SpreadsheetConverter reads XLSX exports laid out as a block of
// "Label | Value" rows followed by a line table whose header row contains a
// "Description" column. It needs no external service, so the prompt is unused.
type SpreadsheetConverter struct{}

func NewSpreadsheetConverter() *SpreadsheetConverter { return &SpreadsheetConverter{} }

var headerFields = map[string]string{
	"po number":      "po_number",
	"po no":          "po_number",
	"purchase order": "po_number",
	"supplier":       "supplier_name",
	"supplier name":  "supplier_name",
	"vendor":         "supplier_name",
	"order date":     "order_date",
	"currency":       "currency",
	"total":          "total",
	"order total":    "total",
	"receipt number": "receipt_number",
	"grn number":     "receipt_number",
	"grn":            "receipt_number",
	"received date":  "received_date",
	"date received":  "received_date",
}

var lineColumns = map[string]string{
	"sku":               "sku",
	"item code":         "sku",
	"description":       "description",
	"quantity":          "quantity",
	"qty":               "quantity",
	"unit price":        "unit_price",
	"price":             "unit_price",
	"quantity received": "quantity_received",
	"qty received":      "quantity_received",
	"received":          "quantity_received",
	"quantity rejected": "quantity_rejected",
	"qty rejected":      "quantity_rejected",
	"rejected":          "quantity_rejected",
}

var numericFields = map[string]bool{
	"total":             true,
	"quantity":          true,
	"unit_price":        true,
	"quantity_received": true,
	"quantity_rejected": true,
}

func (c *SpreadsheetConverter) Convert(_ context.Context, data []byte, _, _ string) (json.RawMessage, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, Permanent(fmt.Errorf("open spreadsheet: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, Permanent(fmt.Errorf("%w: workbook has no sheets", ErrUnsupportedFormat))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, Permanent(fmt.Errorf("read rows: %w", err))
	}

	record := map[string]any{}
	var (
		columns []string
		lines   []map[string]any
	)
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		if columns == nil {
			if cols, ok := lineHeader(row); ok {
				columns = cols
				continue
			}
			if len(row) >= 2 {
				if field, ok := headerFields[normalizeLabel(row[0])]; ok {
					v, err := cellValue(field, row[1])
					if err != nil {
						return nil, Permanent(err)
					}
					record[field] = v
				}
			}
			continue
		}

		// footer rows such as "Total | 120.00" below the table
		if field, ok := headerFields[normalizeLabel(row[0])]; ok && len(row) >= 2 {
			v, err := cellValue(field, row[1])
			if err != nil {
				return nil, Permanent(err)
			}
			record[field] = v
			continue
		}

		line := map[string]any{}
		for i, field := range columns {
			if field == "" || i >= len(row) || strings.TrimSpace(row[i]) == "" {
				continue
			}
			v, err := cellValue(field, row[i])
			if err != nil {
				return nil, Permanent(err)
			}
			line[field] = v
		}
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}

	if columns == nil {
		return nil, Permanent(fmt.Errorf("%w: no line table header found", ErrUnsupportedFormat))
	}
	record["lines"] = lines

	out, err := json.Marshal(record)
	if err != nil {
		return nil, Permanent(err)
	}
	return out, nil
}

func lineHeader(row []string) ([]string, bool) {
	cols := make([]string, len(row))
	hasDescription := false
	for i, cell := range row {
		field := lineColumns[normalizeLabel(cell)]
		cols[i] = field
		if field == "description" {
			hasDescription = true
		}
	}
	return cols, hasDescription
}

func cellValue(field, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if !numericFields[field] {
		return raw, nil
	}
	clean := strings.NewReplacer(",", "", " ", "").Replace(raw)
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a number", ErrInvalidPayload, field, raw)
	}
	return v, nil
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ":")
	s = strings.ReplaceAll(s, ".", "")
	return strings.Join(strings.Fields(s), " ")
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

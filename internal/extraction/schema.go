package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"doc-ingest-service/internal/entity"
)

const datePattern = `^\d{4}-\d{2}-\d{2}$`

// SchemaFor returns the JSON Schema a payload of category must satisfy.
func SchemaFor(c entity.Category) (map[string]any, error) {
	switch c {
	case entity.CategoryPurchaseOrder:
		return purchaseOrderSchema(), nil
	case entity.CategoryGoodsReceipt:
		return goodsReceiptSchema(), nil
	}
	return nil, fmt.Errorf("no schema for category %q", c)
}

func purchaseOrderSchema() map[string]any {
	line := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"sku":         map[string]any{"type": "string"},
			"description": map[string]any{"type": "string", "minLength": 1},
			"quantity":    map[string]any{"type": "number"},
			"unit_price":  map[string]any{"type": "number"},
		},
		"required": []string{"description", "quantity", "unit_price"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"po_number":     map[string]any{"type": "string", "minLength": 1},
			"supplier_name": map[string]any{"type": "string", "minLength": 1},
			"order_date":    map[string]any{"type": "string", "pattern": datePattern},
			"currency":      map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
			"lines":         map[string]any{"type": "array", "minItems": 1, "items": line},
			"total":         map[string]any{"type": "number"},
		},
		"required": []string{"po_number", "supplier_name", "order_date", "currency", "lines"},
	}
}

func goodsReceiptSchema() map[string]any {
	line := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"sku":               map[string]any{"type": "string"},
			"description":       map[string]any{"type": "string", "minLength": 1},
			"quantity_received": map[string]any{"type": "number"},
			"quantity_rejected": map[string]any{"type": "number"},
		},
		"required": []string{"description", "quantity_received"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"receipt_number": map[string]any{"type": "string", "minLength": 1},
			"po_number":      map[string]any{"type": "string"},
			"supplier_name":  map[string]any{"type": "string", "minLength": 1},
			"received_date":  map[string]any{"type": "string", "pattern": datePattern},
			"lines":          map[string]any{"type": "array", "minItems": 1, "items": line},
		},
		"required": []string{"receipt_number", "supplier_name", "received_date", "lines"},
	}
}

var compiled sync.Map // entity.Category -> *jsonschema.Schema

func compiledSchema(c entity.Category) (*jsonschema.Schema, error) {
	if s, ok := compiled.Load(c); ok {
		return s.(*jsonschema.Schema), nil
	}
	schemaMap, err := SchemaFor(c)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := string(c) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled.Store(c, schema)
	return schema, nil
}

// ValidateShape checks data against the category schema. Any mismatch is a
// permanent error: retrying the same file will not change its shape.
func ValidateShape(c entity.Category, data []byte) error {
	schema, err := compiledSchema(c)
	if err != nil {
		return Permanent(err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Permanent(fmt.Errorf("%w: not json: %v", ErrInvalidPayload, err))
	}
	if err := schema.Validate(v); err != nil {
		return Permanent(fmt.Errorf("%w: json does not match schema: %v", ErrInvalidPayload, err))
	}
	return nil
}

package extraction

import (
	"encoding/json"
	"strings"

	"doc-ingest-service/internal/entity"
)

// BuildPrompt composes the instruction sent with every file of category c.
// The category schema is embedded so the collaborator returns the exact shape.
func BuildPrompt(c entity.Category) string {
	var subject string
	var rules []string
	switch c {
	case entity.CategoryPurchaseOrder:
		subject = "You are a purchase order parser."
		rules = []string{
			"Copy the PO number exactly as printed.",
			"supplier_name is the selling party, not the buyer.",
			"quantity and unit_price are plain numbers without currency symbols.",
			"Include 'total' only if an order total is printed.",
		}
	case entity.CategoryGoodsReceipt:
		subject = "You are a goods receipt (GRN) parser."
		rules = []string{
			"Copy the receipt number exactly as printed.",
			"Include the referenced PO number when present.",
			"quantity_rejected defaults to 0 when the document shows no rejections.",
		}
	default:
		subject = "You are a document parser."
	}

	parts := []string{
		subject,
		"Return ONLY JSON that matches the provided JSON Schema.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Never output null. If an optional field is not present, omit it.",
	}
	parts = append(parts, rules...)

	if schema, err := SchemaFor(c); err == nil {
		if b, err := json.Marshal(schema); err == nil {
			parts = append(parts, "JSON Schema: "+string(b))
		}
	}
	return strings.Join(parts, " ")
}

package entity

import "strings"

// Category selects which domain entity a job materializes into.
type Category string

const (
	CategoryPurchaseOrder Category = "purchase-order"
	CategoryGoodsReceipt  Category = "goods-receipt"
)

var AllCategories = []Category{CategoryPurchaseOrder, CategoryGoodsReceipt}

func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts the canonical value plus a few spellings seen in uploads.
func ParseCategory(s string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("_", "-", " ", "-").Replace(normalized)

	switch normalized {
	case "purchase-order", "po", "purchase-orders":
		return CategoryPurchaseOrder, true
	case "goods-receipt", "grn", "goods-receipts", "goods-received-note":
		return CategoryGoodsReceipt, true
	}
	return "", false
}

// Status is one row of the status reference table. The same code may carry
// a different display name per category, so rows are keyed by (Code, Category).
type Status struct {
	Code        JobStatus `json:"code"`
	Category    Category  `json:"category"`
	DisplayName string    `json:"display_name"`
}

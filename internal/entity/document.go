package entity

import (
	"time"

	"github.com/google/uuid"
)

// Document is a materialized domain record produced from one processed job.
type Document interface {
	DocumentID() uuid.UUID
	Category() Category
}

type PurchaseOrder struct {
	ID           uuid.UUID           `json:"id"`
	JobID        uuid.UUID           `json:"job_id"`
	PONumber     string              `json:"po_number"`
	SupplierName string              `json:"supplier_name"`
	OrderDate    time.Time           `json:"order_date"`
	Currency     string              `json:"currency"`
	TotalAmount  float64             `json:"total_amount"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	Lines        []PurchaseOrderLine `json:"lines"`
}

type PurchaseOrderLine struct {
	LineNo      int     `json:"line_no"`
	SKU         string  `json:"sku,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

func (p *PurchaseOrder) DocumentID() uuid.UUID { return p.ID }
func (p *PurchaseOrder) Category() Category    { return CategoryPurchaseOrder }

type GoodsReceipt struct {
	ID            uuid.UUID          `json:"id"`
	JobID         uuid.UUID          `json:"job_id"`
	ReceiptNumber string             `json:"receipt_number"`
	PONumber      string             `json:"po_number,omitempty"`
	SupplierName  string             `json:"supplier_name"`
	ReceivedDate  time.Time          `json:"received_date"`
	CreatedBy     string             `json:"created_by"`
	CreatedAt     time.Time          `json:"created_at"`
	Lines         []GoodsReceiptLine `json:"lines"`
}

type GoodsReceiptLine struct {
	LineNo           int     `json:"line_no"`
	SKU              string  `json:"sku,omitempty"`
	Description      string  `json:"description"`
	QuantityReceived float64 `json:"quantity_received"`
	QuantityRejected float64 `json:"quantity_rejected"`
}

func (g *GoodsReceipt) DocumentID() uuid.UUID { return g.ID }
func (g *GoodsReceipt) Category() Category    { return CategoryGoodsReceipt }

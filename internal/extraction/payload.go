package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
)

var validate = validator.New()

type PurchaseOrderPayload struct {
	PONumber     string                     `json:"po_number" validate:"required"`
	SupplierName string                     `json:"supplier_name" validate:"required"`
	OrderDate    string                     `json:"order_date" validate:"required,datetime=2006-01-02"`
	Currency     string                     `json:"currency" validate:"required,len=3,alpha"`
	Lines        []PurchaseOrderLinePayload `json:"lines" validate:"required,min=1,dive"`
	Total        *float64                   `json:"total,omitempty" validate:"omitempty,gte=0"`
}

type PurchaseOrderLinePayload struct {
	SKU         string  `json:"sku,omitempty"`
	Description string  `json:"description" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

type GoodsReceiptPayload struct {
	ReceiptNumber string                    `json:"receipt_number" validate:"required"`
	PONumber      string                    `json:"po_number,omitempty"`
	SupplierName  string                    `json:"supplier_name" validate:"required"`
	ReceivedDate  string                    `json:"received_date" validate:"required,datetime=2006-01-02"`
	Lines         []GoodsReceiptLinePayload `json:"lines" validate:"required,min=1,dive"`
}

type GoodsReceiptLinePayload struct {
	SKU              string  `json:"sku,omitempty"`
	Description      string  `json:"description" validate:"required"`
	QuantityReceived float64 `json:"quantity_received" validate:"gte=0"`
	QuantityRejected float64 `json:"quantity_rejected" validate:"gte=0,ltefield=QuantityReceived"`
}

// totalTolerance absorbs rounding of printed line amounts.
const totalTolerance = 0.01

// Decode validates raw against the category schema and semantic rules and
// builds the typed document for jobID. Every failure is permanent.
func Decode(c entity.Category, jobID uuid.UUID, createdBy string, raw []byte) (entity.Document, error) {
	if err := ValidateShape(c, raw); err != nil {
		return nil, err
	}

	switch c {
	case entity.CategoryPurchaseOrder:
		var p PurchaseOrderPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
		return p.toDocument(jobID, createdBy)
	case entity.CategoryGoodsReceipt:
		var p GoodsReceiptPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
		return p.toDocument(jobID, createdBy)
	}
	return nil, Permanent(fmt.Errorf("%w: unknown category %q", ErrInvalidPayload, c))
}

func (p *PurchaseOrderPayload) toDocument(jobID uuid.UUID, createdBy string) (*entity.PurchaseOrder, error) {
	if err := validate.Struct(p); err != nil {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	orderDate, _ := time.Parse(time.DateOnly, p.OrderDate)

	po := &entity.PurchaseOrder{
		ID:           uuid.New(),
		JobID:        jobID,
		PONumber:     strings.TrimSpace(p.PONumber),
		SupplierName: strings.TrimSpace(p.SupplierName),
		OrderDate:    orderDate,
		Currency:     strings.ToUpper(p.Currency),
		CreatedBy:    createdBy,
	}
	var sum float64
	for i, l := range p.Lines {
		amount := round2(l.Quantity * l.UnitPrice)
		sum += amount
		po.Lines = append(po.Lines, entity.PurchaseOrderLine{
			LineNo:      i + 1,
			SKU:         strings.TrimSpace(l.SKU),
			Description: strings.TrimSpace(l.Description),
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Amount:      amount,
		})
	}
	po.TotalAmount = round2(sum)

	if p.Total != nil && math.Abs(*p.Total-po.TotalAmount) > totalTolerance {
		return nil, Permanent(fmt.Errorf("%w: total %.2f does not match line sum %.2f", ErrInvalidPayload, *p.Total, po.TotalAmount))
	}
	return po, nil
}

func (p *GoodsReceiptPayload) toDocument(jobID uuid.UUID, createdBy string) (*entity.GoodsReceipt, error) {
	if err := validate.Struct(p); err != nil {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	received, _ := time.Parse(time.DateOnly, p.ReceivedDate)

	gr := &entity.GoodsReceipt{
		ID:            uuid.New(),
		JobID:         jobID,
		ReceiptNumber: strings.TrimSpace(p.ReceiptNumber),
		PONumber:      strings.TrimSpace(p.PONumber),
		SupplierName:  strings.TrimSpace(p.SupplierName),
		ReceivedDate:  received,
		CreatedBy:     createdBy,
	}
	for i, l := range p.Lines {
		gr.Lines = append(gr.Lines, entity.GoodsReceiptLine{
			LineNo:           i + 1,
			SKU:              strings.TrimSpace(l.SKU),
			Description:      strings.TrimSpace(l.Description),
			QuantityReceived: l.QuantityReceived,
			QuantityRejected: l.QuantityRejected,
		})
	}
	return gr, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package extraction

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest-service/internal/entity"
)

const validPO = `{
  "po_number": "PO-2026-0042",
  "supplier_name": "Acme Fasteners",
  "order_date": "2026-02-14",
  "currency": "eur",
  "lines": [
    {"sku": "B-10", "description": "Hex bolt M10", "quantity": 100, "unit_price": 0.35},
    {"description": "Washer", "quantity": 3, "unit_price": 1.333}
  ],
  "total": 39.0
}`

func TestDecode_PurchaseOrder(t *testing.T) {
	jobID := uuid.New()
	doc, err := Decode(entity.CategoryPurchaseOrder, jobID, "user-7", []byte(validPO))
	require.NoError(t, err)

	po, ok := doc.(*entity.PurchaseOrder)
	require.True(t, ok)
	assert.Equal(t, jobID, po.JobID)
	assert.Equal(t, "EUR", po.Currency)
	assert.Equal(t, "user-7", po.CreatedBy)
	assert.Equal(t, 2026, po.OrderDate.Year())
	require.Len(t, po.Lines, 2)
	assert.Equal(t, 1, po.Lines[0].LineNo)
	assert.InDelta(t, 35.0, po.Lines[0].Amount, 0.001)
	assert.InDelta(t, 4.0, po.Lines[1].Amount, 0.001)
	assert.InDelta(t, 39.0, po.TotalAmount, 0.001)
	assert.NotEqual(t, uuid.Nil, po.ID)
}

func TestDecode_RejectsTotalMismatch(t *testing.T) {
	raw := strings.Replace(validPO, `"total": 39.0`, `"total": 50.0`, 1)
	_, err := Decode(entity.CategoryPurchaseOrder, uuid.New(), "u", []byte(raw))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestDecode_ShapeErrorsArePermanent(t *testing.T) {
	cases := map[string]string{
		"not json":         `<html>`,
		"missing lines":    `{"po_number":"1","supplier_name":"s","order_date":"2026-01-01","currency":"EUR"}`,
		"empty lines":      `{"po_number":"1","supplier_name":"s","order_date":"2026-01-01","currency":"EUR","lines":[]}`,
		"unknown field":    `{"po_number":"1","supplier_name":"s","order_date":"2026-01-01","currency":"EUR","lines":[{"description":"x","quantity":1,"unit_price":1}],"tax":3}`,
		"bad date":         `{"po_number":"1","supplier_name":"s","order_date":"14/02/2026","currency":"EUR","lines":[{"description":"x","quantity":1,"unit_price":1}]}`,
		"zero quantity":    `{"po_number":"1","supplier_name":"s","order_date":"2026-01-01","currency":"EUR","lines":[{"description":"x","quantity":0,"unit_price":1}]}`,
		"negative price":   `{"po_number":"1","supplier_name":"s","order_date":"2026-01-01","currency":"EUR","lines":[{"description":"x","quantity":1,"unit_price":-1}]}`,
		"goods receipt":    `{"receipt_number":"G-1","supplier_name":"s","received_date":"2026-01-01","lines":[{"description":"x","quantity_received":1}]}`,
		"numeric currency": `{"po_number":"1","supplier_name":"s","order_date":"2026-01-01","currency":"123","lines":[{"description":"x","quantity":1,"unit_price":1}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(entity.CategoryPurchaseOrder, uuid.New(), "u", []byte(raw))
			require.Error(t, err)
			var extErr *Error
			require.True(t, errors.As(err, &extErr))
			assert.Equal(t, KindPermanent, extErr.Kind)
		})
	}
}

func TestDecode_GoodsReceipt(t *testing.T) {
	raw := `{
	  "receipt_number": "GRN-881",
	  "po_number": "PO-2026-0042",
	  "supplier_name": "Acme Fasteners",
	  "received_date": "2026-02-20",
	  "lines": [
	    {"sku": "B-10", "description": "Hex bolt M10", "quantity_received": 100, "quantity_rejected": 4}
	  ]
	}`
	doc, err := Decode(entity.CategoryGoodsReceipt, uuid.New(), "u", []byte(raw))
	require.NoError(t, err)

	gr := doc.(*entity.GoodsReceipt)
	assert.Equal(t, "GRN-881", gr.ReceiptNumber)
	assert.Equal(t, "PO-2026-0042", gr.PONumber)
	require.Len(t, gr.Lines, 1)
	assert.InDelta(t, 4.0, gr.Lines[0].QuantityRejected, 0.001)
}

func TestDecode_GoodsReceiptRejectedExceedsReceived(t *testing.T) {
	raw := `{"receipt_number":"G","supplier_name":"s","received_date":"2026-01-01",
	  "lines":[{"description":"x","quantity_received":1,"quantity_rejected":5}]}`
	_, err := Decode(entity.CategoryGoodsReceipt, uuid.New(), "u", []byte(raw))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestBuildPrompt_EmbedsCategorySchema(t *testing.T) {
	p := BuildPrompt(entity.CategoryGoodsReceipt)
	assert.Contains(t, p, "goods receipt")
	assert.Contains(t, p, "quantity_received")
	assert.NotContains(t, p, "unit_price")
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(Permanent(base)))
	assert.False(t, IsTransient(base))
	assert.ErrorIs(t, Transient(base), base)
	assert.Contains(t, Permanent(base).Error(), "permanent")
}

package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/repository"
)

// DocumentRepository reads materialized entities. Writes only happen through
// JobRepository.CompleteJob.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) GetDocument(ctx context.Context, category entity.Category, id uuid.UUID) (entity.Document, error) {
	switch category {
	case entity.CategoryPurchaseOrder:
		return r.getPurchaseOrder(ctx, id)
	case entity.CategoryGoodsReceipt:
		return r.getGoodsReceipt(ctx, id)
	}
	return nil, fmt.Errorf("unknown category %q", category)
}

func (r *DocumentRepository) getPurchaseOrder(ctx context.Context, id uuid.UUID) (*entity.PurchaseOrder, error) {
	const q = `
SELECT id, job_id, po_number, supplier_name, order_date, currency, total_amount::float8, created_by, created_at
FROM purchase_orders WHERE id = $1;
`
	var po entity.PurchaseOrder
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&po.ID, &po.JobID, &po.PONumber, &po.SupplierName, &po.OrderDate,
		&po.Currency, &po.TotalAmount, &po.CreatedBy, &po.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	const lq = `
SELECT line_no, sku, description, quantity::float8, unit_price::float8, amount::float8
FROM purchase_order_lines WHERE purchase_order_id = $1 ORDER BY line_no;
`
	rows, err := r.pool.Query(ctx, lq, id)
	if err != nil {
		return nil, err
	}
	po.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.PurchaseOrderLine, error) {
		var l entity.PurchaseOrderLine
		err := row.Scan(&l.LineNo, &l.SKU, &l.Description, &l.Quantity, &l.UnitPrice, &l.Amount)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (r *DocumentRepository) getGoodsReceipt(ctx context.Context, id uuid.UUID) (*entity.GoodsReceipt, error) {
	const q = `
SELECT id, job_id, receipt_number, po_number, supplier_name, received_date, created_by, created_at
FROM goods_receipts WHERE id = $1;
`
	var gr entity.GoodsReceipt
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&gr.ID, &gr.JobID, &gr.ReceiptNumber, &gr.PONumber, &gr.SupplierName,
		&gr.ReceivedDate, &gr.CreatedBy, &gr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	const lq = `
SELECT line_no, sku, description, quantity_received::float8, quantity_rejected::float8
FROM goods_receipt_lines WHERE goods_receipt_id = $1 ORDER BY line_no;
`
	rows, err := r.pool.Query(ctx, lq, id)
	if err != nil {
		return nil, err
	}
	gr.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.GoodsReceiptLine, error) {
		var l entity.GoodsReceiptLine
		err := row.Scan(&l.LineNo, &l.SKU, &l.Description, &l.QuantityReceived, &l.QuantityRejected)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	return &gr, nil
}

func insertDocument(ctx context.Context, q dbtx, doc entity.Document) error {
	switch d := doc.(type) {
	case *entity.PurchaseOrder:
		return insertPurchaseOrder(ctx, q, d)
	case *entity.GoodsReceipt:
		return insertGoodsReceipt(ctx, q, d)
	}
	return fmt.Errorf("unsupported document type %T", doc)
}

func insertPurchaseOrder(ctx context.Context, q dbtx, po *entity.PurchaseOrder) error {
	const ins = `
INSERT INTO purchase_orders (id, job_id, po_number, supplier_name, order_date, currency, total_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at;
`
	if err := q.QueryRow(ctx, ins,
		po.ID, po.JobID, po.PONumber, po.SupplierName, po.OrderDate, po.Currency, po.TotalAmount, po.CreatedBy,
	).Scan(&po.CreatedAt); err != nil {
		return err
	}

	_, err := q.CopyFrom(ctx,
		pgx.Identifier{"purchase_order_lines"},
		[]string{"purchase_order_id", "line_no", "sku", "description", "quantity", "unit_price", "amount"},
		pgx.CopyFromSlice(len(po.Lines), func(i int) ([]any, error) {
			l := po.Lines[i]
			return []any{po.ID, l.LineNo, l.SKU, l.Description, l.Quantity, l.UnitPrice, l.Amount}, nil
		}),
	)
	return err
}

func insertGoodsReceipt(ctx context.Context, q dbtx, gr *entity.GoodsReceipt) error {
	const ins = `
INSERT INTO goods_receipts (id, job_id, receipt_number, po_number, supplier_name, received_date, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at;
`
	if err := q.QueryRow(ctx, ins,
		gr.ID, gr.JobID, gr.ReceiptNumber, gr.PONumber, gr.SupplierName, gr.ReceivedDate, gr.CreatedBy,
	).Scan(&gr.CreatedAt); err != nil {
		return err
	}

	_, err := q.CopyFrom(ctx,
		pgx.Identifier{"goods_receipt_lines"},
		[]string{"goods_receipt_id", "line_no", "sku", "description", "quantity_received", "quantity_rejected"},
		pgx.CopyFromSlice(len(gr.Lines), func(i int) ([]any, error) {
			l := gr.Lines[i]
			return []any{gr.ID, l.LineNo, l.SKU, l.Description, l.QuantityReceived, l.QuantityRejected}, nil
		}),
	)
	return err
}

// Package report renders job listings as XLSX workbooks for operators.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/service"
)

const (
	sheet       = "Jobs"
	maxPageSize = 500
	maxRows     = 50000
)

// JobLister is satisfied by service.JobService.
type JobLister interface {
	ListJobs(ctx context.Context, f entity.JobFilter) ([]service.JobView, error)
}

type Exporter struct {
	jobs   JobLister
	logger *slog.Logger
}

func NewExporter(jobs JobLister, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{jobs: jobs, logger: logger}
}

var headers = []string{
	"Job ID",
	"Batch ID",
	"Category",
	"Filename",
	"Status",
	"Status Name",
	"Attempts",
	"Failure Reason",
	"Entity ID",
	"Uploaded By",
	"Created At",
	"Finished At",
}

// ExportJobsXLSX pages through every job matching f (Limit and Offset are
// ignored) and returns the workbook bytes.
func (e *Exporter) ExportJobsXLSX(ctx context.Context, f entity.JobFilter) ([]byte, error) {
	start := time.Now()

	x := excelize.NewFile()
	defer x.Close()
	if err := x.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := x.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}

	row := 2
	f.Offset = 0
	f.Limit = maxPageSize
	for row-2 < maxRows {
		page, err := e.jobs.ListJobs(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		for _, j := range page {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			values := jobRow(j)
			if err := x.SetSheetRow(sheet, cell, &values); err != nil {
				return nil, err
			}
			row++
		}
		if len(page) < maxPageSize {
			break
		}
		f.Offset += len(page)
	}

	_ = x.SetColWidth(sheet, "A", "B", 38)
	_ = x.SetColWidth(sheet, "C", "C", 16)
	_ = x.SetColWidth(sheet, "D", "D", 32)
	_ = x.SetColWidth(sheet, "E", "F", 26)
	_ = x.SetColWidth(sheet, "H", "H", 60)
	_ = x.SetColWidth(sheet, "I", "I", 38)
	_ = x.SetColWidth(sheet, "K", "L", 22)
	_ = x.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := x.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("export.xlsx.ok",
		"rows", row-2,
		"status", f.Status,
		"category", f.Category,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func jobRow(j service.JobView) []any {
	reason, entityID, finished := "", "", ""
	if j.FailureReason != nil {
		reason = *j.FailureReason
	}
	if j.EntityID != nil {
		entityID = j.EntityID.String()
	}
	if j.FinishedAt != nil {
		finished = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		j.ID.String(),
		j.BatchID.String(),
		string(j.Category),
		j.Filename,
		string(j.Status),
		j.StatusName,
		j.Attempts,
		reason,
		entityID,
		j.UploadedBy,
		j.CreatedAt.UTC().Format(time.RFC3339),
		finished,
	}
}

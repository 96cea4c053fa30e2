package httptransport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/report"
	"doc-ingest-service/internal/service"
)

type Handler struct {
	ingest         *service.IngestService
	jobs           *service.JobService
	exporter       *report.Exporter
	validate       *validator.Validate
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewHandler(ingest *service.IngestService, jobs *service.JobService, exporter *report.Exporter, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingest:         ingest,
		jobs:           jobs,
		exporter:       exporter,
		validate:       validator.New(),
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

type jobResp struct {
	ID            string           `json:"id"`
	BatchID       string           `json:"batch_id"`
	Filename      string           `json:"filename"`
	MimeType      string           `json:"mime_type"`
	SizeBytes     int64            `json:"size_bytes"`
	Category      entity.Category  `json:"category"`
	Status        entity.JobStatus `json:"status"`
	StatusName    string           `json:"status_name"`
	FailureReason *string          `json:"failure_reason,omitempty"`
	LastError     *string          `json:"last_error,omitempty"`
	Attempts      int              `json:"attempts"`
	MaxAttempts   int              `json:"max_attempts"`
	EntityID      *string          `json:"entity_id,omitempty"`
	UploadedBy    string           `json:"uploaded_by"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
	FinishedAt    *string          `json:"finished_at,omitempty"`
}

func toJobResp(v service.JobView) jobResp {
	resp := jobResp{
		ID:            v.ID.String(),
		BatchID:       v.BatchID.String(),
		Filename:      v.Filename,
		MimeType:      v.MimeType,
		SizeBytes:     v.SizeBytes,
		Category:      v.Category,
		Status:        v.Status,
		StatusName:    v.StatusName,
		FailureReason: v.FailureReason,
		LastError:     v.LastError,
		Attempts:      v.Attempts,
		MaxAttempts:   v.MaxAttempts,
		UploadedBy:    v.UploadedBy,
		CreatedAt:     v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     v.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if v.EntityID != nil {
		s := v.EntityID.String()
		resp.EntityID = &s
	}
	if v.FinishedAt != nil {
		s := v.FinishedAt.UTC().Format(time.RFC3339)
		resp.FinishedAt = &s
	}
	return resp
}

type listJobsResp struct {
	Items  []jobResp `json:"items"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// Upload godoc
// @Summary Upload a batch of documents
// @Description Stores every file part and creates one PENDING job per file in a single transaction.
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param category query string true "purchase-order | goods-receipt"
// @Param files formData file true "one or more files"
// @Success 201 {object} service.UploadResult
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 413 {object} apiError
// @Failure 500 {object} apiError
// @Router /api/v1/uploads [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeErr(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	next := func() (*service.Part, error) {
		for {
			p, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if err != nil {
				var maxBytes *http.MaxBytesError
				if errors.As(err, &maxBytes) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %v", errMalformedUpload, err)
			}
			if p.FileName() == "" {
				// plain form fields are not documents
				continue
			}
			return &service.Part{
				Filename:    p.FileName(),
				ContentType: p.Header.Get("Content-Type"),
				Body:        p,
			}, nil
		}
	}

	res, err := h.ingest.Ingest(r.Context(), service.UploadRequest{
		Category: r.URL.Query().Get("category"),
		UserID:   UserID(r.Context()),
		Next:     next,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Security BearerAuth
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/v1/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(*j))
}

// GetJobResult godoc
// @Summary Get the entity a processed job materialized
// @Tags jobs
// @Produce json
// @Security BearerAuth
// @Param id path string true "job id (uuid)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /api/v1/jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	doc, err := h.jobs.Result(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type listQuery struct {
	Status   string `validate:"omitempty,oneof=PENDING CLAIMED PROCESSED FAILED"`
	Category string
	BatchID  string `validate:"omitempty,uuid"`
	Limit    int    `validate:"gte=0,lte=500"`
	Offset   int    `validate:"gte=0"`
}

func (h *Handler) parseFilter(r *http.Request) (entity.JobFilter, error) {
	q := r.URL.Query()
	lq := listQuery{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		BatchID:  q.Get("batch_id"),
	}
	var err error
	if s := q.Get("limit"); s != "" {
		if lq.Limit, err = strconv.Atoi(s); err != nil {
			return entity.JobFilter{}, errors.New("limit must be an integer")
		}
	}
	if s := q.Get("offset"); s != "" {
		if lq.Offset, err = strconv.Atoi(s); err != nil {
			return entity.JobFilter{}, errors.New("offset must be an integer")
		}
	}
	if err := h.validate.Struct(lq); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return entity.JobFilter{}, fmt.Errorf("invalid %s", verrs[0].Field())
		}
		return entity.JobFilter{}, err
	}

	f := entity.JobFilter{Status: entity.JobStatus(lq.Status), Limit: lq.Limit, Offset: lq.Offset}
	if lq.Category != "" {
		c, ok := entity.ParseCategory(lq.Category)
		if !ok {
			return entity.JobFilter{}, fmt.Errorf("unknown category %q", lq.Category)
		}
		f.Category = c
	}
	if lq.BatchID != "" {
		f.BatchID = uuid.MustParse(lq.BatchID)
	}
	return f, nil
}

// ListJobs godoc
// @Summary List jobs
// @Tags jobs
// @Produce json
// @Security BearerAuth
// @Param status query string false "PENDING | CLAIMED | PROCESSED | FAILED"
// @Param category query string false "purchase-order | goods-receipt"
// @Param batch_id query string false "upload batch id"
// @Param limit query int false "page size (max 500, default 50)"
// @Param offset query int false "offset"
// @Success 200 {object} listJobsResp
// @Failure 400 {object} apiError
// @Router /api/v1/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilter(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	views, err := h.jobs.ListJobs(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	resp := listJobsResp{Items: make([]jobResp, len(views)), Limit: f.Limit, Offset: f.Offset}
	for i, v := range views {
		resp.Items[i] = toJobResp(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportJobs godoc
// @Summary Export jobs as an XLSX workbook
// @Tags jobs
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param status query string false "PENDING | CLAIMED | PROCESSED | FAILED"
// @Param category query string false "purchase-order | goods-receipt"
// @Param batch_id query string false "upload batch id"
// @Success 200 {file} file
// @Failure 400 {object} apiError
// @Router /api/v1/jobs/export [get]
func (h *Handler) ExportJobs(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilter(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := h.exporter.ExportJobsXLSX(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	name := fmt.Sprintf("jobs-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ListStatuses godoc
// @Summary List status reference rows
// @Tags statuses
// @Produce json
// @Security BearerAuth
// @Param category query string false "purchase-order | goods-receipt"
// @Success 200 {array} entity.Status
// @Failure 400 {object} apiError
// @Router /api/v1/statuses [get]
func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.jobs.Statuses(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if statuses == nil {
		statuses = []entity.Status{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// ListAudit godoc
// @Summary Audit trail of a record, newest first
// @Tags audit
// @Produce json
// @Security BearerAuth
// @Param table path string true "ingest_jobs | upload_batches"
// @Param id path string true "record id"
// @Success 200 {array} entity.AuditEntry
// @Failure 400 {object} apiError
// @Router /api/v1/audit/{table}/{id} [get]
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.jobs.Audit(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []entity.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

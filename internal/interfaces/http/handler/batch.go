package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	batchapp "github.com/erp/payalloc/internal/application/batch"
	"github.com/erp/payalloc/internal/domain/allocation"
	batchimport "github.com/erp/payalloc/internal/infrastructure/import"
	"github.com/erp/payalloc/internal/interfaces/http/dto"
	"github.com/erp/payalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// DefaultMaxUploadSize bounds an uploaded batch file
const DefaultMaxUploadSize int64 = 10 << 20

var contentTypes = map[batchimport.Format]string{
	batchimport.FormatCSV:  "text/csv",
	batchimport.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	batchimport.FormatJSON: "application/json",
}

// BatchHandler serves payment batch imports
type BatchHandler struct {
	BaseHandler
	service       *batchapp.BatchService
	maxUploadSize int64
}

// NewBatchHandler creates a new BatchHandler. maxUploadSize <= 0 uses DefaultMaxUploadSize.
func NewBatchHandler(service *batchapp.BatchService, maxUploadSize int64) *BatchHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &BatchHandler{service: service, maxUploadSize: maxUploadSize}
}

// Import handles POST /batches with the entries inline
func (h *BatchHandler) Import(c *gin.Context) {
	var req dto.ImportBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	entries, err := req.ParseEntries(h.service.MaxRows())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.service.ImportBatch(c.Request.Context(), allocationContext(c), entries, req.Source(),
		req.Options(middleware.GetIdempotencyKey(c)))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.importResult(c, result)
}

// Upload handles POST /batches/upload, a multipart form with a CSV, XLSX or
// JSON "file". The format comes from the "format" field or the file extension.
func (h *BatchHandler) Upload(c *gin.Context) {
	var form dto.UploadBatchForm
	if err := c.ShouldBind(&form); err != nil {
		h.ValidationError(c, err)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			h.ValidationError(c, err)
			return
		}
		h.BadRequest(c, "file is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", h.maxUploadSize))
		return
	}

	format, err := h.format(form.Format, header.Filename)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		h.HandleError(c, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(data)) > h.maxUploadSize {
		h.HandleError(c, batchimport.ErrFileTooLarge)
		return
	}

	rows, err := batchimport.Parse(format, bytes.NewReader(data), h.service.MaxRows())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.service.ImportBatch(c.Request.Context(), allocationContext(c),
		batchimport.EntriesFromRows(rows), allocation.SourceTypeCSVImport, batchapp.ImportOptions{
			DryRun:            form.DryRun,
			AllOrNothing:      form.AllOrNothing,
			Currency:          form.Currency,
			Notes:             form.Notes,
			SourceFile:        header.Filename,
			SourceContent:     data,
			SourceContentType: contentTypes[format],
			IdempotencyKey:    middleware.GetIdempotencyKey(c),
		})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.importResult(c, result)
}

func (h *BatchHandler) format(explicit, filename string) (batchimport.Format, error) {
	if explicit != "" {
		return batchimport.ParseFormat(explicit)
	}
	return batchimport.DetectFormat(filename)
}

// importResult answers 201 for an imported batch, 200 for a dry run and 422
// with the validation summary for a rejected all-or-nothing import
func (h *BatchHandler) importResult(c *gin.Context, result *batchapp.ImportResult) {
	switch {
	case result.Rejected():
		msg := fmt.Sprintf("%d of %d rows failed validation, nothing was imported",
			result.Validation.ErrorCount, result.Validation.TotalRows)
		if len(result.ProcessingErrors) > 0 {
			msg = fmt.Sprintf("%d of %d rows failed to record, nothing was imported",
				len(result.ProcessingErrors), result.Validation.TotalRows)
		}
		c.JSON(http.StatusUnprocessableEntity, dto.Response{
			Success: false,
			Data:    result,
			Error: &dto.ErrorInfo{
				Code:      dto.ErrCodeBatchRejected,
				Message:   msg,
				RequestID: middleware.GetRequestID(c),
			},
		})
	case result.Batch == nil:
		h.Success(c, result)
	default:
		h.Created(c, result)
	}
}

// Get handles GET /batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.service.GetBatch(c.Request.Context(), allocationContext(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, b)
}

// List handles GET /batches
func (h *BatchHandler) List(c *gin.Context) {
	var query dto.BatchListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationError(c, err)
		return
	}
	filter, err := query.ToFilter()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.service.ListBatches(c.Request.Context(), allocationContext(c), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	page(c, result)
}

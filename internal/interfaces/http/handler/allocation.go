package handler

import (
	"errors"
	"io"

	allocationapp "github.com/erp/payalloc/internal/application/allocation"
	"github.com/erp/payalloc/internal/interfaces/http/dto"
	"github.com/erp/payalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// AllocationHandler serves proposing, executing and reversing allocations
type AllocationHandler struct {
	BaseHandler
	service *allocationapp.AllocationService
}

// NewAllocationHandler creates a new AllocationHandler
func NewAllocationHandler(service *allocationapp.AllocationService) *AllocationHandler {
	return &AllocationHandler{service: service}
}

// bindPropose reads the optional body shared by propose and auto-allocate
func (h *AllocationHandler) bindPropose(c *gin.Context) (dto.ProposeRequest, allocationapp.ProposalOptions, bool) {
	var req dto.ProposeRequest
	if c.Request.ContentLength != 0 {
		// An empty chunked body means defaults
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.ValidationError(c, err)
			return req, allocationapp.ProposalOptions{}, false
		}
	}
	opts, err := req.ToOptions()
	if err != nil {
		h.HandleError(c, err)
		return req, opts, false
	}
	return req, opts, true
}

// Propose handles POST /payments/:id/allocations/propose. Nothing is written.
func (h *AllocationHandler) Propose(c *gin.Context) {
	paymentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	req, opts, ok := h.bindPropose(c)
	if !ok {
		return
	}

	proposal, err := h.service.ProposeAutomaticAllocation(c.Request.Context(), allocationContext(c), paymentID, req.StrategyName(), opts)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, proposal)
}

// Execute handles POST /payments/:id/allocations
func (h *AllocationHandler) Execute(c *gin.Context) {
	paymentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ExecuteAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	result, err := h.service.ExecuteAllocation(c.Request.Context(), allocationContext(c),
		req.ToCommand(paymentID, middleware.GetIdempotencyKey(c)))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// AutoAllocate handles POST /payments/:id/allocations/auto
func (h *AllocationHandler) AutoAllocate(c *gin.Context) {
	paymentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	req, opts, ok := h.bindPropose(c)
	if !ok {
		return
	}

	result, err := h.service.AutoAllocate(c.Request.Context(), allocationContext(c), allocationapp.AutoAllocateRequest{
		PaymentID:      paymentID,
		Strategy:       req.StrategyName(),
		Options:        opts,
		IdempotencyKey: middleware.GetIdempotencyKey(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// Reverse handles POST /allocations/:id/reverse
func (h *AllocationHandler) Reverse(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ReverseAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	reversed, err := h.service.ReverseAllocation(c.Request.Context(), allocationContext(c), id, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, reversed)
}

// BulkReverse handles POST /allocations/reverse. The whole set is reversed
// in one transaction or not at all.
func (h *AllocationHandler) BulkReverse(c *gin.Context) {
	var req dto.BulkReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	result, err := h.service.ReverseAllocations(c.Request.Context(), allocationContext(c), req.IDs(), req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// List handles GET /allocations
func (h *AllocationHandler) List(c *gin.Context) {
	var query dto.AllocationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationError(c, err)
		return
	}
	filter, err := query.ToFilter()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.service.ListAllocations(c.Request.Context(), allocationContext(c), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	page(c, result)
}

// Strategies handles GET /strategies
func (h *AllocationHandler) Strategies(c *gin.Context) {
	h.Success(c, h.service.ListStrategies())
}

// StrategyUsage handles GET /strategies/usage
func (h *AllocationHandler) StrategyUsage(c *gin.Context) {
	var query dto.UsageReportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationError(c, err)
		return
	}
	from, to, err := query.Range()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	report, err := h.service.StrategyUsageReport(c.Request.Context(), allocationContext(c), from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

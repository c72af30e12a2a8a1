package handler

import (
	allocationapp "github.com/erp/payalloc/internal/application/allocation"
	"github.com/erp/payalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// PaymentHandler serves payment intake and payment-level queries
type PaymentHandler struct {
	BaseHandler
	service *allocationapp.AllocationService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(service *allocationapp.AllocationService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// Record handles POST /payments
func (h *PaymentHandler) Record(c *gin.Context) {
	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.service.RecordPayment(c.Request.Context(), allocationContext(c), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// Get handles GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(c.Request.Context(), allocationContext(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, payment)
}

// List handles GET /payments
func (h *PaymentHandler) List(c *gin.Context) {
	var query dto.PaymentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationError(c, err)
		return
	}
	filter, err := query.ToFilter()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.service.ListPayments(c.Request.Context(), allocationContext(c), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	page(c, result)
}

// Complete handles POST /payments/:id/complete
func (h *PaymentHandler) Complete(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	payment, err := h.service.CompletePayment(c.Request.Context(), allocationContext(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, payment)
}

// Summary handles GET /payments/:id/summary
func (h *PaymentHandler) Summary(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	summary, err := h.service.GetAllocationSummary(c.Request.Context(), allocationContext(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// AuditTrail handles GET /payments/:id/audit-trail
func (h *PaymentHandler) AuditTrail(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.service.GetAuditTrail(c.Request.Context(), allocationContext(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entries)
}

// CustomerBalance handles GET /customers/:id/balance
func (h *PaymentHandler) CustomerBalance(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	balance, err := h.service.GetCustomerBalance(c.Request.Context(), allocationContext(c), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, balance)
}

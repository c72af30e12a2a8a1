package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPair struct {
	InvoiceID string `json:"invoice_id" binding:"required,uuid"`
	Amount    string `json:"amount" binding:"required"`
}

type testAllocateRequest struct {
	Allocations []testPair `json:"allocations" binding:"required,min=1,dive"`
	Reason      string     `json:"reason" binding:"max=5"`
}

func validationRouter() *gin.Engine {
	SetupValidator()
	r := gin.New()
	r.POST("/test", func(c *gin.Context) {
		var req testAllocateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleValidationError(t *testing.T) {
	r := validationRouter()

	t.Run("field details use json paths", func(t *testing.T) {
		w := serve(r, postJSON(`{"allocations":[{"invoice_id":"nope","amount":"1"}],"reason":"too long"}`))

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `"VALIDATION_ERROR"`)
		assert.Contains(t, body, `"allocations[0].invoice_id"`)
		assert.Contains(t, body, "Invalid UUID format")
		assert.Contains(t, body, `"reason"`)
		assert.Contains(t, body, "Must be at most 5 characters")
	})

	t.Run("empty list", func(t *testing.T) {
		w := serve(r, postJSON(`{"allocations":[]}`))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "Must contain at least 1 items")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		w := serve(r, postJSON(`{"allocations":`))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), `"body"`)
	})

	t.Run("wrong type", func(t *testing.T) {
		w := serve(r, postJSON(`{"allocations":"x"}`))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), `"allocations"`)
	})

	t.Run("valid", func(t *testing.T) {
		w := serve(r, postJSON(`{"allocations":[{"invoice_id":"6f1c2d6e-3a4b-4c5d-8e9f-0a1b2c3d4e5f","amount":"1"}]}`))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

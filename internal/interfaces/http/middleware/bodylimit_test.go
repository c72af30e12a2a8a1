package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bodyLimitRouter(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), BodyLimit(limit))
	r.POST("/upload", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			if IsBodyTooLarge(err) {
				c.String(http.StatusRequestEntityTooLarge, "read cut off")
				return
			}
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.String(http.StatusOK, "%d", len(data))
	})
	return r
}

func TestBodyLimit(t *testing.T) {
	tests := []struct {
		name     string
		limit    int64
		body     string
		chunked  bool
		wantCode int
		wantBody string
	}{
		{name: "within limit", limit: 64, body: "row,amount\n1,10.00", wantCode: http.StatusOK, wantBody: "18"},
		{name: "exactly at limit", limit: 4, body: "abcd", wantCode: http.StatusOK, wantBody: "4"},
		{name: "declared length over limit", limit: 16, body: strings.Repeat("x", 17), wantCode: http.StatusRequestEntityTooLarge, wantBody: "REQUEST_TOO_LARGE"},
		{name: "chunked body over limit", limit: 16, body: strings.Repeat("x", 40), chunked: true, wantCode: http.StatusRequestEntityTooLarge, wantBody: "read cut off"},
		{name: "zero limit disables cap", limit: 0, body: strings.Repeat("x", 4096), wantCode: http.StatusOK, wantBody: "4096"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString(tt.body))
			if tt.chunked {
				req.ContentLength = -1
			}
			w := serve(bodyLimitRouter(tt.limit), req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestBodyLimit_MessageNamesLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("x", 300)))
	w := serve(bodyLimitRouter(256), req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "256 byte limit")
}

func TestIsBodyTooLarge(t *testing.T) {
	assert.True(t, IsBodyTooLarge(&http.MaxBytesError{Limit: 1}))
	assert.False(t, IsBodyTooLarge(io.ErrUnexpectedEOF))
	assert.False(t, IsBodyTooLarge(nil))
}

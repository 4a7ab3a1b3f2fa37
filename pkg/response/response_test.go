package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		write  func(c *gin.Context)
		status int
		code   string
	}{
		{"param", func(c *gin.Context) { ParamError(c, "bad amount") }, http.StatusBadRequest, CodeInvalidRequest},
		{"unauthorized", Unauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{"not found", func(c *gin.Context) { NotFound(c, "payment not found") }, http.StatusNotFound, CodeNotFound},
		{"conflict", func(c *gin.Context) { Conflict(c, CodeBatchInProgress, "busy") }, http.StatusConflict, CodeBatchInProgress},
		{"server", func(c *gin.Context) { ServerError(c, "boom") }, http.StatusInternalServerError, CodeServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			tc.write(c)

			assert.Equal(t, tc.status, w.Code)
			assert.True(t, c.IsAborted())
			var body ErrorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

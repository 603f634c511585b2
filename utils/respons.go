package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse is the envelope every API response uses.
type JSONResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data any) {
	c.JSON(code, JSONResponse{
		Status:  code >= http.StatusOK && code < http.StatusMultipleChoices,
		Message: message,
		Data:    data,
	})
}

// RespondError writes err as the message. Server errors are also recorded on
// the gin context so the request logger reports them.
func RespondError(c *gin.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, JSONResponse{Message: err.Error()})
}

// AbortError responds with err and stops the handler chain.
func AbortError(c *gin.Context, code int, err error) {
	RespondError(c, code, err)
	c.Abort()
}

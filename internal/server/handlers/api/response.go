package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const internalErrorMessage = "internal error"

// AbortWithError records err for the access log and writes the error envelope.
// Server errors are reported to the caller without their details.
func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = internalErrorMessage
	}

	ctx.PureJSON(status, APIError{
		Code:    code,
		Message: message,
	})
}

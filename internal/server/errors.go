package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/bizdash/internal/middleware"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorCode(status int) string {
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

// setupErrorHandling renders every error as an ErrorResponse. Errors that
// are not echo.HTTPErrors are logged with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		logger := middleware.FromContext(c.Request().Context())

		status := http.StatusInternalServerError
		message := http.StatusText(status)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			message = fmt.Sprint(he.Message)
			if he.Internal != nil && status >= http.StatusInternalServerError {
				logger.Error("request failed", "status", status, "error", he.Internal)
			} else if he.Internal != nil {
				logger.Debug("request rejected", "status", status, "error", he.Internal)
			}
		} else {
			logger.Error("Internal Server Error (Unhandled)",
				"error", err,
				"stack_trace", string(debug.Stack()),
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, ErrorResponse{Code: errorCode(status), Message: message})
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}

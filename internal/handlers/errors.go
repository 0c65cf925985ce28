package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"clinichub/internal/common"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

var kindStatus = map[common.Kind]int{
	common.KindUnauthenticated:    http.StatusUnauthorized,
	common.KindForbidden:          http.StatusForbidden,
	common.KindNotFound:           http.StatusNotFound,
	common.KindConflict:           http.StatusConflict,
	common.KindInvalid:            http.StatusBadRequest,
	common.KindProvisioningFailed: http.StatusInternalServerError,
	common.KindTimeout:            http.StatusGatewayTimeout,
	common.KindInternal:           http.StatusInternalServerError,
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPErrorHandler renders classified errors as {"error": msg}. Causes of
// server-side failures are logged and never sent to the client.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := renderError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Int("status", status).Msg("Request failed")
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, ErrorResponse{Error: msg})
	}
	if writeErr != nil {
		log.Warn().Err(writeErr).Msg("Failed to write error response")
	}
}

func renderError(err error) (int, string) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		// binder and router errors carry their own status
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = fmt.Sprint(httpErr.Message)
		}
		if httpErr.Code >= http.StatusInternalServerError {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, msg
	}

	status, ok := kindStatus[common.KindOf(err)]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, common.MessageOf(err)
}

// bindError converts a binder failure into a client error.
func bindError(err error) error {
	return common.NewError(common.KindInvalid, "Invalid request format", err)
}

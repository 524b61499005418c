// Package actions exposes the pipeline operations over HTTP. Every response has
// the shape {success, message|error, data?}.
package actions

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ExpeditionFlow/internal/carrier"
	"ExpeditionFlow/internal/documents"
	"ExpeditionFlow/internal/importer"
	"ExpeditionFlow/internal/orchestration"
	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"
	"ExpeditionFlow/internal/webhook"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, Response{Success: false, Error: message})
}

// bind decodes and validates the request body into req. The returned error
// message is safe to show to the caller.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return errors.New("invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// failWith maps a service error to its status code. Unexpected errors are logged
// and hidden from the caller.
func failWith(c echo.Context, log *zap.Logger, err error) error {
	var (
		oerr  *orchestration.ValidationError
		ierr  *importer.ValidationError
		kerr  *documents.InvalidKindError
		terr  *records.TransitionError
		wcerr *webhook.ConfigError
		ccerr *carrier.ConfigError
	)
	switch {
	case errors.As(err, &oerr), errors.As(err, &ierr), errors.As(err, &kerr):
		return fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, tasks.ErrRunNotFound):
		return fail(c, http.StatusNotFound, "Not found")
	case errors.As(err, &terr), errors.Is(err, store.ErrConflict):
		return fail(c, http.StatusConflict, err.Error())
	case errors.As(err, &wcerr), errors.As(err, &ccerr):
		return fail(c, http.StatusServiceUnavailable, err.Error())
	}
	log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return fail(c, http.StatusInternalServerError, "Internal error")
}

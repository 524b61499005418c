package actions

import (
	"fmt"
	"net/http"

	"ExpeditionFlow/internal/importer"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type ImportHandler struct {
	importer *importer.Importer
	log      *zap.Logger
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(im *importer.Importer, log *zap.Logger) *ImportHandler {
	return &ImportHandler{importer: im, log: log.Named("actions")}
}

// Import writes the rows of a parsed spreadsheet.
func (h *ImportHandler) Import(c echo.Context) error {
	var req importer.Request
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := h.importer.Import(c.Request().Context(), req)
	if err != nil {
		return failWith(c, h.log, err)
	}
	msg := fmt.Sprintf("Imported %d recipients into %d AWBs", res.Recipients, res.AWBs)
	return ok(c, http.StatusCreated, msg, res)
}

package actions

import (
	"net/http"

	"ExpeditionFlow/internal/documents"
	"ExpeditionFlow/internal/records"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type StaticHandler struct {
	service *documents.StaticService
	log     *zap.Logger
}

// NewStaticHandler creates a new StaticHandler.
func NewStaticHandler(service *documents.StaticService, log *zap.Logger) *StaticHandler {
	return &StaticHandler{service: service, log: log.Named("actions")}
}

type staticUploadForm struct {
	Type string `form:"type" validate:"required,static_kind"`
}

// Upload takes a multipart form with a "type" field and a "file" part.
func (h *StaticHandler) Upload(c echo.Context) error {
	var form staticUploadForm
	if err := bind(c, &form); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return failWith(c, h.log, err)
	}
	defer f.Close()

	doc, err := h.service.UploadStatic(c.Request().Context(), documents.Upload{
		Kind:        records.StaticKind(form.Type),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusCreated, "Document uploaded", doc)
}

func (h *StaticHandler) Sync(c echo.Context) error {
	res, err := h.service.SyncStatic(c.Request().Context())
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusOK, "Static documents synced", res)
}

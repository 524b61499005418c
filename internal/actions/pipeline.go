package actions

import (
	"fmt"
	"net/http"

	"ExpeditionFlow/internal/orchestration"
	"ExpeditionFlow/internal/records"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// PipelineHandler starts background tasks and reports on their runs.
type PipelineHandler struct {
	service *orchestration.Service
	log     *zap.Logger
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(service *orchestration.Service, log *zap.Logger) *PipelineHandler {
	return &PipelineHandler{service: service, log: log.Named("actions")}
}

type generateAWBsRequest struct {
	Items []orchestration.AWBRef `json:"items" validate:"required,min=1,dive"`
}

type awbIDsRequest struct {
	AWBIDs []string `json:"awbIds" validate:"required,min=1,dive,not_blank"`
}

type recipientIDsRequest struct {
	RecipientIDs []string `json:"recipientIds" validate:"required,min=1,dive,not_blank"`
}

type generatePVRequest struct {
	RecipientIDs []string `json:"recipientIds" validate:"required,min=1,dive,not_blank"`
	DocumentType string   `json:"documentType"`
}

type renameRequest struct {
	ShipmentID string `json:"shipmentId"`
}

func (h *PipelineHandler) GenerateAWBs(c echo.Context) error {
	var req generateAWBsRequest
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := h.service.EnqueueAWBs(c.Request().Context(), req.Items)
	if err != nil {
		return failWith(c, h.log, err)
	}
	msg := fmt.Sprintf("Queued %d AWBs across %d shipments", res.Items, res.Shipments)
	return ok(c, http.StatusAccepted, msg, res)
}

func (h *PipelineHandler) StatusUpdate(c echo.Context) error {
	var req awbIDsRequest
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := h.service.EnqueueStatusUpdates(c.Request().Context(), req.AWBIDs)
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusAccepted, fmt.Sprintf("Queued %d status updates", res.Items), res)
}

func (h *PipelineHandler) GeneratePV(c echo.Context) error {
	var req generatePVRequest
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	runID, err := h.service.TriggerPVBulk(c.Request().Context(), orchestration.PVBulkPayload{
		RecipientIDs: req.RecipientIDs,
		DocumentType: records.DocumentType(req.DocumentType),
	})
	if err != nil {
		return failWith(c, h.log, err)
	}
	msg := fmt.Sprintf("Generating documents for %d recipients", len(req.RecipientIDs))
	return ok(c, http.StatusAccepted, msg, map[string]string{"runId": runID})
}

func (h *PipelineHandler) SendLogisticsEmails(c echo.Context) error {
	var req recipientIDsRequest
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := h.service.QueueLogisticsEmails(c.Request().Context(), req.RecipientIDs)
	if err != nil {
		return failWith(c, h.log, err)
	}
	msg := fmt.Sprintf("Queued %d emails covering %d AWBs", res.Shipments, res.AWBs)
	return ok(c, http.StatusAccepted, msg, res)
}

func (h *PipelineHandler) SendReminders(c echo.Context) error {
	var req recipientIDsRequest
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := h.service.EnqueueReminders(c.Request().Context(), req.RecipientIDs)
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusAccepted, fmt.Sprintf("Queued %d reminders", res.Items), res)
}

func (h *PipelineHandler) ReformatSigned(c echo.Context) error {
	var req recipientIDsRequest
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	res, err := h.service.EnqueueReformat(c.Request().Context(), req.RecipientIDs)
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusAccepted, fmt.Sprintf("Queued %d files", res.Items), res)
}

func (h *PipelineHandler) RenameSigned(c echo.Context) error {
	var req renameRequest
	if err := bind(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	runID, err := h.service.TriggerRename(c.Request().Context(), orchestration.RenamePayload{ShipmentID: req.ShipmentID})
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusAccepted, "Rename started", map[string]string{"runId": runID})
}

func (h *PipelineHandler) RunStatus(c echo.Context) error {
	run, err := h.service.Run(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusOK, "", run)
}

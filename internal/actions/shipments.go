package actions

import (
	"net/http"
	"sort"

	"ExpeditionFlow/internal/records"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ShipmentHandler serves read-only views of shipments and their children.
type ShipmentHandler struct {
	repo *records.Repository
	log  *zap.Logger
}

// NewShipmentHandler creates a new ShipmentHandler.
func NewShipmentHandler(repo *records.Repository, log *zap.Logger) *ShipmentHandler {
	return &ShipmentHandler{repo: repo, log: log.Named("actions")}
}

func (h *ShipmentHandler) List(c echo.Context) error {
	shipments, err := h.repo.Shipments(c.Request().Context())
	if err != nil {
		return failWith(c, h.log, err)
	}
	sort.Slice(shipments, func(i, j int) bool { return shipments[i].CreatedAt.After(shipments[j].CreatedAt) })
	return ok(c, http.StatusOK, "", shipments)
}

func (h *ShipmentHandler) Get(c echo.Context) error {
	sh, err := h.repo.Shipment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failWith(c, h.log, err)
	}
	return ok(c, http.StatusOK, "", sh)
}

func (h *ShipmentHandler) AWBs(c echo.Context) error {
	awbs, err := h.repo.AWBsByShipment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failWith(c, h.log, err)
	}
	if awbs == nil {
		awbs = []records.AWB{}
	}
	return ok(c, http.StatusOK, "", awbs)
}

func (h *ShipmentHandler) Recipients(c echo.Context) error {
	recipients, err := h.repo.RecipientsByShipment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failWith(c, h.log, err)
	}
	if recipients == nil {
		recipients = []records.Recipient{}
	}
	return ok(c, http.StatusOK, "", recipients)
}

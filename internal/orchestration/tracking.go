package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"

	"go.uber.org/zap"
)

type StatusPayload struct {
	AWBID string `json:"awbId"`
}

type StatusResult struct {
	AWBID          string                 `json:"awbId"`
	Status         string                 `json:"status"`
	Delivery       string                 `json:"delivery"`
	ShipmentStatus records.ShipmentStatus `json:"shipmentStatus"`
}

type ReminderPayload struct {
	RecipientID string `json:"recipientId"`
}

type ReminderResult struct {
	RecipientID string `json:"recipientId"`
	StatusCode  int    `json:"statusCode"`
}

// Delivery states derived from the carrier's free-text status.
const (
	deliveryUnknown   = "unknown"
	deliveryInTransit = "in-transit"
	deliveryDelivered = "delivered"
)

var (
	deliveredWords = []string{"delivered", "livrat"}
	transitWords   = []string{"transit", "tranzit", "picked up", "ridicat", "out for delivery", "in livrare"}
)

// deliveryState classifies a carrier status label.
func deliveryState(st *records.ExpeditionStatus) string {
	if st == nil {
		return deliveryUnknown
	}
	text := strings.ToLower(st.Status + " " + st.Label)
	for _, w := range deliveredWords {
		if strings.Contains(text, w) && !strings.Contains(text, "not "+w) && !strings.Contains(text, "ne"+w) {
			return deliveryDelivered
		}
	}
	for _, w := range transitWords {
		if strings.Contains(text, w) {
			return deliveryInTransit
		}
	}
	return deliveryUnknown
}

func (s *Service) runStatusUpdate(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[StatusPayload](payload)
	if err != nil {
		return nil, err
	}
	awb, err := s.repo.AWB(ctx, p.AWBID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, tasks.Permanent(err)
		}
		return nil, err
	}
	if awb.TrackingNumber == "" {
		return nil, tasks.Permanent(fmt.Errorf("awb %s has no tracking number", awb.ID))
	}

	resp, err := s.hooks.Post(ctx, "status", s.cfg.Webhooks.StatusURL, map[string]any{
		"awbId":          awb.ID,
		"shipmentId":     awb.ShipmentID,
		"trackingNumber": awb.TrackingNumber,
	})
	if err != nil {
		return nil, err
	}
	var st records.ExpeditionStatus
	if err := resp.Decode(&st); err != nil {
		return nil, err
	}
	st.UpdatedAt = s.now()
	if err := s.repo.UpdateAWB(ctx, awb.ID, map[string]any{"expeditionStatus": st}); err != nil {
		return nil, err
	}

	result := StatusResult{AWBID: awb.ID, Status: st.Status, Delivery: deliveryState(&st)}
	result.ShipmentStatus, err = s.advanceShipment(ctx, awb.ShipmentID, result.Delivery)
	if err != nil {
		return nil, err
	}

	if err := s.sleep(ctx, s.postCallDelay(TaskStatusUpdate)); err != nil {
		return nil, err
	}
	return result, nil
}

// advanceShipment moves the shipment forward after a carrier status change. It is
// Delivered only once every AWB of the shipment reports delivery.
func (s *Service) advanceShipment(ctx context.Context, shipmentID, delivery string) (records.ShipmentStatus, error) {
	sh, err := s.repo.Shipment(ctx, shipmentID)
	if err != nil {
		return "", err
	}
	if delivery == deliveryUnknown || sh.Status.Terminal() {
		return sh.Status, nil
	}

	target := records.ShipmentInTransit
	if delivery == deliveryDelivered {
		awbs, err := s.repo.AWBsByShipment(ctx, shipmentID)
		if err != nil {
			return "", err
		}
		all := true
		for _, a := range awbs {
			if deliveryState(a.ExpeditionStatus) != deliveryDelivered {
				all = false
				break
			}
		}
		if all {
			target = records.ShipmentDelivered
		}
	}

	current := sh.Status
	for _, step := range []records.ShipmentStatus{records.ShipmentInTransit, records.ShipmentDelivered} {
		if current == target {
			break
		}
		if !current.CanTransition(step) {
			continue
		}
		if _, err := s.repo.TransitionShipment(ctx, shipmentID, step); err != nil {
			var terr *records.TransitionError
			if errors.As(err, &terr) || errors.Is(err, store.ErrConflict) {
				s.log.Debug("shipment not advanced", zap.String("shipment", shipmentID), zap.Error(err))
				return current, nil
			}
			return current, err
		}
		current = step
	}
	return current, nil
}

func (s *Service) runSendReminder(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[ReminderPayload](payload)
	if err != nil {
		return nil, err
	}
	r, err := s.repo.Recipient(ctx, p.RecipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, tasks.Permanent(err)
		}
		return nil, err
	}

	resp, err := s.hooks.Post(ctx, "reminder", s.cfg.Webhooks.ReminderURL, map[string]any{
		"recipientId": r.ID,
		"shipmentId":  r.ShipmentID,
		"name":        r.Name,
		"email":       r.Email,
		"phone":       r.Phone,
	})
	if err != nil {
		return nil, err
	}
	if err := s.sleep(ctx, s.postCallDelay(TaskSendReminder)); err != nil {
		return nil, err
	}
	return ReminderResult{RecipientID: r.ID, StatusCode: resp.StatusCode}, nil
}

// TrackStatuses enqueues a status update for every labelled AWB whose shipment is
// still on its way.
func (s *Service) TrackStatuses(ctx context.Context) (int, error) {
	awbs, err := s.repo.AWBsByStatus(ctx, records.AWBCreated, records.AWBGenerated)
	if err != nil {
		return 0, err
	}

	terminal := map[string]bool{}
	var payloads []any
	for _, a := range awbs {
		if a.TrackingNumber == "" || deliveryState(a.ExpeditionStatus) == deliveryDelivered {
			continue
		}
		done, ok := terminal[a.ShipmentID]
		if !ok {
			sh, err := s.repo.Shipment(ctx, a.ShipmentID)
			if err != nil {
				return 0, err
			}
			done = sh.Status.Terminal()
			terminal[a.ShipmentID] = done
		}
		if done {
			continue
		}
		payloads = append(payloads, StatusPayload{AWBID: a.ID})
	}

	for _, chunk := range store.Chunk(payloads, tasks.MaxBatchTrigger) {
		if _, err := s.dispatcher.BatchTrigger(ctx, TaskStatusUpdate, chunk); err != nil {
			return 0, err
		}
	}
	return len(payloads), nil
}

// TrackingJob is TrackStatuses shaped for the scheduler.
func (s *Service) TrackingJob(ctx context.Context) {
	n, err := s.TrackStatuses(ctx)
	if err != nil {
		s.log.Error("tracking sweep failed", zap.Error(err))
		return
	}
	s.log.Info("tracking sweep enqueued", zap.Int("awbs", n))
}

package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/webhook"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type EmailAWB struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TrackingNumber string `json:"trackingNumber"`
	PDFLink        string `json:"pdfLink"`
	ParcelCount    int    `json:"parcelCount"`
	EmailSentCount int    `json:"emailSentCount"`
}

type EmailRecipient struct {
	ID         string `json:"id"`
	AWBID      string `json:"awbId"`
	Name       string `json:"name"`
	Group      string `json:"group"`
	School     string `json:"school"`
	ReceiptURL string `json:"receiptUrl,omitempty"`
	LabelURL   string `json:"labelUrl,omitempty"`
}

type StaticRef struct {
	Kind records.StaticKind `json:"kind"`
	Name string             `json:"name"`
	URL  string             `json:"url"`
}

// LogisticsEmailPayload is everything logistics receives about one shipment.
type LogisticsEmailPayload struct {
	ShipmentID      string           `json:"shipmentId"`
	To              string           `json:"to"`
	AWBs            []EmailAWB       `json:"awbs"`
	Recipients      []EmailRecipient `json:"recipients"`
	StaticDocuments []StaticRef      `json:"staticDocuments"`
}

type EmailEnqueueResult struct {
	Shipments int      `json:"shipments"`
	AWBs      int      `json:"awbs"`
	RunIDs    []string `json:"runIds"`
}

type EmailResult struct {
	ShipmentID string `json:"shipmentId"`
	Sent       int    `json:"sent"`
}

// QueueLogisticsEmails enqueues one logistics email per shipment touched by the
// selected recipients. Unless disabled in config, each email lists every recipient
// of its shipment, selected or not.
func (s *Service) QueueLogisticsEmails(ctx context.Context, recipientIDs []string) (*EmailEnqueueResult, error) {
	verr := &ValidationError{}
	if len(recipientIDs) == 0 {
		verr.add("no recipients selected")
		return nil, verr
	}
	if s.cfg.Webhooks.EmailURL == "" {
		return nil, &webhook.ConfigError{Name: "email"}
	}
	selected, err := s.repo.RecipientsByID(ctx, recipientIDs)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(selected))
	for _, r := range selected {
		have[r.ID] = true
	}
	for _, id := range recipientIDs {
		if !have[id] {
			verr.add("recipient %s not found", id)
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	byShipment := map[string][]records.Recipient{}
	for _, r := range selected {
		byShipment[r.ShipmentID] = append(byShipment[r.ShipmentID], r)
	}
	shipmentIDs := make([]string, 0, len(byShipment))
	for id := range byShipment {
		shipmentIDs = append(shipmentIDs, id)
	}
	sort.Strings(shipmentIDs)

	statics, err := s.staticRefs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		payloads []any
		queued   []records.AWB
	)
	for _, shipmentID := range shipmentIDs {
		recipients := byShipment[shipmentID]
		if s.cfg.Pipeline.IncludeAllShipmentRecipients {
			all, err := s.repo.RecipientsByShipment(ctx, shipmentID)
			if err != nil {
				return nil, err
			}
			if len(all) > len(recipients) {
				s.log.Info("logistics email widened to the whole shipment",
					zap.String("shipment", shipmentID), zap.Int("selected", len(recipients)), zap.Int("included", len(all)))
			}
			recipients = all
		}

		payload, awbs, err := s.emailPayload(ctx, shipmentID, recipients, statics)
		if err != nil {
			return nil, err
		}
		for _, a := range awbs {
			if !a.EmailStatus.CanTransition(records.EmailQueued) {
				verr.add("awb %s email is %s", a.ID, a.EmailStatus)
			}
		}
		payloads = append(payloads, payload)
		queued = append(queued, awbs...)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	if err := s.repo.QueueEmails(ctx, queued); err != nil {
		return nil, err
	}

	result := &EmailEnqueueResult{Shipments: len(payloads), AWBs: len(queued)}
	for _, chunk := range store.Chunk(payloads, tasks.MaxBatchTrigger) {
		ids, err := s.dispatcher.BatchTrigger(ctx, TaskSendLogistics, chunk)
		if err != nil {
			return result, fmt.Errorf("enqueue logistics emails: %w", err)
		}
		result.RunIDs = append(result.RunIDs, ids...)
	}
	return result, nil
}

func (s *Service) staticRefs(ctx context.Context) ([]StaticRef, error) {
	var refs []StaticRef
	for _, kind := range []records.StaticKind{records.StaticInventory, records.StaticInstructions} {
		doc, err := s.repo.StaticDocument(ctx, kind)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		refs = append(refs, StaticRef{Kind: kind, Name: doc.Name, URL: doc.URL})
	}
	return refs, nil
}

func (s *Service) emailPayload(ctx context.Context, shipmentID string, recipients []records.Recipient, statics []StaticRef) (LogisticsEmailPayload, []records.AWB, error) {
	payload := LogisticsEmailPayload{
		ShipmentID:      shipmentID,
		To:              s.cfg.Pipeline.LogisticsEmail,
		StaticDocuments: statics,
	}

	var awbIDs []string
	seen := map[string]bool{}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID < recipients[j].ID })
	for _, r := range recipients {
		er := EmailRecipient{ID: r.ID, AWBID: r.AWBID, Name: r.Name, Group: r.Group, School: r.School}
		if d, ok := r.Document(records.DocReceipt); ok {
			er.ReceiptURL = d.URL
		}
		if d, ok := r.Document(records.DocAWBLabel); ok {
			er.LabelURL = d.URL
		}
		payload.Recipients = append(payload.Recipients, er)
		if r.AWBID != "" && !seen[r.AWBID] {
			seen[r.AWBID] = true
			awbIDs = append(awbIDs, r.AWBID)
		}
	}

	awbs, err := s.repo.AWBsByID(ctx, awbIDs)
	if err != nil {
		return payload, nil, err
	}
	sort.Slice(awbs, func(i, j int) bool { return awbs[i].ID < awbs[j].ID })
	for _, a := range awbs {
		payload.AWBs = append(payload.AWBs, EmailAWB{
			ID:             a.ID,
			Name:           a.Name,
			TrackingNumber: a.TrackingNumber,
			PDFLink:        a.PDFLink,
			ParcelCount:    a.ParcelCount,
			EmailSentCount: a.EmailSentCount,
		})
	}
	return payload, awbs, nil
}

func (s *Service) runSendLogistics(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[LogisticsEmailPayload](payload)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("shipment", p.ShipmentID))

	if _, err := s.hooks.Post(ctx, "email", s.cfg.Webhooks.EmailURL, p); err != nil {
		if !tasks.IsRetryable(err) {
			for _, a := range p.AWBs {
				if terr := s.repo.TransitionEmail(ctx, a.ID, records.EmailFailed, nil); terr != nil {
					log.Warn("email status not updated", zap.String("awb", a.ID), zap.Error(terr))
				}
			}
		}
		return nil, err
	}

	var errs error
	sent := 0
	for _, a := range p.AWBs {
		err := s.repo.TransitionEmail(ctx, a.ID, records.EmailSent, map[string]any{"emailSentCount": a.EmailSentCount + 1})
		var terr *records.TransitionError
		switch {
		case err == nil:
			sent++
		case errors.As(err, &terr):
			log.Info("email status already moved on", zap.String("awb", a.ID), zap.Error(err))
		default:
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return nil, errs
	}

	_, err = s.repo.TransitionShipment(ctx, p.ShipmentID, records.ShipmentSentToLogistics)
	var terr *records.TransitionError
	if err != nil && !errors.As(err, &terr) {
		return nil, err
	}
	return EmailResult{ShipmentID: p.ShipmentID, Sent: sent}, nil
}

package orchestration

import (
	"context"
	"fmt"
	"sort"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"

	"go.uber.org/zap"
)

// AWBRef names one AWB together with the shipment the caller believes owns it.
type AWBRef struct {
	ShipmentID string `json:"shipmentId" validate:"required"`
	AWBID      string `json:"awbId" validate:"required"`
}

type EnqueueResult struct {
	Items     int      `json:"items"`
	Shipments int      `json:"shipments,omitempty"`
	RunIDs    []string `json:"runIds"`
}

// EnqueueAWBs queues the referenced AWBs and starts one generation pipeline per
// shipment. Every reference is validated before anything is written.
func (s *Service) EnqueueAWBs(ctx context.Context, refs []AWBRef) (*EnqueueResult, error) {
	verr := &ValidationError{}
	if len(refs) == 0 {
		verr.add("no AWBs selected")
		return nil, verr
	}

	ids := make([]string, 0, len(refs))
	seen := map[string]bool{}
	for _, ref := range refs {
		if !seen[ref.AWBID] {
			seen[ref.AWBID] = true
			ids = append(ids, ref.AWBID)
		}
	}
	awbs, err := s.repo.AWBsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]records.AWB, len(awbs))
	for _, a := range awbs {
		byID[a.ID] = a
	}

	var queue []records.AWB
	shipments := map[string][]string{}
	queued := map[string]bool{}
	for _, ref := range refs {
		a, ok := byID[ref.AWBID]
		if !ok {
			verr.add("awb %s not found", ref.AWBID)
			continue
		}
		if err := records.CheckAWBOwnership(&a, ref.ShipmentID); err != nil {
			verr.add("%v", err)
			continue
		}
		if !a.Status.CanTransition(records.AWBQueued) {
			verr.add("awb %s is %s and cannot be queued", a.ID, a.Status)
			continue
		}
		if queued[a.ID] {
			continue
		}
		queued[a.ID] = true
		queue = append(queue, a)
		shipments[a.ShipmentID] = append(shipments[a.ShipmentID], a.ID)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	if err := s.repo.QueueAWBs(ctx, queue); err != nil {
		return nil, err
	}

	shipmentIDs := make([]string, 0, len(shipments))
	for id := range shipments {
		shipmentIDs = append(shipmentIDs, id)
	}
	sort.Strings(shipmentIDs)
	payloads := make([]any, 0, len(shipmentIDs))
	for _, id := range shipmentIDs {
		payloads = append(payloads, PipelinePayload{ShipmentID: id, AWBIDs: shipments[id]})
	}

	result := &EnqueueResult{Items: len(queue), Shipments: len(shipmentIDs)}
	if err := s.batchTrigger(ctx, TaskGeneratePipeline, payloads, result); err != nil {
		return result, err
	}
	s.log.Info("AWB generation enqueued", zap.Int("awbs", result.Items), zap.Int("shipments", result.Shipments))
	return result, nil
}

// EnqueueStatusUpdates starts a carrier status refresh for each AWB.
func (s *Service) EnqueueStatusUpdates(ctx context.Context, awbIDs []string) (*EnqueueResult, error) {
	verr := &ValidationError{}
	if len(awbIDs) == 0 {
		verr.add("no AWBs selected")
		return nil, verr
	}
	awbs, err := s.repo.AWBsByID(ctx, awbIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]records.AWB, len(awbs))
	for _, a := range awbs {
		byID[a.ID] = a
	}
	payloads := make([]any, 0, len(awbIDs))
	for _, id := range awbIDs {
		a, ok := byID[id]
		switch {
		case !ok:
			verr.add("awb %s not found", id)
		case a.TrackingNumber == "":
			verr.add("awb %s has no tracking number", id)
		default:
			payloads = append(payloads, StatusPayload{AWBID: id})
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	result := &EnqueueResult{Items: len(payloads)}
	return result, s.batchTrigger(ctx, TaskStatusUpdate, payloads, result)
}

// EnqueueReminders starts one reminder per recipient.
func (s *Service) EnqueueReminders(ctx context.Context, recipientIDs []string) (*EnqueueResult, error) {
	recipients, err := s.existingRecipients(ctx, recipientIDs)
	if err != nil {
		return nil, err
	}
	payloads := make([]any, 0, len(recipients))
	for _, r := range recipients {
		payloads = append(payloads, ReminderPayload{RecipientID: r.ID})
	}
	result := &EnqueueResult{Items: len(payloads)}
	return result, s.batchTrigger(ctx, TaskSendReminder, payloads, result)
}

// EnqueueReformat starts one signed-file reformat per recipient.
func (s *Service) EnqueueReformat(ctx context.Context, recipientIDs []string) (*EnqueueResult, error) {
	recipients, err := s.existingRecipients(ctx, recipientIDs)
	if err != nil {
		return nil, err
	}
	verr := &ValidationError{}
	payloads := make([]any, 0, len(recipients))
	for _, r := range recipients {
		if r.SignedURL == "" {
			verr.add("recipient %s has no signed file", r.ID)
			continue
		}
		payloads = append(payloads, ReformatPayload{RecipientID: r.ID})
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	result := &EnqueueResult{Items: len(payloads)}
	return result, s.batchTrigger(ctx, TaskReformatSigned, payloads, result)
}

// TriggerPVBulk validates a bulk document request and hands it to the runner.
func (s *Service) TriggerPVBulk(ctx context.Context, p PVBulkPayload) (string, error) {
	verr := &ValidationError{}
	if len(p.RecipientIDs) == 0 {
		verr.add("no recipients selected")
	}
	if p.DocumentType != "" && !generatedDocument(p.DocumentType) {
		verr.add("document type %q cannot be generated", p.DocumentType)
	}
	if err := verr.orNil(); err != nil {
		return "", err
	}
	if _, err := s.documentURL(); err != nil {
		return "", err
	}
	return s.dispatcher.Trigger(ctx, TaskGeneratePVBulk, p)
}

func (s *Service) TriggerRename(ctx context.Context, p RenamePayload) (string, error) {
	return s.dispatcher.Trigger(ctx, TaskRenameSigned, p)
}

// Run reports the state of a task run.
func (s *Service) Run(ctx context.Context, runID string) (*tasks.Run, error) {
	return s.dispatcher.Run(ctx, runID)
}

func generatedDocument(t records.DocumentType) bool {
	switch t {
	case records.DocReceipt, records.DocInstructions, records.DocInventory:
		return true
	}
	return false
}

func (s *Service) existingRecipients(ctx context.Context, ids []string) ([]records.Recipient, error) {
	verr := &ValidationError{}
	if len(ids) == 0 {
		verr.add("no recipients selected")
		return nil, verr
	}
	recipients, err := s.repo.RecipientsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		have[r.ID] = true
	}
	for _, id := range ids {
		if !have[id] {
			verr.add("recipient %s not found", id)
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID < recipients[j].ID })
	return recipients, nil
}

// batchTrigger enqueues payloads in runner-sized chunks and records the run ids.
func (s *Service) batchTrigger(ctx context.Context, task string, payloads []any, result *EnqueueResult) error {
	result.RunIDs = []string{}
	for _, chunk := range store.Chunk(payloads, tasks.MaxBatchTrigger) {
		ids, err := s.dispatcher.BatchTrigger(ctx, task, chunk)
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", task, err)
		}
		result.RunIDs = append(result.RunIDs, ids...)
	}
	return nil
}

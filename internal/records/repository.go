package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ExpeditionFlow/internal/events"
	"ExpeditionFlow/internal/store"

	"go.uber.org/zap"
)

// Repository gives typed access to the pipeline collections. Every status change
// goes through one of the Transition methods.
type Repository struct {
	store     store.Store
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewRepository(s store.Store, publisher events.Publisher, log *zap.Logger) *Repository {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Repository{store: s, publisher: publisher, log: log, now: time.Now}
}

// Store exposes the underlying accessor for batch writes.
func (r *Repository) Store() store.Store { return r.store }

func getAs[T any](ctx context.Context, s store.Store, collection, id string) (*T, error) {
	rec, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := store.Decode(rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func queryAs[T any](ctx context.Context, s store.Store, collection string, filters ...store.Filter) ([]T, error) {
	recs, err := s.Query(ctx, collection, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := store.Decode(rec, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Repository) Shipment(ctx context.Context, id string) (*Shipment, error) {
	return getAs[Shipment](ctx, r.store, ShipmentsCollection, id)
}

func (r *Repository) Shipments(ctx context.Context) ([]Shipment, error) {
	return queryAs[Shipment](ctx, r.store, ShipmentsCollection)
}

func (r *Repository) AWB(ctx context.Context, id string) (*AWB, error) {
	return getAs[AWB](ctx, r.store, AWBsCollection, id)
}

func (r *Repository) AWBsByShipment(ctx context.Context, shipmentID string) ([]AWB, error) {
	return queryAs[AWB](ctx, r.store, AWBsCollection, store.Eq("shipmentId", shipmentID))
}

func (r *Repository) AWBsByID(ctx context.Context, ids []string) ([]AWB, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryAs[AWB](ctx, r.store, AWBsCollection, store.In(store.IDField, ids...))
}

func (r *Repository) AWBsByStatus(ctx context.Context, statuses ...AWBStatus) ([]AWB, error) {
	return queryAs[AWB](ctx, r.store, AWBsCollection, store.In("status", statuses...))
}

func (r *Repository) Recipient(ctx context.Context, id string) (*Recipient, error) {
	return getAs[Recipient](ctx, r.store, RecipientsCollection, id)
}

func (r *Repository) RecipientsByID(ctx context.Context, ids []string) ([]Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryAs[Recipient](ctx, r.store, RecipientsCollection, store.In(store.IDField, ids...))
}

func (r *Repository) RecipientsByShipment(ctx context.Context, shipmentID string) ([]Recipient, error) {
	return queryAs[Recipient](ctx, r.store, RecipientsCollection, store.Eq("shipmentId", shipmentID))
}

func (r *Repository) RecipientsByAWB(ctx context.Context, awbID string) ([]Recipient, error) {
	return queryAs[Recipient](ctx, r.store, RecipientsCollection, store.Eq("awbId", awbID))
}

func (r *Repository) AllRecipients(ctx context.Context) ([]Recipient, error) {
	return queryAs[Recipient](ctx, r.store, RecipientsCollection)
}

// StaticDocument returns nil without error when nothing was uploaded for kind.
func (r *Repository) StaticDocument(ctx context.Context, kind StaticKind) (*StaticDocument, error) {
	doc, err := getAs[StaticDocument](ctx, r.store, StaticDocumentsCollection, string(kind))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

func (r *Repository) SaveStaticDocument(ctx context.Context, doc StaticDocument) error {
	rec, err := store.Encode(doc)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, StaticDocumentsCollection, string(doc.Kind), rec)
}

// UpdateAWB sets fields on an AWB without touching its status.
func (r *Repository) UpdateAWB(ctx context.Context, id string, fields map[string]any) error {
	fields["updatedAt"] = r.now()
	return r.store.Batch(ctx, []store.Op{store.Update(AWBsCollection, id, fields)})
}

func (r *Repository) UpdateRecipient(ctx context.Context, id string, fields map[string]any) error {
	return r.store.Batch(ctx, []store.Op{store.Update(RecipientsCollection, id, fields)})
}

// SetDocument stores the state of one recipient document under the same rules as
// SetDocuments.
func (r *Repository) SetDocument(ctx context.Context, recipientID string, t DocumentType, state DocumentState) error {
	return r.SetDocuments(ctx, t, map[string]DocumentState{recipientID: state})
}

// TransitionAWB moves an AWB from its current status to to. extra fields are
// written in the same compare-and-set. A concurrent writer that changed the status
// first makes this call fail with store.ErrConflict.
func (r *Repository) TransitionAWB(ctx context.Context, id string, to AWBStatus, extra map[string]any) (AWBStatus, error) {
	awb, err := r.AWB(ctx, id)
	if err != nil {
		return "", err
	}
	from := awb.Status
	if !from.CanTransition(to) {
		return from, &TransitionError{Entity: "awb", ID: id, From: string(from), To: string(to)}
	}
	fields := map[string]any{"status": to, "updatedAt": r.now()}
	for k, v := range extra {
		fields[k] = v
	}
	if err := r.store.UpdateIf(ctx, AWBsCollection, id, map[string]any{"status": from}, fields); err != nil {
		return from, err
	}
	r.publish(ctx, "awb", id, string(from), string(to))
	return from, nil
}

// TransitionShipment is TransitionAWB for shipments.
func (r *Repository) TransitionShipment(ctx context.Context, id string, to ShipmentStatus) (ShipmentStatus, error) {
	sh, err := r.Shipment(ctx, id)
	if err != nil {
		return "", err
	}
	from := sh.Status
	if from == to && !from.CanTransition(to) {
		return from, nil
	}
	if !from.CanTransition(to) {
		return from, &TransitionError{Entity: "shipment", ID: id, From: string(from), To: string(to)}
	}
	err = r.store.UpdateIf(ctx, ShipmentsCollection, id,
		map[string]any{"status": from},
		map[string]any{"status": to, "updatedAt": r.now()})
	if err != nil {
		return from, err
	}
	r.publish(ctx, "shipment", id, string(from), string(to))
	return from, nil
}

// TransitionEmail moves the email status of an AWB.
func (r *Repository) TransitionEmail(ctx context.Context, id string, to EmailStatus, extra map[string]any) error {
	awb, err := r.AWB(ctx, id)
	if err != nil {
		return err
	}
	from := awb.EmailStatus
	if !from.CanTransition(to) {
		return &TransitionError{Entity: "awb email", ID: id, From: string(from), To: string(to)}
	}
	fields := map[string]any{"emailStatus": to, "updatedAt": r.now()}
	for k, v := range extra {
		fields[k] = v
	}
	if err := r.store.UpdateIf(ctx, AWBsCollection, id, map[string]any{"emailStatus": from}, fields); err != nil {
		return err
	}
	r.publish(ctx, "awb.email", id, string(from), string(to))
	return nil
}

func (r *Repository) statusEvent(entity, id, from, to string) events.StatusChanged {
	return events.StatusChanged{
		Event:  entity + ".status_changed",
		Entity: entity,
		ID:     id,
		From:   from,
		To:     to,
		At:     r.now(),
	}
}

func (r *Repository) publish(ctx context.Context, entity, id, from, to string) {
	if err := r.publisher.Publish(ctx, id, r.statusEvent(entity, id, from, to)); err != nil {
		r.log.Warn("status event not published", zap.String("entity", entity), zap.String("id", id), zap.Error(err))
	}
}

// publishQueued sends the status events of a queued batch in a single write.
func (r *Repository) publishQueued(ctx context.Context, entity string, awbs []AWB, from func(AWB) string, to string) {
	msgs := make([]events.Message, 0, len(awbs))
	for _, a := range awbs {
		msgs = append(msgs, events.Message{Key: a.ID, Value: r.statusEvent(entity, a.ID, from(a), to)})
	}
	if err := r.publisher.PublishBatch(ctx, msgs); err != nil {
		r.log.Warn("status events not published", zap.String("entity", entity), zap.Int("count", len(msgs)), zap.Error(err))
	}
}

// CheckAWBOwnership verifies that an AWB belongs to the shipment a caller named.
func CheckAWBOwnership(awb *AWB, shipmentID string) error {
	if awb.ShipmentID != shipmentID {
		return fmt.Errorf("awb %s belongs to shipment %s, not %s", awb.ID, awb.ShipmentID, shipmentID)
	}
	return nil
}

// QueueAWBs moves every given AWB to Queued in chunked batches. The caller passes
// AWBs as just read; each one is checked against the transition table first and
// nothing is written if any move is illegal.
func (r *Repository) QueueAWBs(ctx context.Context, awbs []AWB) error {
	now := r.now()
	ops := make([]store.Op, 0, len(awbs))
	for _, a := range awbs {
		if !a.Status.CanTransition(AWBQueued) {
			return &TransitionError{Entity: "awb", ID: a.ID, From: string(a.Status), To: string(AWBQueued)}
		}
		ops = append(ops, store.Update(AWBsCollection, a.ID, map[string]any{
			"status":    AWBQueued,
			"lastError": "",
			"updatedAt": now,
		}))
	}
	if err := store.BatchChunked(ctx, r.store, ops); err != nil {
		return err
	}
	r.publishQueued(ctx, "awb", awbs, func(a AWB) string { return string(a.Status) }, string(AWBQueued))
	return nil
}

// QueueEmails marks the email status of every given AWB as Queued.
func (r *Repository) QueueEmails(ctx context.Context, awbs []AWB) error {
	now := r.now()
	ops := make([]store.Op, 0, len(awbs))
	for _, a := range awbs {
		if !a.EmailStatus.CanTransition(EmailQueued) {
			return &TransitionError{Entity: "awb email", ID: a.ID, From: string(a.EmailStatus), To: string(EmailQueued)}
		}
		ops = append(ops, store.Update(AWBsCollection, a.ID, map[string]any{"emailStatus": EmailQueued, "updatedAt": now}))
	}
	if err := store.BatchChunked(ctx, r.store, ops); err != nil {
		return err
	}
	r.publishQueued(ctx, "awb.email", awbs, func(a AWB) string { return string(a.EmailStatus) }, string(EmailQueued))
	return nil
}

// SetDocuments writes one document state per recipient in chunked batches. A state
// the recipient's current document cannot move to is left out, so a failed
// regeneration never replaces a generated document. A missing recipient fails its
// chunk.
func (r *Repository) SetDocuments(ctx context.Context, t DocumentType, states map[string]DocumentState) error {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := r.now()
	for i, chunk := range store.Chunk(ids, store.MaxBatchOps) {
		current, err := r.RecipientsByID(ctx, chunk)
		if err != nil {
			return err
		}
		from := make(map[string]DocumentStatus, len(current))
		for _, rc := range current {
			if d, ok := rc.Document(t); ok {
				from[rc.ID] = d.Status
			}
		}

		ops := make([]store.Op, 0, len(chunk))
		for _, id := range chunk {
			state := states[id]
			if !from[id].CanTransition(state.Status) {
				r.log.Info("document state kept",
					zap.String("recipient", id), zap.String("document", string(t)),
					zap.String("status", string(from[id])), zap.String("rejected", string(state.Status)))
				continue
			}
			if state.UpdatedAt.IsZero() {
				state.UpdatedAt = now
			}
			ops = append(ops, store.Update(RecipientsCollection, id, map[string]any{DocumentField(t, ""): state}))
		}
		if len(ops) == 0 {
			continue
		}
		if err := r.store.Batch(ctx, ops); err != nil {
			return fmt.Errorf("batch chunk %d: %w", i, err)
		}
	}
	return nil
}

// PipelineRun returns the step log of an AWB, or nil when it never ran.
func (r *Repository) PipelineRun(ctx context.Context, awbID string) (*PipelineRun, error) {
	run, err := getAs[PipelineRun](ctx, r.store, PipelineRunsCollection, awbID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return run, err
}

func (r *Repository) SavePipelineRun(ctx context.Context, run *PipelineRun) error {
	run.UpdatedAt = r.now()
	rec, err := store.Encode(run)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, PipelineRunsCollection, run.AWBID, rec)
}

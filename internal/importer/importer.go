// Package importer turns parsed spreadsheet rows into shipments, AWBs and recipients.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Field is a record attribute a spreadsheet column can be mapped to.
type Field string

const (
	FieldShipmentID  Field = "shipmentId"
	FieldAWBName     Field = "awbName"
	FieldRecipientID Field = "recipientId"
	FieldName        Field = "name"
	FieldGroup       Field = "group"
	FieldSchool      Field = "school"
	FieldPhone       Field = "phone"
	FieldEmail       Field = "email"
	FieldAddress     Field = "address"
	FieldCity        Field = "city"
	FieldCounty      Field = "county"
	FieldPostalCode  Field = "postalCode"
	FieldPackageSize Field = "packageSize"
)

var requiredFields = []Field{FieldShipmentID, FieldAWBName, FieldRecipientID, FieldName}

var knownFields = map[Field]bool{
	FieldShipmentID: true, FieldAWBName: true, FieldRecipientID: true, FieldName: true,
	FieldGroup: true, FieldSchool: true, FieldPhone: true, FieldEmail: true, FieldAddress: true,
	FieldCity: true, FieldCounty: true, FieldPostalCode: true, FieldPackageSize: true,
}

// awbNamespace seeds the deterministic AWB ids.
var awbNamespace = uuid.MustParse("5b8f3c2e-7d41-4a9e-b6c0-3e2f1d9a8c47")

// AWBID returns the id of the AWB grouping rows with this shipment and AWB name.
func AWBID(shipmentID, awbName string) string {
	return uuid.NewSHA1(awbNamespace, []byte(shipmentID+"\x00"+awbName)).String()
}

// Request is a parsed spreadsheet plus the column to field mapping chosen for it.
type Request struct {
	Rows    []map[string]string `json:"rows" validate:"required,min=1"`
	Mapping map[string]Field    `json:"mapping" validate:"required,min=1"`
}

// Result counts what an import created.
type Result struct {
	Shipments  int `json:"shipments"`
	AWBs       int `json:"awbs"`
	Recipients int `json:"recipients"`
}

// ValidationError lists every problem found in the rows. Nothing is written when
// one is returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0]
	}
	return fmt.Sprintf("%d import problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Retryable() bool { return false }

// Importer writes imported rows through the records repository.
type Importer struct {
	repo *records.Repository
	log  *zap.Logger
	now  func() time.Time
}

// NewImporter creates a new Importer.
func NewImporter(repo *records.Repository, log *zap.Logger) *Importer {
	return &Importer{repo: repo, log: log.Named("importer"), now: time.Now}
}

type row map[Field]string

type awbGroup struct {
	id         string
	shipmentID string
	name       string
	rows       []row
}

// Import validates every row, groups rows into AWBs by (shipmentId, awbName) and
// writes shipments, AWBs and recipients in batches.
func (im *Importer) Import(ctx context.Context, req Request) (*Result, error) {
	rows, err := mapRows(req)
	if err != nil {
		return nil, err
	}

	groups, shipmentIDs := groupRows(rows)
	if err := im.checkExisting(ctx, rows, groups); err != nil {
		return nil, err
	}

	now := im.now()
	ops := make([]store.Op, 0, len(shipmentIDs)+len(groups)+len(rows))

	perShipment := map[string]struct{ awbs, recipients int }{}
	for _, g := range groups {
		c := perShipment[g.shipmentID]
		c.awbs++
		c.recipients += len(g.rows)
		perShipment[g.shipmentID] = c
	}

	for _, id := range shipmentIDs {
		op, err := im.shipmentOp(ctx, id, perShipment[id].awbs, perShipment[id].recipients, now)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	for _, g := range groups {
		main := g.rows[0]
		awb := records.AWB{
			ID:            g.id,
			ShipmentID:    g.shipmentID,
			Name:          g.name,
			RecipientName: main[FieldName],
			Phone:         main[FieldPhone],
			Email:         main[FieldEmail],
			ParcelCount:   len(g.rows),
			PackageSize:   main[FieldPackageSize],
			Address:       main[FieldAddress],
			City:          main[FieldCity],
			County:        main[FieldCounty],
			PostalCode:    main[FieldPostalCode],
			Status:        records.AWBNew,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		rec, err := store.Encode(awb)
		if err != nil {
			return nil, err
		}
		ops = append(ops, store.Set(records.AWBsCollection, awb.ID, rec))
	}

	for _, g := range groups {
		for _, r := range g.rows {
			recipient := records.Recipient{
				ID:         r[FieldRecipientID],
				ShipmentID: g.shipmentID,
				AWBID:      g.id,
				Name:       r[FieldName],
				Group:      r[FieldGroup],
				School:     r[FieldSchool],
				Phone:      r[FieldPhone],
				Email:      r[FieldEmail],
				Address:    r[FieldAddress],
				// Document slots are written with dotted paths later; the parent
				// map has to exist for those updates to apply.
				Documents: map[records.DocumentType]records.DocumentState{},
				CreatedAt: now,
			}
			rec, err := store.Encode(recipient)
			if err != nil {
				return nil, err
			}
			ops = append(ops, store.Set(records.RecipientsCollection, recipient.ID, rec))
		}
	}

	if err := store.BatchChunked(ctx, im.repo.Store(), ops); err != nil {
		return nil, fmt.Errorf("write import: %w", err)
	}

	res := &Result{Shipments: len(shipmentIDs), AWBs: len(groups), Recipients: len(rows)}
	im.log.Info("import written",
		zap.Int("shipments", res.Shipments), zap.Int("awbs", res.AWBs), zap.Int("recipients", res.Recipients))
	return res, nil
}

// mapRows applies the column mapping and checks required values and duplicate ids.
func mapRows(req Request) ([]row, error) {
	verr := &ValidationError{}
	if len(req.Rows) == 0 {
		verr.Problems = append(verr.Problems, "no rows to import")
		return nil, verr
	}

	mapped := map[Field]bool{}
	for column, f := range req.Mapping {
		if !knownFields[f] {
			verr.Problems = append(verr.Problems, fmt.Sprintf("column %q mapped to unknown field %q", column, f))
			continue
		}
		if mapped[f] {
			verr.Problems = append(verr.Problems, fmt.Sprintf("field %q mapped twice", f))
		}
		mapped[f] = true
	}
	for _, f := range requiredFields {
		if !mapped[f] {
			verr.Problems = append(verr.Problems, fmt.Sprintf("required field %q is not mapped", f))
		}
	}
	if len(verr.Problems) > 0 {
		sort.Strings(verr.Problems)
		return nil, verr
	}

	rows := make([]row, 0, len(req.Rows))
	seen := map[string]int{}
	for i, raw := range req.Rows {
		r := row{}
		for column, f := range req.Mapping {
			r[f] = strings.TrimSpace(raw[column])
		}
		line := i + 1
		for _, f := range requiredFields {
			if r[f] == "" {
				verr.Problems = append(verr.Problems, fmt.Sprintf("row %d: %s is empty", line, f))
			}
		}
		if id := r[FieldRecipientID]; id != "" {
			if first, dup := seen[id]; dup {
				verr.Problems = append(verr.Problems, fmt.Sprintf("row %d: recipient %s already used in row %d", line, id, first))
			} else {
				seen[id] = line
			}
		}
		rows = append(rows, r)
	}
	if len(verr.Problems) > 0 {
		return nil, verr
	}
	return rows, nil
}

// groupRows keeps groups and shipments in order of first appearance.
func groupRows(rows []row) ([]*awbGroup, []string) {
	var groups []*awbGroup
	byID := map[string]*awbGroup{}
	var shipmentIDs []string
	seenShipment := map[string]bool{}

	for _, r := range rows {
		shipmentID, name := r[FieldShipmentID], r[FieldAWBName]
		id := AWBID(shipmentID, name)
		g, ok := byID[id]
		if !ok {
			g = &awbGroup{id: id, shipmentID: shipmentID, name: name}
			byID[id] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
		if !seenShipment[shipmentID] {
			seenShipment[shipmentID] = true
			shipmentIDs = append(shipmentIDs, shipmentID)
		}
	}
	return groups, shipmentIDs
}

// checkExisting rejects rows that would overwrite imported recipients or AWBs.
func (im *Importer) checkExisting(ctx context.Context, rows []row, groups []*awbGroup) error {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r[FieldRecipientID])
	}
	verr := &ValidationError{}
	for _, chunk := range store.Chunk(ids, store.MaxBatchOps) {
		existing, err := im.repo.RecipientsByID(ctx, chunk)
		if err != nil {
			return err
		}
		for _, r := range existing {
			verr.Problems = append(verr.Problems, fmt.Sprintf("recipient %s already imported", r.ID))
		}
	}

	awbIDs := make([]string, 0, len(groups))
	names := map[string]*awbGroup{}
	for _, g := range groups {
		awbIDs = append(awbIDs, g.id)
		names[g.id] = g
	}
	for _, chunk := range store.Chunk(awbIDs, store.MaxBatchOps) {
		existing, err := im.repo.AWBsByID(ctx, chunk)
		if err != nil {
			return err
		}
		for _, a := range existing {
			g := names[a.ID]
			verr.Problems = append(verr.Problems, fmt.Sprintf("awb %q of shipment %s already imported", g.name, g.shipmentID))
		}
	}
	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// shipmentOp creates a new shipment or adds the imported counts to an existing one.
func (im *Importer) shipmentOp(ctx context.Context, id string, awbs, recipients int, now time.Time) (store.Op, error) {
	existing, err := im.repo.Shipment(ctx, id)
	switch {
	case err == nil:
		return store.Update(records.ShipmentsCollection, id, map[string]any{
			"awbCount":       existing.AWBCount + awbs,
			"recipientCount": existing.RecipientCount + recipients,
			"updatedAt":      now,
		}), nil
	case !errors.Is(err, store.ErrNotFound):
		return store.Op{}, err
	}

	rec, err := store.Encode(records.Shipment{
		ID:             id,
		Status:         records.ShipmentNew,
		RecipientCount: recipients,
		AWBCount:       awbs,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return store.Op{}, err
	}
	return store.Set(records.ShipmentsCollection, id, rec), nil
}

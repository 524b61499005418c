package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"
	"ExpeditionFlow/internal/webhook"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPVChunkSize is the number of document calls in flight at once when the
// configured window is not positive.
const DefaultPVChunkSize = 20

type PVPayload struct {
	RecipientID  string               `json:"recipientId"`
	DocumentType records.DocumentType `json:"documentType,omitempty"`
}

type PVBulkPayload struct {
	RecipientIDs []string             `json:"recipientIds"`
	DocumentType records.DocumentType `json:"documentType,omitempty"`
}

// PVReport summarises a bulk generation. Success is true only when nothing failed.
type PVReport struct {
	Success      bool     `json:"success"`
	Total        int      `json:"total"`
	SuccessCount int      `json:"successCount"`
	FailCount    int      `json:"failCount"`
	Errors       []string `json:"errors"`
}

// DocumentRequest is the document webhook payload for one recipient.
type DocumentRequest struct {
	DocumentType records.DocumentType `json:"documentType"`
	RecipientID  string               `json:"recipientId"`
	ShipmentID   string               `json:"shipmentId"`
	AWBID        string               `json:"awbId"`
	Name         string               `json:"name"`
	Group        string               `json:"group"`
	School       string               `json:"school"`
	Phone        string               `json:"phone"`
	Email        string               `json:"email"`
	Address      string               `json:"address"`
}

func documentRequest(t records.DocumentType, r records.Recipient) DocumentRequest {
	return DocumentRequest{
		DocumentType: t,
		RecipientID:  r.ID,
		ShipmentID:   r.ShipmentID,
		AWBID:        r.AWBID,
		Name:         r.Name,
		Group:        r.Group,
		School:       r.School,
		Phone:        r.Phone,
		Email:        r.Email,
		Address:      r.Address,
	}
}

func (s *Service) documentURL() (string, error) {
	url := s.cfg.Webhooks.DocumentURL
	if url == "" {
		return "", &webhook.ConfigError{Name: "document"}
	}
	return url, nil
}

func (s *Service) runGeneratePV(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[PVPayload](payload)
	if err != nil {
		return nil, err
	}
	if p.RecipientID == "" {
		return nil, tasks.Permanent(errors.New("recipientId is required"))
	}
	if p.DocumentType == "" {
		p.DocumentType = records.DocReceipt
	}
	url, err := s.documentURL()
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

	file, err := s.hooks.GenerateDocument(ctx, "document", url, documentRequest(p.DocumentType, *r))
	if err != nil {
		if !tasks.IsRetryable(err) {
			_ = s.repo.SetDocument(ctx, r.ID, p.DocumentType, records.DocumentState{Status: records.DocumentFailed, Error: err.Error()})
		}
		return nil, err
	}
	state := records.DocumentState{Status: records.DocumentGenerated, URL: file.WebViewLink, FileID: file.ID}
	if err := s.repo.SetDocument(ctx, r.ID, p.DocumentType, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Service) runGeneratePVBulk(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[PVBulkPayload](payload)
	if err != nil {
		return nil, err
	}
	return s.GeneratePVs(ctx, p)
}

// GeneratePVs calls the document webhook once per recipient, a chunk at a time.
// Each chunk settles completely before the next one starts. Per-recipient failures
// land in the report; only configuration and store errors are returned.
func (s *Service) GeneratePVs(ctx context.Context, p PVBulkPayload) (*PVReport, error) {
	if p.DocumentType == "" {
		p.DocumentType = records.DocReceipt
	}
	url, err := s.documentURL()
	if err != nil {
		return nil, err
	}

	recipients, err := s.repo.RecipientsByID(ctx, p.RecipientIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]records.Recipient, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r
	}

	report := &PVReport{Total: len(p.RecipientIDs), Errors: []string{}}
	var found []records.Recipient
	for _, id := range p.RecipientIDs {
		r, ok := byID[id]
		if !ok {
			report.FailCount++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: recipient not found", id))
			continue
		}
		found = append(found, r)
	}

	size := s.cfg.Tasks.PVChunkSize
	if size <= 0 {
		size = DefaultPVChunkSize
	}
	log := s.log.With(zap.String("document", string(p.DocumentType)))
	for i, chunk := range store.Chunk(found, size) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Info("generating chunk", zap.Int("chunk", i+1), zap.Int("recipients", len(chunk)))
		if err := s.generateChunk(ctx, url, p.DocumentType, chunk, report); err != nil {
			return nil, err
		}
	}

	report.SuccessCount = report.Total - report.FailCount
	report.Success = report.FailCount == 0
	if report.FailCount > 0 {
		subject := fmt.Sprintf("Document generation: %d of %d failed", report.FailCount, report.Total)
		if err := s.reporter.ReportFailures(ctx, subject, report.Total, report.Errors); err != nil {
			log.Warn("failure report not sent", zap.Error(err))
		}
	}
	return report, nil
}

func (s *Service) generateChunk(ctx context.Context, url string, t records.DocumentType, chunk []records.Recipient, report *PVReport) error {
	generating := make(map[string]records.DocumentState, len(chunk))
	for _, r := range chunk {
		generating[r.ID] = records.DocumentState{Status: records.DocumentGenerating}
	}
	if err := s.repo.SetDocuments(ctx, t, generating); err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]records.DocumentState, len(chunk))
	)
	// Handlers never return an error so that one failure does not cancel the rest.
	var g errgroup.Group
	for _, r := range chunk {
		g.Go(func() error {
			file, err := s.hooks.GenerateDocument(ctx, "document", url, documentRequest(t, r))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[r.ID] = records.DocumentState{Status: records.DocumentFailed, Error: err.Error()}
				report.FailCount++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", r.ID, err))
				return nil
			}
			results[r.ID] = records.DocumentState{Status: records.DocumentGenerated, URL: file.WebViewLink, FileID: file.ID}
			return nil
		})
	}
	_ = g.Wait()

	return s.repo.SetDocuments(ctx, t, results)
}

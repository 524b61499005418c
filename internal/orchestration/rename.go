package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const signedPrefix = "signed/"

type RenamePayload struct {
	// ShipmentID limits the scan to one shipment. Empty scans every recipient.
	ShipmentID string `json:"shipmentId,omitempty"`
}

type RenameReport struct {
	Processed int      `json:"processed"`
	Renamed   int      `json:"renamed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

type ReformatPayload struct {
	RecipientID string `json:"recipientId"`
}

type ReformatResult struct {
	RecipientID string `json:"recipientId"`
	SignedURL   string `json:"signedUrl,omitempty"`
	Updated     bool   `json:"updated"`
}

func (s *Service) runRenameSigned(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[RenamePayload](payload)
	if err != nil {
		return nil, err
	}
	return s.RenameSignedFiles(ctx, p)
}

// RenameSignedFiles moves every signed receipt to its canonical name and refreshes
// the presigned URL stored on the recipient. Items are handled one at a time and a
// failing item does not stop the scan.
func (s *Service) RenameSignedFiles(ctx context.Context, p RenamePayload) (*RenameReport, error) {
	var recipients []records.Recipient
	var err error
	if p.ShipmentID != "" {
		recipients, err = s.repo.RecipientsByShipment(ctx, p.ShipmentID)
	} else {
		recipients, err = s.repo.AllRecipients(ctx)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID < recipients[j].ID })

	report := &RenameReport{Errors: []string{}}
	var errs error
	for _, r := range recipients {
		if r.SignedURL == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		renamed, err := s.renameSigned(ctx, r)
		switch {
		case err != nil:
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.ID, err))
		case renamed:
			report.Renamed++
		default:
			report.Skipped++
		}
	}

	for _, err := range multierr.Errors(errs) {
		report.Errors = append(report.Errors, err.Error())
	}
	s.log.Info("signed file rename finished",
		zap.Int("processed", report.Processed), zap.Int("renamed", report.Renamed),
		zap.Int("skipped", report.Skipped), zap.Int("failed", report.Failed))
	return report, nil
}

func (s *Service) renameSigned(ctx context.Context, r records.Recipient) (bool, error) {
	from, err := s.objects.PathFromURL(r.SignedURL)
	if err != nil {
		return false, err
	}
	to := SignedFileName(r, path.Ext(from))
	if from == to {
		return false, nil
	}
	if err := s.objects.Rename(ctx, from, to); err != nil {
		return false, fmt.Errorf("rename %s: %w", from, err)
	}
	url, err := s.objects.PresignedURL(ctx, to, s.cfg.Storage.SignedURLTTL)
	if err != nil {
		return false, fmt.Errorf("presign %s: %w", to, err)
	}
	if err := s.repo.UpdateRecipient(ctx, r.ID, map[string]any{"signedUrl": url, "signedPath": to}); err != nil {
		return false, fmt.Errorf("object moved to %s but recipient not updated: %w", to, err)
	}
	return true, nil
}

// SignedFileName is the canonical storage path of a recipient's signed receipt.
func SignedFileName(r records.Recipient, ext string) string {
	parts := []string{sanitize(r.Name), sanitize(r.Group), sanitize(r.ID), sanitize(r.ShipmentID)}
	return signedPrefix + strings.Join(parts, "_") + strings.ToLower(ext)
}

// sanitize folds diacritics to ASCII and replaces every other run of characters
// outside [A-Za-z0-9] with a single dash.
func sanitize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, c := range folded {
		if c < unicode.MaxASCII && (unicode.IsLetter(c) || unicode.IsDigit(c)) {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func (s *Service) runReformatSigned(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[ReformatPayload](payload)
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
	if r.SignedURL == "" {
		return nil, tasks.Permanent(fmt.Errorf("recipient %s has no signed file", r.ID))
	}

	resp, err := s.hooks.Post(ctx, "reformat", s.cfg.Webhooks.ReformatURL, map[string]any{
		"recipientId": r.ID,
		"shipmentId":  r.ShipmentID,
		"signedUrl":   r.SignedURL,
		"signedPath":  r.SignedPath,
	})
	if err != nil {
		return nil, err
	}

	result := ReformatResult{RecipientID: r.ID}
	if !resp.JSON {
		return result, nil
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := resp.Decode(&body); err != nil || body.URL == "" {
		return result, nil
	}
	if err := s.repo.UpdateRecipient(ctx, r.ID, map[string]any{"signedUrl": body.URL}); err != nil {
		return nil, err
	}
	result.SignedURL = body.URL
	result.Updated = true
	return result, nil
}

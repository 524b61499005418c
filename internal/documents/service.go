// Package documents manages the static documents shared by every recipient.
package documents

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/storage"

	"go.uber.org/zap"
)

// StaticService handles static document uploads and their sync onto recipients.
type StaticService struct {
	repo    *records.Repository
	objects storage.ObjectStore
	log     *zap.Logger
	now     func() time.Time
}

// NewStaticService creates a new static document service.
func NewStaticService(repo *records.Repository, objects storage.ObjectStore, log *zap.Logger) *StaticService {
	return &StaticService{repo: repo, objects: objects, log: log.Named("documents"), now: time.Now}
}

// Upload is one static document file as received from the admin form.
type Upload struct {
	Kind        records.StaticKind
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// InvalidKindError is returned for a kind other than inventory or instructions.
type InvalidKindError struct {
	Kind string
}

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid static document type %q, expected %q or %q",
		e.Kind, records.StaticInventory, records.StaticInstructions)
}

// StaticPath is the object path of an uploaded static document.
func StaticPath(kind records.StaticKind, fileName string) string {
	return "static/" + string(kind) + "/" + path.Base(strings.ReplaceAll(fileName, "\\", "/"))
}

// UploadStatic stores the file in object storage and records it as the current
// document of its kind, replacing any earlier upload.
func (s *StaticService) UploadStatic(ctx context.Context, u Upload) (*records.StaticDocument, error) {
	if !u.Kind.Valid() {
		return nil, &InvalidKindError{Kind: string(u.Kind)}
	}
	name := path.Base(strings.ReplaceAll(u.FileName, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("static document needs a file name")
	}

	p := StaticPath(u.Kind, name)
	url, err := s.objects.Upload(ctx, p, u.Body, u.Size, u.ContentType)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", p, err)
	}

	doc := records.StaticDocument{
		Kind:       u.Kind,
		Path:       p,
		Name:       name,
		URL:        url,
		UploadedAt: s.now(),
	}
	if err := s.repo.SaveStaticDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.log.Info("static document uploaded", zap.String("kind", string(u.Kind)), zap.String("path", p))
	return &doc, nil
}

// SyncResult reports what a static sync stamped.
type SyncResult struct {
	Recipients int      `json:"recipients"`
	Kinds      []string `json:"kinds"`
}

// SyncStatic stamps the URL of every uploaded static document onto all
// recipients. Running it again with the same uploads writes the same state.
func (s *StaticService) SyncStatic(ctx context.Context) (*SyncResult, error) {
	var docs []*records.StaticDocument
	for _, kind := range []records.StaticKind{records.StaticInventory, records.StaticInstructions} {
		doc, err := s.repo.StaticDocument(ctx, kind)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	res := &SyncResult{Kinds: []string{}}
	if len(docs) == 0 {
		return res, nil
	}

	recipients, err := s.repo.AllRecipients(ctx)
	if err != nil {
		return nil, err
	}
	res.Recipients = len(recipients)
	if len(recipients) == 0 {
		return res, nil
	}

	for _, doc := range docs {
		state := records.DocumentState{
			Status:    records.DocumentGenerated,
			URL:       doc.URL,
			Name:      doc.Name,
			UpdatedAt: doc.UploadedAt,
		}
		states := make(map[string]records.DocumentState, len(recipients))
		for _, r := range recipients {
			states[r.ID] = state
		}
		if err := s.repo.SetDocuments(ctx, doc.Kind.DocumentType(), states); err != nil {
			return nil, fmt.Errorf("sync %s: %w", doc.Kind, err)
		}
		res.Kinds = append(res.Kinds, string(doc.Kind))
	}

	s.log.Info("static documents synced", zap.Int("recipients", res.Recipients), zap.Strings("kinds", res.Kinds))
	return res, nil
}

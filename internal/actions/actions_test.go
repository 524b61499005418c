package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ExpeditionFlow/internal/config"
	"ExpeditionFlow/internal/documents"
	"ExpeditionFlow/internal/importer"
	"ExpeditionFlow/internal/orchestration"
	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/storage"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingDispatcher accepts triggers without running anything.
type recordingDispatcher struct {
	mu        sync.Mutex
	triggered map[string][]any
	runs      map[string]*tasks.Run
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{triggered: map[string][]any{}, runs: map[string]*tasks.Run{}}
}

func (d *recordingDispatcher) Trigger(_ context.Context, task string, payload any) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggered[task] = append(d.triggered[task], payload)
	id := fmt.Sprintf("run-%d", len(d.runs)+1)
	d.runs[id] = &tasks.Run{ID: id, Task: task, Status: tasks.RunPending}
	return id, nil
}

func (d *recordingDispatcher) TriggerAndWait(context.Context, string, any, any) error {
	return fmt.Errorf("not supported")
}

func (d *recordingDispatcher) BatchTrigger(ctx context.Context, task string, payloads []any) ([]string, error) {
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, _ := d.Trigger(ctx, task, p)
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *recordingDispatcher) Run(_ context.Context, id string) (*tasks.Run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	run, ok := d.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tasks.ErrRunNotFound, id)
	}
	return run, nil
}

type server struct {
	e          *echo.Echo
	repo       *records.Repository
	dispatcher *recordingDispatcher
}

func newServer(t *testing.T) *server {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		Webhooks: config.WebhookConfig{DocumentURL: "https://hooks.local/document"},
		Tasks:    config.TasksConfig{PVChunkSize: 20},
		Pipeline: config.PipelineConfig{IncludeAllShipmentRecipients: true},
	}
	repo := records.NewRepository(store.NewMemoryStore(), nil, log)
	objects := storage.NewMemoryStore("bucket")
	d := newRecordingDispatcher()
	svc := orchestration.NewService(repo, d, nil, nil, objects, nil, cfg, log)

	e := echo.New()
	e.Validator = NewValidator()
	shipments := NewShipmentHandler(repo, log)
	pipeline := NewPipelineHandler(svc, log)
	imports := NewImportHandler(importer.NewImporter(repo, log), log)
	static := NewStaticHandler(documents.NewStaticService(repo, objects, log), log)

	e.GET("/api/shipments", shipments.List)
	e.GET("/api/shipments/:id", shipments.Get)
	e.GET("/api/shipments/:id/awbs", shipments.AWBs)
	e.POST("/api/import", imports.Import)
	e.POST("/api/awbs/generate", pipeline.GenerateAWBs)
	e.POST("/api/documents/pv", pipeline.GeneratePV)
	e.POST("/api/reminders", pipeline.SendReminders)
	e.GET("/api/runs/:id", pipeline.RunStatus)
	e.POST("/api/static-documents", static.Upload)
	e.POST("/api/static-documents/sync", static.Sync)

	return &server{e: e, repo: repo, dispatcher: d}
}

func (s *server) do(t *testing.T, method, path, body string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (s *server) importRows(t *testing.T) {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/import", `{
		"mapping": {"S": "shipmentId", "A": "awbName", "ID": "recipientId", "N": "name"},
		"rows": [
			{"S": "S1", "A": "A", "ID": "R1", "N": "Ana"},
			{"S": "S1", "A": "A", "ID": "R2", "N": "Ion"},
			{"S": "S1", "A": "B", "ID": "R3", "N": "Dan"}
		]}`)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	require.True(t, resp.Success)
}

func TestImportAndRead(t *testing.T) {
	s := newServer(t)
	s.importRows(t)

	code, resp := s.do(t, http.MethodGet, "/api/shipments/S1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, float64(3), resp.Data.(map[string]any)["recipientCount"])

	code, resp = s.do(t, http.MethodGet, "/api/shipments/S1/awbs", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 2)

	code, resp = s.do(t, http.MethodGet, "/api/shipments/S9", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}

func TestImportValidation(t *testing.T) {
	s := newServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/import", `{"rows": [], "mapping": {}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	code, _ = s.do(t, http.MethodPost, "/api/import", `{"rows": [{"S": "S1"}], "mapping": {"S": "shipmentId"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGenerateAWBs(t *testing.T) {
	s := newServer(t)
	s.importRows(t)
	a := importer.AWBID("S1", "A")

	code, resp := s.do(t, http.MethodPost, "/api/awbs/generate", `{"items": [{"shipmentId": "S1"}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "AWBID")

	code, resp = s.do(t, http.MethodPost, "/api/awbs/generate", fmt.Sprintf(`{"items": [{"shipmentId": "S2", "awbId": %q}]}`, a))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)

	code, resp = s.do(t, http.MethodPost, "/api/awbs/generate", fmt.Sprintf(`{"items": [{"shipmentId": "S1", "awbId": %q}]}`, a))
	require.Equal(t, http.StatusAccepted, code, resp.Error)
	assert.True(t, resp.Success)
	assert.Len(t, s.dispatcher.triggered[orchestration.TaskGeneratePipeline], 1)

	awb, err := s.repo.AWB(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, records.AWBQueued, awb.Status)
}

func TestGeneratePVAndRunStatus(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, http.MethodPost, "/api/documents/pv", `{"recipientIds": [" "]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := s.do(t, http.MethodPost, "/api/documents/pv", `{"recipientIds": ["R1"], "documentType": "awb label"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "awb label")

	code, resp = s.do(t, http.MethodPost, "/api/documents/pv", `{"recipientIds": ["R1", "R2"]}`)
	require.Equal(t, http.StatusAccepted, code, resp.Error)
	runID := resp.Data.(map[string]any)["runId"].(string)

	code, resp = s.do(t, http.MethodGet, "/api/runs/"+runID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, orchestration.TaskGeneratePVBulk, resp.Data.(map[string]any)["task"])

	code, _ = s.do(t, http.MethodGet, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStaticUploadAndSync(t *testing.T) {
	s := newServer(t)
	s.importRows(t)

	upload := func(kind string) (int, Response) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		require.NoError(t, w.WriteField("type", kind))
		part, err := w.CreateFormFile("file", "doc.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/static-documents", &body)
		req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, req)
		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec.Code, resp
	}

	code, _ := upload("invoice")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := upload("inventory")
	require.Equal(t, http.StatusCreated, code, resp.Error)
	assert.Equal(t, "static/inventory/doc.pdf", resp.Data.(map[string]any)["path"])

	for i := 0; i < 2; i++ {
		code, resp = s.do(t, http.MethodPost, "/api/static-documents/sync", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(3), resp.Data.(map[string]any)["recipients"])
	}
}

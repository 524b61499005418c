package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ExpeditionFlow/internal/carrier"
	"ExpeditionFlow/internal/config"
	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/storage"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"
	"ExpeditionFlow/internal/webhook"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testWait = 5 * time.Second
	testTick = 5 * time.Millisecond
)

type fakeCarrier struct {
	mu        sync.Mutex
	calls     []string
	countyID  int
	cityID    int
	countyErr error
	cityErr   error
	labelErr  error
	requests  []carrier.LabelRequest
}

func (c *fakeCarrier) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeCarrier) LookupCounty(_ context.Context, _ string) (int, error) {
	c.record("county")
	return c.countyID, c.countyErr
}

func (c *fakeCarrier) LookupCity(_ context.Context, _ string, _ int) (int, error) {
	c.record("city")
	return c.cityID, c.cityErr
}

func (c *fakeCarrier) CreateLabel(_ context.Context, req carrier.LabelRequest) (*carrier.Label, error) {
	c.record("label")
	if c.labelErr != nil {
		return nil, c.labelErr
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return &carrier.Label{
		TrackingNumber: "TRK-" + req.Reference,
		Cost:           19.5,
		PDFLink:        "https://carrier.local/pdf/" + req.Reference,
		ParcelNumbers:  map[string]string{"1": "P1", "2": "P2"},
	}, nil
}

func (c *fakeCarrier) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type post struct {
	Name    string
	URL     string
	Payload json.RawMessage
}

type fakeHooks struct {
	mu       sync.Mutex
	posts    []post
	files    []post
	failFor  map[string]error
	postErr  map[string]error
	postBody map[string]string
	delay    time.Duration

	inFlight int
	peak     int
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{failFor: map[string]error{}, postErr: map[string]error{}, postBody: map[string]string{}}
}

func (h *fakeHooks) Post(_ context.Context, name, url string, payload any) (*webhook.Response, error) {
	if url == "" {
		return nil, &webhook.ConfigError{Name: name}
	}
	raw, _ := json.Marshal(payload)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posts = append(h.posts, post{Name: name, URL: url, Payload: raw})
	if err := h.postErr[name]; err != nil {
		return nil, err
	}
	body, ok := h.postBody[name]
	if !ok {
		body = "{}"
	}
	return &webhook.Response{StatusCode: 200, Body: []byte(body), JSON: true}, nil
}

func (h *fakeHooks) GenerateDocument(_ context.Context, name, url string, payload any) (webhook.GeneratedFile, error) {
	if url == "" {
		return webhook.GeneratedFile{}, &webhook.ConfigError{Name: name}
	}
	raw, _ := json.Marshal(payload)
	var target struct {
		RecipientID string `json:"recipientId"`
	}
	_ = json.Unmarshal(raw, &target)

	h.mu.Lock()
	h.files = append(h.files, post{Name: name, URL: url, Payload: raw})
	h.inFlight++
	if h.inFlight > h.peak {
		h.peak = h.inFlight
	}
	err := h.failFor[target.RecipientID]
	delay := h.delay
	h.mu.Unlock()

	time.Sleep(delay)

	h.mu.Lock()
	h.inFlight--
	h.mu.Unlock()
	if err != nil {
		return webhook.GeneratedFile{}, err
	}
	return webhook.GeneratedFile{ID: "file-" + target.RecipientID, WebViewLink: "https://docs.local/" + target.RecipientID}, nil
}

func (h *fakeHooks) Posts(name string) []post {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []post
	for _, p := range h.posts {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

type fakeReporter struct {
	mu       sync.Mutex
	subjects []string
	failures [][]string
}

func (r *fakeReporter) ReportFailures(_ context.Context, subject string, _ int, failures []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.failures = append(r.failures, failures)
	return nil
}

type harness struct {
	svc      *Service
	repo     *records.Repository
	runner   *tasks.LocalRunner
	carrier  *fakeCarrier
	hooks    *fakeHooks
	objects  *storage.MemoryStore
	reporter *fakeReporter
	cfg      *config.Config
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Webhooks = config.WebhookConfig{
		DocumentURL: "https://hooks.local/document",
		EmailURL:    "https://hooks.local/email",
		ReminderURL: "https://hooks.local/reminder",
		ReformatURL: "https://hooks.local/reformat",
		LabelURL:    "https://hooks.local/label",
		StatusURL:   "https://hooks.local/status",
	}
	cfg.Storage.Bucket = "bucket"
	cfg.Storage.SignedURLTTL = 24 * time.Hour
	cfg.Tasks.PVChunkSize = 2
	cfg.Tasks.PostCallDelay = 30 * time.Second
	cfg.Pipeline.LogisticsEmail = "logistics@example.com"
	cfg.Pipeline.IncludeAllShipmentRecipients = true
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	h := &harness{
		repo:     records.NewRepository(store.NewMemoryStore(), nil, zap.NewNop()),
		carrier:  &fakeCarrier{countyID: 12, cityID: 345},
		hooks:    newFakeHooks(),
		objects:  storage.NewMemoryStore(cfg.Storage.Bucket),
		reporter: &fakeReporter{},
		cfg:      cfg,
	}

	fast := map[string]config.TaskOverride{}
	for _, name := range []string{TaskFetchAWBData, TaskLookupCounty, TaskLookupCity, TaskCreateLabel, TaskGeneratePV, TaskSendLogistics, TaskStatusUpdate, TaskSendReminder, TaskReformatSigned} {
		fast[name] = config.TaskOverride{MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	}
	reg := tasks.NewRegistry(fast)
	h.runner = tasks.NewLocalRunner(reg, zap.NewNop())
	h.svc = NewService(h.repo, h.runner, h.carrier, h.hooks, h.objects, h.reporter, cfg, zap.NewNop())
	h.svc.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	require.NoError(t, h.svc.Register(reg))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.runner.Shutdown(ctx)
	})
	return h
}

func (h *harness) put(t *testing.T, collection, id string, v any) {
	t.Helper()
	rec, err := store.Encode(v)
	require.NoError(t, err)
	require.NoError(t, h.repo.Store().Set(context.Background(), collection, id, rec))
}

func (h *harness) shipment(t *testing.T, id string, status records.ShipmentStatus) {
	h.put(t, records.ShipmentsCollection, id, records.Shipment{ID: id, Status: status})
}

func (h *harness) awb(t *testing.T, a records.AWB) {
	if a.County == "" {
		a.County = "Cluj"
	}
	if a.City == "" {
		a.City = "Cluj-Napoca"
	}
	h.put(t, records.AWBsCollection, a.ID, a)
}

func (h *harness) recipient(t *testing.T, r records.Recipient) {
	if r.Documents == nil {
		r.Documents = map[records.DocumentType]records.DocumentState{}
	}
	h.put(t, records.RecipientsCollection, r.ID, r)
}

func (h *harness) getAWB(t *testing.T, id string) *records.AWB {
	t.Helper()
	a, err := h.repo.AWB(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) getRecipient(t *testing.T, id string) *records.Recipient {
	t.Helper()
	r, err := h.repo.Recipient(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (h *harness) getShipment(t *testing.T, id string) *records.Shipment {
	t.Helper()
	s, err := h.repo.Shipment(context.Background(), id)
	require.NoError(t, err)
	return s
}

// waitRuns blocks until every run finished and fails the test on a failed run.
func (h *harness) waitRuns(t *testing.T, ids []string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			run, err := h.runner.Run(context.Background(), id)
			if err != nil || !run.Status.Finished() {
				return false
			}
		}
		return true
	}, testWait, testTick)
	for _, id := range ids {
		run, err := h.runner.Run(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, tasks.RunCompleted, run.Status, run.Error)
	}
}

func TestDefinitionsAreRegistered(t *testing.T) {
	h := newHarness(t)
	_, err := h.runner.Trigger(context.Background(), TaskRenameSigned, RenamePayload{})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, d := range h.svc.Definitions() {
		names[d.Name] = true
	}
	for _, n := range []string{TaskGeneratePipeline, TaskFetchAWBData, TaskLookupCounty, TaskLookupCity, TaskCreateLabel,
		TaskGeneratePV, TaskGeneratePVBulk, TaskSendLogistics, TaskRenameSigned, TaskReformatSigned, TaskStatusUpdate, TaskSendReminder} {
		require.True(t, names[n], n)
	}
}

func TestValidationErrorIsPermanent(t *testing.T) {
	verr := &ValidationError{}
	require.NoError(t, verr.orNil())
	verr.add("awb %s not found", "A1")
	verr.add("awb %s not found", "A2")
	err := verr.orNil()
	require.Error(t, err)
	require.Equal(t, "2 problems: awb A1 not found; awb A2 not found", err.Error())
	require.False(t, tasks.IsRetryable(err))

	var target *ValidationError
	require.True(t, errors.As(err, &target))
}

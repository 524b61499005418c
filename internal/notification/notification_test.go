package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ExpeditionFlow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) Send(_ context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to[0]+"|"+subject+"|"+body)
	return nil
}

func TestReportFailuresEscapesAndSkipsEmpty(t *testing.T) {
	m := &fakeMailer{}
	cfg := &config.Config{}
	cfg.Mail.OpsEmail = "ops@example.com"
	r := NewReporter(m, cfg, zap.NewNop())

	require.NoError(t, r.ReportFailures(context.Background(), "PV", 3, nil))
	assert.Empty(t, m.sent)

	require.NoError(t, r.ReportFailures(context.Background(), "PV", 3, []string{"r1: <bad>"}))
	require.Len(t, m.sent, 1)
	assert.Contains(t, m.sent[0], "ops@example.com|PV|")
	assert.Contains(t, m.sent[0], "1 of 3 items failed")
	assert.Contains(t, m.sent[0], "&lt;bad&gt;")
}

func TestReporterDisabledWithoutAddress(t *testing.T) {
	m := &fakeMailer{}
	r := NewReporter(m, &config.Config{}, zap.NewNop())
	assert.False(t, r.Enabled())
	require.NoError(t, r.ReportFailures(context.Background(), "PV", 1, []string{"x"}))
	assert.Empty(t, m.sent)
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	s := NewScheduler("test", 5*time.Millisecond, func(context.Context) { calls.Add(1) }, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

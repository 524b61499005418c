package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func runWorkflow(t *testing.T, def Definition, payload any) (*testsuite.TestWorkflowEnvironment, json.RawMessage, error) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(activityFor(def), activity.RegisterOptions{Name: def.Name})

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env.ExecuteWorkflow(RunTaskWorkflow, TaskInput{Task: def.Name, Payload: raw, Timeout: time.Minute, Retry: def.Retry})
	require.True(t, env.IsWorkflowCompleted())

	if err := env.GetWorkflowError(); err != nil {
		return env, nil, err
	}
	var out json.RawMessage
	require.NoError(t, env.GetWorkflowResult(&out))
	return env, out, nil
}

func TestRunTaskWorkflowReturnsHandlerOutput(t *testing.T) {
	def := Definition{
		Name:  "double",
		Retry: DefaultRetry(),
		Run: func(_ context.Context, payload json.RawMessage) (any, error) {
			p, err := Decode[echoPayload](payload)
			if err != nil {
				return nil, err
			}
			return echoPayload{Value: p.Value * 2}, nil
		},
	}

	_, out, err := runWorkflow(t, def, echoPayload{Value: 4})
	require.NoError(t, err)
	var got echoPayload
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, 8, got.Value)
}

func TestRunTaskWorkflowRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	def := Definition{
		Name:  "flaky",
		Retry: RetryPolicy{MaxAttempts: 3, MinBackoff: time.Second, Factor: 2},
		Run: func(context.Context, json.RawMessage) (any, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("temporary")
			}
			return "ok", nil
		},
	}

	_, _, err := runWorkflow(t, def, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunTaskWorkflowStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	def := Definition{
		Name:  "strict",
		Retry: RetryPolicy{MaxAttempts: 5, MinBackoff: time.Second},
		Run: func(context.Context, json.RawMessage) (any, error) {
			calls.Add(1)
			return nil, Permanent(errors.New("unknown city"))
		},
	}

	_, _, err := runWorkflow(t, def, nil)
	require.Error(t, err)
	assert.Contains(t, rootMessage(err), "unknown city")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTemporalRetryPolicyMapping(t *testing.T) {
	p := temporalRetry(RetryPolicy{MaxAttempts: 4, MinBackoff: 2 * time.Second, MaxBackoff: time.Minute, Factor: 3})
	assert.Equal(t, 2*time.Second, p.InitialInterval)
	assert.Equal(t, 3.0, p.BackoffCoefficient)
	assert.Equal(t, time.Minute, p.MaximumInterval)
	assert.Equal(t, int32(4), p.MaximumAttempts)

	assert.Equal(t, "carrier.create-label", taskFromWorkflowID("carrier.create-label-0b8f6f9e-3c1d-4a36-9d7e-2f5f3f1b7a11"))
}

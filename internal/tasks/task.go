// Package tasks defines background task types and runs them with per-type
// concurrency limits and retry policies.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"ExpeditionFlow/internal/config"
)

// MaxBatchTrigger caps the payloads accepted by one BatchTrigger call.
const MaxBatchTrigger = 500

// Handler runs one attempt of a task. The returned value is stored as the run
// output in JSON form.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

type Definition struct {
	Name        string
	Concurrency int
	Retry       RetryPolicy
	Timeout     time.Duration
	Run         Handler
}

type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Factor      float64
	Jitter      bool
}

// DefaultRetry is used by task types that do not declare their own policy.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinBackoff: time.Second, MaxBackoff: 30 * time.Second, Factor: 2, Jitter: true}
}

// Backoff returns the wait before attempt+1, where attempt counts from 1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.MinBackoff <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.MinBackoff) * math.Pow(factor, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter {
		d = rand.Float64() * d
	}
	return time.Duration(d)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Decode unmarshals a task payload, marking a malformed one as permanent.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, Permanent(fmt.Errorf("decode payload: %w", err))
	}
	return v, nil
}

// Registry holds the task definitions a runner can execute.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]Definition
	overrides map[string]config.TaskOverride
}

func NewRegistry(overrides map[string]config.TaskOverride) *Registry {
	return &Registry{defs: map[string]Definition{}, overrides: overrides}
}

// Register adds a definition after applying any configured override.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.Run == nil {
		return fmt.Errorf("task definition needs a name and a handler")
	}
	if def.Concurrency < 1 {
		def.Concurrency = 1
	}
	if def.Retry == (RetryPolicy{}) {
		def.Retry = DefaultRetry()
	}
	if o, ok := r.overrides[def.Name]; ok {
		def = applyOverride(def, o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.Name]; dup {
		return fmt.Errorf("task %s already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

func (r *Registry) MustRegister(defs ...Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return def, nil
}

// Definitions returns every registered definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func applyOverride(def Definition, o config.TaskOverride) Definition {
	if o.Concurrency > 0 {
		def.Concurrency = o.Concurrency
	}
	if o.MaxAttempts > 0 {
		def.Retry.MaxAttempts = o.MaxAttempts
	}
	if o.MinBackoff > 0 {
		def.Retry.MinBackoff = o.MinBackoff
	}
	if o.MaxBackoff > 0 {
		def.Retry.MaxBackoff = o.MaxBackoff
	}
	if o.Timeout > 0 {
		def.Timeout = o.Timeout
	}
	return def
}

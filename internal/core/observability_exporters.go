package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarMetricsRecorder aggregates stage timings in process and publishes
// them through expvar, so /debug/vars shows them when the process serves it.
type ExpvarMetricsRecorder struct {
	name   string
	mu     sync.Mutex
	stages map[string]*stageTotals
}

type stageTotals struct {
	calls    int64
	failures int64
	total    time.Duration
	max      time.Duration
}

// StageMetrics is the aggregate for one stage.
type StageMetrics struct {
	Stage    string  `json:"stage"`
	Calls    int64   `json:"calls"`
	Failures int64   `json:"failures"`
	TotalMS  float64 `json:"total_ms"`
	MaxMS    float64 `json:"max_ms"`
}

// ExpvarMetricsSnapshot is a copy of the recorder state, stages sorted by name.
type ExpvarMetricsSnapshot struct {
	Stages     []StageMetrics `json:"stages"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Stage returns the aggregate for one stage and whether it was observed.
func (s ExpvarMetricsSnapshot) Stage(name string) (StageMetrics, bool) {
	for _, st := range s.Stages {
		if st.Stage == name {
			return st, true
		}
	}
	return StageMetrics{}, false
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated unique name when name is empty. expvar names are process global,
// so publishing the same name twice panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("watershed_stage_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{name: name, stages: make(map[string]*stageTotals)}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the current aggregates.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := ExpvarMetricsSnapshot{Stages: make([]StageMetrics, 0, len(r.stages)), RecordedAt: time.Now().UTC()}
	for name, st := range r.stages {
		out.Stages = append(out.Stages, StageMetrics{
			Stage:    name,
			Calls:    st.calls,
			Failures: st.failures,
			TotalMS:  millis(st.total),
			MaxMS:    millis(st.max),
		})
	}
	sort.Slice(out.Stages, func(i, j int) bool { return out.Stages[i].Stage < out.Stages[j].Stage })
	return out
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, stage string, success bool, d time.Duration) {
	if stage == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stages[stage]
	if !ok {
		st = &stageTotals{}
		r.stages[stage] = st
	}
	st.calls++
	if !success {
		st.failures++
	}
	st.total += d
	if d > st.max {
		st.max = d
	}
}

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// JSONTraceEntry is one finished span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes finished spans as JSON lines and keeps them for
// inspection. A nil writer only keeps them.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	now     func() time.Time
}

// NewJSONTracer returns a tracer writing to w.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{now: func() time.Time { return time.Now().UTC() }}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of the finished spans in completion order.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.now()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	ended := s.tracer.now()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: millis(ended.Sub(s.started)),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
}

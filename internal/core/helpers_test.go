package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"watershed/pkg/raster"
)

const testNoData = -9999

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) add(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+msg+" "+fmt.Sprint(args...))
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("d", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("i", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("w", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("e", msg, args...) }

func (l *captureLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, d time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: d})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// stubClock advances by step on every read.
type stubClock struct {
	now  time.Time
	step time.Duration
}

func (c *stubClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), step: time.Second}
}

// bowl is a 5x5 DEM of 10 m cells with origin (0,50): rings rise one unit
// away from a central pit and a notch at (0,2) is the only outlet.
func bowl(t *testing.T) *raster.Raster {
	t.Helper()
	g, err := raster.NewGeometry(5, 5, 0, 50, 10)
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	vals := make([]float64, g.Len())
	for i := range vals {
		r, c := g.RowCol(i)
		ring := max(absInt(r-2), absInt(c-2))
		vals[i] = 10 + float64(ring)
	}
	vals[g.Index(0, 2)] = 10.5
	dem, err := raster.New(g, vals, testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	return dem
}

func infiniteDEM(t *testing.T) *raster.Raster {
	t.Helper()
	g, err := raster.NewGeometry(4, 4, 0, 40, 10)
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	dem, err := raster.Filled(g, math.Inf(1), testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	return dem
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

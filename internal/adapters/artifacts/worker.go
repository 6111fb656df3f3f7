package artifacts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"watershed/internal/core"
)

// ExportStatus describes the lifecycle stage of an export job.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportRecord tracks an export job and the artifacts it produced.
type ExportRecord struct {
	ID          string       `json:"id"`
	RunID       string       `json:"run_id"`
	Formats     []Format     `json:"formats"`
	Status      ExportStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	Artifacts   []Artifact   `json:"artifacts,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (r ExportRecord) Done() bool {
	return r.Status == ExportStatusSucceeded || r.Status == ExportStatusFailed
}

// ErrQueueFull is returned by Enqueue when the worker is saturated.
var ErrQueueFull = errors.New("artifacts: export queue full")

// DefaultQueueSize bounds pending export jobs.
const DefaultQueueSize = 32

// Worker runs exports in the background so a caller can hand off a finished
// run and poll for its artifacts.
type Worker struct {
	exporter *Exporter
	logger   core.Logger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id  string
	res *core.Result
}

// NewWorker constructs an export worker around exporter.
func NewWorker(exporter *Exporter, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		exporter: exporter,
		logger:   exporter.logger,
		queue:    make(chan exportTask, queueSize),
		jobs:     make(map[string]*ExportRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing export jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current job.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// Enqueue schedules an export of res and returns the queued record.
func (w *Worker) Enqueue(res *core.Result, formats []Format) (ExportRecord, error) {
	if res == nil {
		return ExportRecord{}, ErrNothingToExport
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		if !f.valid() {
			return ExportRecord{}, errors.New("unsupported artifact format " + string(f))
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}
	if len(uniq) == 0 {
		uniq = append(uniq, DefaultFormats...)
	}

	now := time.Now().UTC()
	record := ExportRecord{
		ID:        uuid.NewString(),
		RunID:     res.Run.ID,
		Formats:   uniq,
		Status:    ExportStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- exportTask{id: record.ID, res: res}:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return ExportRecord{}, ErrQueueFull
	}
	w.logger.Debug("export queued", "export", record.ID, "run", record.RunID)
	return snapshot, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

// Wait polls until the job finishes or ctx ends.
func (w *Worker) Wait(ctx context.Context, id string) (ExportRecord, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		record, ok := w.Get(id)
		if !ok {
			return ExportRecord{}, errors.New("artifacts: unknown export " + id)
		}
		if record.Done() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return record, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) process(task exportTask) {
	formats := w.formatsFor(task.id)
	if formats == nil {
		return
	}
	w.update(task.id, func(r *ExportRecord) { r.Status = ExportStatusRunning })

	arts, err := w.exporter.Export(w.ctx, task.res, formats)
	now := time.Now().UTC()
	w.update(task.id, func(r *ExportRecord) {
		r.Artifacts = arts
		r.CompletedAt = &now
		if err != nil {
			r.Status = ExportStatusFailed
			r.Error = err.Error()
			return
		}
		r.Status = ExportStatusSucceeded
	})
	if err != nil {
		w.logger.Warn("export failed", "export", task.id, "error", err)
	}
}

func (w *Worker) formatsFor(id string) []Format {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if record, ok := w.jobs[id]; ok {
		return append([]Format(nil), record.Formats...)
	}
	return nil
}

func (w *Worker) update(id string, fn func(*ExportRecord)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		fn(record)
		record.UpdatedAt = time.Now().UTC()
	}
}

func (r *ExportRecord) copy() ExportRecord {
	dup := *r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

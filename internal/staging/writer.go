package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/duofusion/internal/engine"
	"github.com/roach88/duofusion/internal/sensor"
)

// Writer defaults.
const (
	DefaultBatchSize              = 50
	DefaultPayloadWorkers         = 2
	DefaultPayloadQueueSize       = 64
	DefaultMaxConsecutiveFailures = 10
	DefaultSettleTimeout          = 2 * time.Second
	DefaultDrainTimeout           = 10 * time.Second
)

var (
	// ErrWriterClosed is returned by operations after Drain.
	ErrWriterClosed = errors.New("staging writer closed")

	// ErrQueueFull marks a payload rejected because the payload queue was
	// full. Rejections leave the artifact missing but are not write failures.
	ErrQueueFull = errors.New("payload queue full")
)

// WriterConfig sizes the pipeline.
type WriterConfig struct {
	// Dir is the session's staging directory.
	Dir string
	// Sensors maps record index to sensor directory name.
	Sensors [2]string

	BatchSize              int
	Workers                int
	QueueSize              int
	MaxConsecutiveFailures int
	// SettleTimeout bounds how long the flusher waits for one batch's
	// payload writes before recording stragglers as missing.
	SettleTimeout time.Duration
	// DrainTimeout is the hard limit for Drain.
	DrainTimeout time.Duration
}

func (c *WriterConfig) setDefaults() {
	if c.Sensors == [2]string{} {
		c.Sensors = [2]string{sensor.Optical, sensor.Thermal}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultPayloadWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultPayloadQueueSize
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = DefaultSettleTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// WriterStats counts pipeline activity.
type WriterStats struct {
	PayloadsWritten int64 `json:"payloads_written" yaml:"payloads_written"`
	PayloadsMissing int64 `json:"payloads_missing" yaml:"payloads_missing"`
	RowsFlushed     int64 `json:"rows_flushed" yaml:"rows_flushed"`
	Flushes         int64 `json:"flushes" yaml:"flushes"`

	// PayloadsRejected is the share of PayloadsMissing turned away by a
	// full queue.
	PayloadsRejected int64 `json:"payloads_rejected,omitempty" yaml:"payloads_rejected,omitempty"`
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterLogger sets the logger. Defaults to slog.Default().
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = l
	}
}

// withWriteFile replaces the payload file writer.
func withWriteFile(fn func(path string, data []byte) error) WriterOption {
	return func(w *Writer) {
		w.writeFile = fn
	}
}

// Writer is the asynchronous persistence sink of a session.
// It implements engine.Sink.
//
// Thread-safety:
//   - Submit(): called by the control loop only
//   - Drain(), Err(), Stats(): safe from any goroutine
type Writer struct {
	cfg       WriterConfig
	logger    *slog.Logger
	log       *MetadataLog
	buffer    *MetadataBuffer[*pendingRow]
	batches   *batchQueue
	jobs      chan payloadJob
	writeFile func(path string, data []byte) error

	mu       sync.Mutex // guards closed and the hand-off to jobs/batches
	closed   bool
	drainErr error

	workers   sync.WaitGroup
	flushDone chan struct{}

	consecutive atomic.Int64
	stall       atomic.Pointer[engine.RecordingError]

	written  atomic.Int64
	missing  atomic.Int64
	rejected atomic.Int64
	rows    atomic.Int64
	flushes atomic.Int64
}

// NewWriter opens the metadata log in cfg.Dir and starts the payload
// workers and the flusher.
func NewWriter(cfg WriterConfig, opts ...WriterOption) (*Writer, error) {
	cfg.setDefaults()
	for _, s := range cfg.Sensors {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, s), 0o755); err != nil {
			return nil, fmt.Errorf("create sensor dir: %w", err)
		}
	}
	log, err := OpenMetadataLog(filepath.Join(cfg.Dir, MetadataFile))
	if err != nil {
		return nil, err
	}

	w := &Writer{
		cfg:       cfg,
		logger:    slog.Default(),
		log:       log,
		buffer:    NewMetadataBuffer[*pendingRow](cfg.BatchSize),
		batches:   newBatchQueue(),
		jobs:      make(chan payloadJob, cfg.QueueSize),
		writeFile: writeFileAtomic,
		flushDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	for i := 0; i < cfg.Workers; i++ {
		w.workers.Add(1)
		go w.worker()
	}
	go w.flusher()
	return w, nil
}

// Submit hands a finalized record to the pipeline without blocking.
// Records must arrive in sequence order.
func (w *Writer) Submit(rec engine.FrameRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.logger.Warn("record submitted after drain", "seq", rec.Seq)
		return
	}

	p := newPendingRow(RowFromRecord(rec))
	for i, pl := range rec.Payloads {
		if pl == nil {
			continue
		}
		p.expect()
		job := payloadJob{
			path: PayloadPath(w.cfg.Dir, w.cfg.Sensors[i], rec.Seq, pl.Ext),
			data: pl.Data,
			row:  p,
			idx:  i,
		}
		select {
		case w.jobs <- job:
		default:
			w.missing.Add(1)
			w.rejected.Add(1)
			w.logger.Warn("payload dropped",
				"seq", rec.Seq, "sensor", w.cfg.Sensors[i], "error", ErrQueueFull)
			p.resolve(i, false)
		}
	}
	p.seal()

	if batch, full := w.buffer.Add(p); full {
		w.batches.Enqueue(batch)
	}
}

// Err returns a STORAGE_STALLED error once consecutive write failures
// reach the configured limit. Queue-full rejections do not count.
func (w *Writer) Err() error {
	if re := w.stall.Load(); re != nil {
		return re
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		PayloadsWritten:  w.written.Load(),
		PayloadsMissing:  w.missing.Load(),
		PayloadsRejected: w.rejected.Load(),
		RowsFlushed:      w.rows.Load(),
		Flushes:          w.flushes.Load(),
	}
}

// Drain stops intake, flushes buffered metadata unconditionally and waits
// for in-flight payload writes, bounded by the drain timeout and ctx.
// The metadata log is closed on both paths; after a timeout, stragglers
// still running find it closed. Calling Drain again returns the first
// result.
func (w *Writer) Drain(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return w.drainErr
	}
	w.closed = true
	if rest := w.buffer.Drain(); len(rest) > 0 {
		w.batches.Enqueue(rest)
	}
	w.batches.Close()
	close(w.jobs)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.DrainTimeout)
	defer cancel()

	err := w.wait(ctx)
	if cerr := w.log.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close metadata log: %w", cerr)
	}

	w.mu.Lock()
	w.drainErr = err
	w.mu.Unlock()

	stats := w.Stats()
	w.logger.Info("staging writer drained",
		"dir", w.cfg.Dir,
		"payloads_written", stats.PayloadsWritten,
		"payloads_missing", stats.PayloadsMissing,
		"payloads_rejected", stats.PayloadsRejected,
		"rows", stats.RowsFlushed,
		"flushes", stats.Flushes)
	return err
}

func (w *Writer) wait(ctx context.Context) error {
	workersDone := make(chan struct{})
	go func() {
		w.workers.Wait()
		close(workersDone)
	}()

	for _, done := range []<-chan struct{}{w.flushDone, workersDone} {
		select {
		case <-done:
		case <-ctx.Done():
			w.logger.Error("staging drain timed out", "dir", w.cfg.Dir, "error", ctx.Err())
			return fmt.Errorf("drain staging writer: %w", ctx.Err())
		}
	}
	return nil
}

func (w *Writer) worker() {
	defer w.workers.Done()
	for job := range w.jobs {
		err := w.writeFile(job.path, job.data)
		if err != nil {
			w.missing.Add(1)
			w.fail(err)
			w.logger.Warn("payload write failed", "path", job.path, "error", err)
		} else {
			w.consecutive.Store(0)
			w.written.Add(1)
		}
		job.row.resolve(job.idx, err == nil)
	}
}

func (w *Writer) flusher() {
	defer close(w.flushDone)
	for {
		if b, ok := w.batches.TryDequeue(); ok {
			w.flush(b)
			continue
		}
		if _, open := <-w.batches.Wait(); !open {
			for {
				b, ok := w.batches.TryDequeue()
				if !ok {
					return
				}
				w.flush(b)
			}
		}
	}
}

// flush waits for the batch's payloads to settle and appends its rows.
func (w *Writer) flush(batch []*pendingRow) {
	timer := time.NewTimer(w.cfg.SettleTimeout)
	defer timer.Stop()

	rows := make([]Row, len(batch))
	expired := false
	for i, p := range batch {
		if !expired {
			select {
			case <-p.done:
			case <-timer.C:
				expired = true
				w.logger.Warn("payload writes did not settle before flush", "seq", p.row.Seq)
			}
		}
		rows[i] = p.final()
	}

	if err := w.log.Append(rows); err != nil {
		w.fail(err)
		w.logger.Error("metadata flush failed", "rows", len(rows), "error", err)
		return
	}
	w.rows.Add(int64(len(rows)))
	w.flushes.Add(1)
}

func (w *Writer) fail(err error) {
	n := w.consecutive.Add(1)
	if n >= int64(w.cfg.MaxConsecutiveFailures) && w.stall.Load() == nil {
		if w.stall.CompareAndSwap(nil, engine.NewStorageStalledError(int(n), err)) {
			w.logger.Error("staging storage stalled", "dir", w.cfg.Dir, "failures", n, "error", err)
		}
	}
}

type payloadJob struct {
	path string
	data []byte
	row  *pendingRow
	idx  int
}

// Payload status while a row waits for its files.
const (
	statusPending int32 = iota
	statusWritten
	statusMissing
)

// pendingRow is a metadata row whose payload writes may still be running.
// done is closed once every expected payload has resolved.
type pendingRow struct {
	row       Row
	status    [2]atomic.Int32
	remaining atomic.Int32
	done      chan struct{}
}

func newPendingRow(row Row) *pendingRow {
	p := &pendingRow{row: row, done: make(chan struct{})}
	// Held until seal so done cannot close while jobs are still being queued.
	p.remaining.Store(1)
	return p
}

func (p *pendingRow) expect() {
	p.remaining.Add(1)
}

func (p *pendingRow) seal() {
	p.release()
}

func (p *pendingRow) resolve(i int, ok bool) {
	if ok {
		p.status[i].Store(statusWritten)
	} else {
		p.status[i].Store(statusMissing)
	}
	p.release()
}

func (p *pendingRow) release() {
	if p.remaining.Add(-1) == 0 {
		close(p.done)
	}
}

// final returns the row with file statuses resolved. A payload that has
// not been written by now is recorded as missing.
func (p *pendingRow) final() Row {
	row := p.row
	for i := range row.Files {
		if row.Files[i] != FileOK {
			continue
		}
		if p.status[i].Load() != statusWritten {
			row.Files[i] = FileMissing
		}
	}
	return row
}

// writeFileAtomic writes data next to path and renames it into place so a
// reader never observes a half-written payload.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

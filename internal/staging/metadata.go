package staging

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/roach88/duofusion/internal/engine"
)

// FileStatus is the on-disk state of one sensor artifact of a frame.
type FileStatus string

const (
	// FileOK: the payload file was written.
	FileOK FileStatus = "ok"
	// FileMissing: a payload existed but could not be written.
	FileMissing FileStatus = "missing"
	// FileFailed: the sensor failed this tick; there is no file.
	FileFailed FileStatus = "failed"
	// FileNone: the sensor was not captured (overrun).
	FileNone FileStatus = "none"
)

// Header is the metadata log's column list.
var Header = []string{
	"seq", "target_ns", "trigger_ns", "sched_error_ns",
	"rgb_ts_ns", "thermal_ts_ns", "delta_ns",
	"outcome", "drop_reason", "rgb_file", "thermal_file",
}

// Row is one line of the metadata log.
type Row struct {
	Seq          int64
	TargetNS     int64
	TriggerNS    int64
	SchedErrorNS int64
	Timestamps   [2]int64 // 0 = absent
	DeltaNS      int64
	Outcome      engine.Outcome
	DropReason   engine.DropReason
	Files        [2]FileStatus
}

// RowFromRecord converts a finalized record. File statuses are provisional:
// ok for a present payload, failed or none otherwise. The writer downgrades
// ok to missing when the write does not succeed.
func RowFromRecord(rec engine.FrameRecord) Row {
	row := Row{
		Seq:          rec.Seq,
		TargetNS:     rec.TargetNS,
		TriggerNS:    rec.TriggerNS,
		SchedErrorNS: rec.SchedErrorNS,
		Timestamps:   rec.Timestamps,
		DeltaNS:      rec.DeltaNS,
		Outcome:      rec.Outcome,
		DropReason:   rec.DropReason,
	}
	for i := range row.Files {
		switch {
		case rec.Payloads[i] != nil:
			row.Files[i] = FileOK
		case rec.SensorErrs[i] != nil:
			row.Files[i] = FileFailed
		default:
			row.Files[i] = FileNone
		}
	}
	return row
}

func (r Row) fields() []string {
	ts := func(v int64) string {
		if v == 0 {
			return ""
		}
		return strconv.FormatInt(v, 10)
	}
	return []string{
		strconv.FormatInt(r.Seq, 10),
		strconv.FormatInt(r.TargetNS, 10),
		strconv.FormatInt(r.TriggerNS, 10),
		strconv.FormatInt(r.SchedErrorNS, 10),
		ts(r.Timestamps[0]),
		ts(r.Timestamps[1]),
		strconv.FormatInt(r.DeltaNS, 10),
		string(r.Outcome),
		string(r.DropReason),
		string(r.Files[0]),
		string(r.Files[1]),
	}
}

// RenderRows encodes rows as CSV lines without the header.
func RenderRows(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range rows {
		if err := w.Write(r.fields()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// RenderHeader encodes the header line.
func RenderHeader() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(Header)
	w.Flush()
	return buf.Bytes()
}

// ParseRows decodes a metadata log (header included).
func ParseRows(data []byte) ([]Row, error) {
	recs, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("parse metadata: empty log")
	}
	if len(recs[0]) != len(Header) || recs[0][0] != Header[0] {
		return nil, fmt.Errorf("parse metadata: unexpected header %v", recs[0])
	}

	rows := make([]Row, 0, len(recs)-1)
	for n, rec := range recs[1:] {
		var r Row
		ints := []*int64{&r.Seq, &r.TargetNS, &r.TriggerNS, &r.SchedErrorNS, &r.Timestamps[0], &r.Timestamps[1], &r.DeltaNS}
		for i, dst := range ints {
			if rec[i] == "" {
				continue
			}
			v, err := strconv.ParseInt(rec[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse metadata line %d column %s: %w", n+2, Header[i], err)
			}
			*dst = v
		}
		r.Outcome = engine.Outcome(rec[7])
		r.DropReason = engine.DropReason(rec[8])
		r.Files = [2]FileStatus{FileStatus(rec[9]), FileStatus(rec[10])}
		rows = append(rows, r)
	}
	return rows, nil
}

// MetadataBuffer accumulates entries until a batch is full.
//
// Thread-safety: one producer (the control loop) calls Add; Drain and Len
// may be called from another goroutine.
type MetadataBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	size    int
	flushes int
}

// NewMetadataBuffer creates a buffer releasing batches of size entries.
func NewMetadataBuffer[T any](size int) *MetadataBuffer[T] {
	if size <= 0 {
		size = 1
	}
	return &MetadataBuffer[T]{items: make([]T, 0, size), size: size}
}

// Add appends v. When the buffer reaches its batch size the full batch is
// returned and the buffer starts over.
func (b *MetadataBuffer[T]) Add(v T) ([]T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, v)
	if len(b.items) < b.size {
		return nil, false
	}
	batch := b.items
	b.items = make([]T, 0, b.size)
	b.flushes++
	return batch, true
}

// Drain returns whatever is buffered, possibly nothing.
func (b *MetadataBuffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return nil
	}
	batch := b.items
	b.items = make([]T, 0, b.size)
	b.flushes++
	return batch
}

// Len returns the number of buffered entries.
func (b *MetadataBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Flushes returns how many batches have been released.
func (b *MetadataBuffer[T]) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// MetadataLog is the append-only timestamps file.
type MetadataLog struct {
	path string
	f    *os.File
}

// OpenMetadataLog opens path for appending, writing the header first if
// the file does not exist yet.
func OpenMetadataLog(path string) (*MetadataLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		if _, err := f.Write(RenderHeader()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write metadata header: %w", err)
		}
		return &MetadataLog{path: path, f: f}, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("open metadata log: %w", err)
	}
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metadata log: %w", err)
	}
	return &MetadataLog{path: path, f: f}, nil
}

// Append writes rows with a single write call.
func (l *MetadataLog) Append(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	data, err := RenderRows(rows)
	if err != nil {
		return err
	}
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append metadata: %w", err)
	}
	return nil
}

// Path returns the log's file path.
func (l *MetadataLog) Path() string {
	return l.path
}

// Close syncs and closes the file.
func (l *MetadataLog) Close() error {
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

package logging

import (
	"context"
	"sync"
)

// Record is a captured log entry.
type Record struct {
	Level   string
	Message string
	Fields  map[string]any
}

// Recorder is an in-memory Logger used by tests to assert on the structured
// log trace. Loggers derived with With share the parent's record buffer.
type Recorder struct {
	mu      *sync.Mutex
	records *[]Record
	base    []Field
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, records: &[]Record{}}
}

func (r *Recorder) With(fields ...Field) Logger {
	base := append(append([]Field{}, r.base...), fields...)
	return &Recorder{mu: r.mu, records: r.records, base: base}
}

func (r *Recorder) Debug(ctx context.Context, msg string, fields ...Field) {
	r.add(ctx, "debug", msg, fields)
}

func (r *Recorder) Info(ctx context.Context, msg string, fields ...Field) {
	r.add(ctx, "info", msg, fields)
}

func (r *Recorder) Warn(ctx context.Context, msg string, fields ...Field) {
	r.add(ctx, "warn", msg, fields)
}

func (r *Recorder) Error(ctx context.Context, msg string, fields ...Field) {
	r.add(ctx, "error", msg, fields)
}

func (r *Recorder) add(ctx context.Context, level, msg string, fields []Field) {
	rec := Record{Level: level, Message: msg, Fields: make(map[string]any, len(r.base)+len(fields)+1)}
	for _, f := range r.base {
		rec.Fields[f.Key] = f.Value
	}
	for _, f := range fields {
		rec.Fields[f.Key] = f.Value
	}
	if id := CycleIDFromContext(ctx); id != "" {
		rec.Fields[cycleIDField] = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = append(*r.records, rec)
}

// Records returns a copy of everything captured so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), (*r.records)...)
}

// Messages returns the captured records whose message equals msg.
func (r *Recorder) Messages(msg string) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Message == msg {
			out = append(out, rec)
		}
	}
	return out
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// JSONSink writes records as JSON Lines.
type JSONSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONSink creates a JSONSink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{writer: w}
}

// Record writes rec as a single line of JSON.
func (s *JSONSink) Record(_ context.Context, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit marshal error: %v\n", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Write(append(data, '\n'))
}

// NopSink discards all records.
type NopSink struct{}

// Record discards rec.
func (NopSink) Record(context.Context, Record) {}

// MultiSink fans records out to several sinks in order.
type MultiSink []Sink

// NewMultiSink combines sinks, skipping nil entries.
func NewMultiSink(sinks ...Sink) MultiSink {
	var out MultiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Record forwards rec to every sink.
func (m MultiSink) Record(ctx context.Context, rec Record) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}

// MemorySink keeps records in memory. It backs compliance exports and tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends rec.
func (s *MemorySink) Record(_ context.Context, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, cloneRecord(rec))
}

// Records returns a copy of every record received so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out
}

// Filter returns the records matching decision.
func (s *MemorySink) Filter(decision Decision) []Record {
	var out []Record
	for _, r := range s.Records() {
		if r.Decision == decision {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of records received.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func cloneRecord(r Record) Record {
	if r.Details != nil {
		d := make(map[string]string, len(r.Details))
		for k, v := range r.Details {
			d[k] = v
		}
		r.Details = d
	}
	return r
}

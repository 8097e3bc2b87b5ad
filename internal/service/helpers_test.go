package service

import (
	"sync"
	"time"

	"github.com/target/smart-resizer/internal/domain/model"
)

type metricRecord struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

// recordingSink captures emitted metrics.
type recordingSink struct {
	mu      sync.Mutex
	records []metricRecord
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.add(metricRecord{kind: "count", name: name, value: float64(value), tags: tags})
}

func (r *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	r.add(metricRecord{kind: "gauge", name: name, value: value, tags: tags})
}

func (r *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(metricRecord{kind: "timing", name: name, value: float64(value.Milliseconds()), tags: tags})
}

func (r *recordingSink) add(m metricRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, m)
}

func (r *recordingSink) named(name string) []metricRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []metricRecord
	for _, m := range r.records {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}

// stubNotifier is a queue.Notifier that never wakes anyone.
type stubNotifier struct {
	mu        sync.Mutex
	stopped   bool
	subscribe int
}

func (s *stubNotifier) Subscribe(model.TaskType) (func(), <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribe++
	return func() {}, make(chan struct{})
}

func (s *stubNotifier) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func ptr[T any](v T) *T { return &v }

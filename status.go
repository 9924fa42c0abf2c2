package ipregistry

import (
	"sort"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
)

// StatusSink receives every status update, e.g. to render it.
type StatusSink func(entry StatusEntry)

// StatusReporter keeps the latest message per section. Writes to the same
// section overwrite each other; no history is retained.
type StatusReporter struct {
	mu      sync.RWMutex
	entries map[string]StatusEntry
	sink    StatusSink
}

// NewStatusReporter creates a reporter. sink may be nil.
func NewStatusReporter(sink StatusSink) *StatusReporter {
	return &StatusReporter{
		entries: map[string]StatusEntry{},
		sink:    sink,
	}
}

// Set records msg for section and forwards it to the sink.
func (r *StatusReporter) Set(section, msg string, severity Severity) {
	entry := StatusEntry{
		Section:   section,
		Message:   msg,
		Severity:  severity,
		UpdatedAt: time.Now(),
	}

	r.mu.Lock()
	r.entries[section] = entry
	sink := r.sink
	r.mu.Unlock()

	fields := logger.WithFields(logger.Fields{
		"section":  section,
		"severity": severity,
		"message":  msg,
	})
	if severity == SeverityError {
		fields.Warn("Status updated")
	} else {
		fields.Debug("Status updated")
	}

	if sink != nil {
		sink(entry)
	}
}

// Get returns the latest entry for section.
func (r *StatusReporter) Get(section string) (StatusEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[section]
	return entry, ok
}

// All returns every section's latest entry ordered by section name.
func (r *StatusReporter) All() []StatusEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]StatusEntry, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Section < result[j].Section })
	return result
}

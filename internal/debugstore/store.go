// Package debugstore records script and engine errors per instance so the
// draw path can show them next to the parameter that caused them.
package debugstore

import (
	"maps"
	"sync"
	"time"

	"github.com/AppMana/golobulus/internal/model"
)

// Kinds of debug entries.
const (
	KindLoad      = "load"
	KindExecution = "execution"
	KindEngine    = "engine"
)

// Contents is one debug entry.
type Contents struct {
	Kind       string      `json:"kind"`
	Message    string      `json:"message"`
	Detail     string      `json:"detail,omitempty"`
	JobID      model.JobID `json:"job_id,omitempty"`
	Frame      int         `json:"frame,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Store maps (instance, parameter) to the last recorded entry. It is safe
// for concurrent use; entries live until Clear is called for the instance.
type Store struct {
	mu      sync.RWMutex
	entries map[model.InstanceID]map[model.ParamIdx]Contents

	onRecord func(Contents)
}

// Option configures a Store.
type Option func(*Store)

// WithOnRecord sets a hook invoked after every Record.
func WithOnRecord(fn func(Contents)) Option {
	return func(s *Store) {
		s.onRecord = fn
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[model.InstanceID]map[model.ParamIdx]Contents),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stores c for (instance, param), replacing any previous entry.
func (s *Store) Record(instance model.InstanceID, param model.ParamIdx, c Contents) {
	if c.RecordedAt.IsZero() {
		c.RecordedAt = time.Now().UTC()
	}

	s.mu.Lock()
	byParam, ok := s.entries[instance]
	if !ok {
		byParam = make(map[model.ParamIdx]Contents)
		s.entries[instance] = byParam
	}
	byParam[param] = c
	s.mu.Unlock()

	if s.onRecord != nil {
		s.onRecord(c)
	}
}

// Query returns a copy of every entry recorded for instance.
func (s *Store) Query(instance model.InstanceID) map[model.ParamIdx]Contents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.entries[instance])
}

// Get returns the entry for a single key.
func (s *Store) Get(instance model.InstanceID, param model.ParamIdx) (Contents, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[instance][param]
	return c, ok
}

// ClearParam drops the entry for a single key.
func (s *Store) ClearParam(instance model.InstanceID, param model.ParamIdx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byParam, ok := s.entries[instance]
	if !ok {
		return
	}
	delete(byParam, param)
	if len(byParam) == 0 {
		delete(s.entries, instance)
	}
}

// Clear drops every entry for instance. Called on instance teardown.
func (s *Store) Clear(instance model.InstanceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, instance)
}

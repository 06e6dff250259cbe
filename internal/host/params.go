package host

import (
	"sort"

	"github.com/AppMana/golobulus/internal/model"
	"github.com/AppMana/golobulus/internal/script"
)

// firstDynamicIndex is the host index given to the first script parameter.
const firstDynamicIndex = int32(model.ParamParametersEnd) + 1

// ParamEntry is one script-declared parameter and its current value.
type ParamEntry struct {
	Index model.ParamIdx `json:"index"`
	Name  string         `json:"name"`
	Value string         `json:"value"`
}

// ParamTable maps the dynamic parameters a loaded script declared to their
// host indices. It is owned by the main thread.
type ParamTable struct {
	byName  map[string]model.ParamIdx
	entries map[model.ParamIdx]*ParamEntry
	next    int32
}

// NewParamTable returns an empty table.
func NewParamTable() *ParamTable {
	return &ParamTable{
		byName:  make(map[string]model.ParamIdx),
		entries: make(map[model.ParamIdx]*ParamEntry),
		next:    firstDynamicIndex,
	}
}

// Declare adds a parameter and returns its index. Declaring a name twice
// returns the existing index and keeps the current value.
func (t *ParamTable) Declare(spec script.ParamSpec) model.ParamIdx {
	if idx, ok := t.byName[spec.Name]; ok {
		return idx
	}
	idx := model.Dynamic(t.next)
	t.next++
	t.byName[spec.Name] = idx
	t.entries[idx] = &ParamEntry{Index: idx, Name: spec.Name, Value: spec.Default}
	return idx
}

// Lookup returns the entry at idx.
func (t *ParamTable) Lookup(idx model.ParamIdx) (ParamEntry, bool) {
	e, ok := t.entries[idx]
	if !ok {
		return ParamEntry{}, false
	}
	return *e, true
}

// Set updates the value at idx. It reports false for unknown indices.
func (t *ParamTable) Set(idx model.ParamIdx, value string) bool {
	e, ok := t.entries[idx]
	if !ok {
		return false
	}
	e.Value = value
	return true
}

// Entries returns every entry in host index order.
func (t *ParamTable) Entries() []ParamEntry {
	out := make([]ParamEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index.Offset < out[j].Index.Offset })
	return out
}

// Values returns the current values keyed by parameter name.
func (t *ParamTable) Values() map[string]string {
	out := make(map[string]string, len(t.entries))
	for _, e := range t.entries {
		out[e.Name] = e.Value
	}
	return out
}

// Len returns the number of declared parameters.
func (t *ParamTable) Len() int {
	return len(t.entries)
}

// Reset forgets every declared parameter.
func (t *ParamTable) Reset() {
	clear(t.byName)
	clear(t.entries)
	t.next = firstDynamicIndex
}

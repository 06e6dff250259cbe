// Package instance holds the durable state of one plugin instance and its
// versioned encoding for host-managed storage.
package instance

import (
	"path/filepath"

	"github.com/AppMana/golobulus/internal/model"
)

// Instance is the per-layer state that survives host save and reload.
type Instance struct {
	ID            model.InstanceID
	Src           *string
	VenvPath      *string
	LastKnownPath *string
	ShowDebug     bool

	// ActiveJob is kept for the draw path while a render runs. After a
	// reload it refers to a job that no longer exists and must be ignored.
	ActiveJob *model.JobID
}

// New returns an empty instance with a fresh identity.
func New() *Instance {
	return &Instance{ID: model.NewInstanceID()}
}

// HasScript reports whether script source is loaded.
func (i *Instance) HasScript() bool {
	return i.Src != nil
}

// ScriptDir returns the directory of the last known script path, if any.
func (i *Instance) ScriptDir() (string, bool) {
	if i.LastKnownPath == nil || *i.LastKnownPath == "" {
		return "", false
	}
	return filepath.Dir(*i.LastKnownPath), true
}

// SetScript records loaded source and the file it came from. An empty path
// keeps the previous LastKnownPath.
func (i *Instance) SetScript(src, path string) {
	i.Src = &src
	if path != "" {
		i.LastKnownPath = &path
	}
}

// ClearScript forgets the loaded source but keeps LastKnownPath for reload.
func (i *Instance) ClearScript() {
	i.Src = nil
}

// SetVenv sets or, with an empty path, clears the environment path.
func (i *Instance) SetVenv(path string) {
	if path == "" {
		i.VenvPath = nil
		return
	}
	i.VenvPath = &path
}

// Clone returns a deep copy safe to hand to another goroutine.
func (i *Instance) Clone() *Instance {
	out := &Instance{ID: i.ID, ShowDebug: i.ShowDebug}
	out.Src = cloneString(i.Src)
	out.VenvPath = cloneString(i.VenvPath)
	out.LastKnownPath = cloneString(i.LastKnownPath)
	if i.ActiveJob != nil {
		id := *i.ActiveJob
		out.ActiveJob = &id
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

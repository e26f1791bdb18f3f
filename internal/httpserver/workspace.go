package httpserver

import (
	"sync"

	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// Workspace holds the studio settings and reference photos the next batch
// and the session document use.
type Workspace struct {
	mu       sync.RWMutex
	settings studio.Settings
	refs     []studio.Reference
}

// NewWorkspace creates a workspace with default settings.
func NewWorkspace() *Workspace {
	return &Workspace{settings: studio.DefaultSettings()}
}

// Get returns the settings and a copy of the references.
func (w *Workspace) Get() (studio.Settings, []studio.Reference) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	refs := make([]studio.Reference, len(w.refs))
	copy(refs, w.refs)
	return w.settings, refs
}

// Set replaces settings and references. Settings are normalized and
// references without a MIME type get one detected from their payload.
func (w *Workspace) Set(settings studio.Settings, refs []studio.Reference) error {
	sniffed := make([]studio.Reference, 0, len(refs))
	for _, r := range refs {
		r, err := r.Sniff()
		if err != nil {
			return err
		}
		sniffed = append(sniffed, r)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.settings = settings.Normalize()
	w.refs = sniffed
	return nil
}

// SetReference places ref into the references following the upload rules.
func (w *Workspace) SetReference(ref studio.Reference) error {
	ref, err := ref.Sniff()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs = studio.SetReference(w.refs, ref)
	return nil
}

// SetCustomTheme replaces the custom location theme text.
func (w *Workspace) SetCustomTheme(theme string) {
	w.mu.Lock()
	w.settings.CustomLocationTheme = theme
	w.mu.Unlock()
}

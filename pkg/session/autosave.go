package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/pkg/logging"
)

var sessionSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "studio_session_saves_total",
	Help: "Session document saves by result (success, error)",
}, []string{"result"})

// DefaultDebounce is the quiet period before an autosave.
const DefaultDebounce = 1500 * time.Millisecond

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("autosaver closed")

// SaveState is the autosave status shown to the user.
type SaveState string

const (
	StateIdle    SaveState = "idle"
	StateUnsaved SaveState = "unsaved"
	StateSaving  SaveState = "saving"
	StateSaved   SaveState = "saved"
	StateError   SaveState = "error"
)

// SnapshotFunc captures the current session.
type SnapshotFunc func(ctx context.Context) (Document, error)

// AutoSaver saves the session to its file once changes stop for the
// debounce period.
type AutoSaver struct {
	store    Store
	snapshot SnapshotFunc
	debounce time.Duration
	logger   zerolog.Logger

	saveMu sync.Mutex

	mu      sync.Mutex
	file    File
	hasFile bool
	timer   *time.Timer
	state   SaveState
	lastErr error
	gen     uint64
	closed  bool
}

// NewAutoSaver creates an autosaver. A non-positive debounce uses
// DefaultDebounce.
func NewAutoSaver(store Store, snapshot SnapshotFunc, debounce time.Duration) *AutoSaver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &AutoSaver{
		store:    store,
		snapshot: snapshot,
		debounce: debounce,
		logger:   logging.NewLogger(logging.ComponentAutosave),
		state:    StateIdle,
	}
}

// SetFile binds the autosaver to file. Without a file Touch does nothing.
func (a *AutoSaver) SetFile(file File) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.file = file
	a.hasFile = true
	a.state = StateSaved
}

// File returns the bound file.
func (a *AutoSaver) File() (File, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file, a.hasFile
}

// State returns the current save state and the last save error.
func (a *AutoSaver) State() (SaveState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.lastErr
}

// Touch records a session change and restarts the debounce timer.
func (a *AutoSaver) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.hasFile {
		return
	}
	a.gen++
	a.state = StateUnsaved
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, func() {
		if err := a.save(context.Background()); err != nil {
			a.logger.Error().Err(err).Msg("Autosave failed")
		}
	})
}

// Flush saves immediately if there are unsaved changes.
func (a *AutoSaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	pending := a.state == StateUnsaved || a.state == StateError
	a.mu.Unlock()

	if !pending {
		return nil
	}
	return a.save(ctx)
}

// Close flushes pending changes and stops further saves.
func (a *AutoSaver) Close(ctx context.Context) error {
	err := a.Flush(ctx)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return err
}

func (a *AutoSaver) save(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	if !a.hasFile {
		a.mu.Unlock()
		return nil
	}
	file, gen := a.file, a.gen
	a.state = StateSaving
	a.mu.Unlock()

	doc, err := a.snapshot(ctx)
	if err == nil {
		file, err = a.store.Save(ctx, file, doc)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		sessionSavesTotal.WithLabelValues("error").Inc()
		a.state = StateError
		a.lastErr = err
		return err
	}

	sessionSavesTotal.WithLabelValues("success").Inc()
	a.file = file
	a.lastErr = nil
	// A change made while saving stays pending.
	if a.gen == gen {
		a.state = StateSaved
	} else {
		a.state = StateUnsaved
	}
	a.logger.Debug().Str("file", file.Name).Msg("Session saved")
	return nil
}

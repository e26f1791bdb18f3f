package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
	"github.com/Sternrassler/studio-engine/pkg/logging"
)

// Prometheus metrics for credential selection.
var (
	poolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_credential_calls_total",
		Help: "Pool calls by mode (primary, rotation) and outcome",
	}, []string{"mode", "outcome"})

	poolFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_credential_failures_total",
		Help: "Failed attempts against a single credential by error class",
	}, []string{"class"})

	poolTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_credential_transitions_total",
		Help: "Credential status transitions by target status",
	}, []string{"status"})

	poolRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_credential_quota_retries_total",
		Help: "Quota retries made against the same credential",
	})

	poolRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studio_credential_retry_backoff_seconds",
		Help:    "Backoff waited before a quota retry",
		Buckets: []float64{0.5, 1, 5, 10, 20, 30, 60},
	})

	poolPersistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_credential_persist_errors_total",
		Help: "Status transitions that could not be written to the store",
	})
)

// StatusFunc receives human-readable progress text while a call waits.
type StatusFunc func(status string)

// CallFunc is one outbound call made with a credential secret.
type CallFunc[T any] func(ctx context.Context, secret string) (T, error)

// Config holds pool configuration.
type Config struct {
	// Retry is the quota retry budget per credential.
	Retry RetryConfig

	// Sleep waits between quota retries (default: Sleep).
	Sleep SleepFunc

	// ValidateConcurrency bounds parallel checks in ValidateAll.
	ValidateConcurrency int
}

// DefaultConfig returns a default pool configuration.
func DefaultConfig() Config {
	return Config{
		Retry:               DefaultRetryConfig(),
		Sleep:               Sleep,
		ValidateConcurrency: 4,
	}
}

// Pool selects credentials for outbound calls and records their status.
type Pool struct {
	store  Store
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	active string
}

// NewPool creates a pool backed by store.
func NewPool(store Store, cfg Config) *Pool {
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	if cfg.ValidateConcurrency < 1 {
		cfg.ValidateConcurrency = 1
	}
	return &Pool{
		store:  store,
		cfg:    cfg,
		logger: logging.NewLogger(logging.ComponentPool),
	}
}

// Store returns the backing store.
func (p *Pool) Store() Store {
	return p.store
}

// Active returns the display label of the credential currently serving a
// call, or "" when idle.
func (p *Pool) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) setActive(label string) {
	p.mu.Lock()
	p.active = label
	p.mu.Unlock()
}

// Call runs fn through the pool's failover policy and returns its result.
func Call[T any](ctx context.Context, p *Pool, fn CallFunc[T], onStatus StatusFunc) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context, secret string) error {
		v, err := fn(ctx, secret)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, onStatus)
	return out, err
}

// Do runs fn with a selected credential.
//
// With a primary credential pinned, only that credential is used: an unusable
// primary fails with KindPrimaryUnusable before any call, and a failing
// primary is never substituted. Without a primary, usable credentials are
// tried in pool order until one succeeds; a safety rejection stops the
// rotation immediately.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, secret string) error, onStatus StatusFunc) error {
	if onStatus == nil {
		onStatus = func(string) {}
	}
	defer p.setActive("")

	primaryID, err := p.store.Primary(ctx)
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("load primary: %w", err)}
	}
	if primaryID != "" {
		err = p.doPrimary(ctx, primaryID, fn, onStatus)
		poolCallsTotal.WithLabelValues("primary", outcome(err)).Inc()
		return err
	}
	err = p.doRotation(ctx, fn, onStatus)
	poolCallsTotal.WithLabelValues("rotation", outcome(err)).Inc()
	return err
}

func (p *Pool) doPrimary(ctx context.Context, id string, fn func(context.Context, string) error, onStatus StatusFunc) error {
	cred, err := p.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		p.logger.Warn().Str(logging.FieldCredentialID, id).Msg("Primary credential missing")
		return &Error{Kind: KindPrimaryUnusable, CredentialID: id, Err: ErrPrimaryUnusable}
	case err != nil:
		return &Error{Kind: KindTransient, CredentialID: id, Err: fmt.Errorf("load primary credential: %w", err)}
	case !cred.Status.Usable():
		p.logger.Warn().
			Str(logging.FieldCredential, cred.Masked).
			Str("status", string(cred.Status)).
			Msg("Primary credential unusable")
		return &Error{Kind: KindPrimaryUnusable, CredentialID: id, Err: ErrPrimaryUnusable}
	}

	if err := p.try(ctx, cred, "Using primary key: ", fn, onStatus); err != nil {
		if ctx.Err() != nil || apierror.IsCancellation(err) {
			return &Error{Kind: KindCancelled, CredentialID: cred.ID, Err: err}
		}
		kind := kindForClass(apierror.ClassOf(err))
		p.logger.Error().
			Err(err).
			Str(logging.FieldCredential, cred.Masked).
			Str(logging.FieldErrorKind, string(kind)).
			Msg("Primary credential call failed")
		return &Error{Kind: kind, CredentialID: cred.ID, Err: err}
	}
	return nil
}

func (p *Pool) doRotation(ctx context.Context, fn func(context.Context, string) error, onStatus StatusFunc) error {
	creds, err := p.store.List(ctx)
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("list credentials: %w", err)}
	}

	candidates := make([]string, 0, len(creds))
	for _, c := range creds {
		if c.Status.Usable() {
			candidates = append(candidates, c.ID)
		}
	}
	if len(candidates) == 0 {
		return &Error{Kind: KindAllFailed, Err: fmt.Errorf("%w: no usable credentials", ErrAllCredentialsFailed)}
	}

	var lastErr error
	for _, id := range candidates {
		// Re-read: another call may have retired the credential meanwhile.
		cred, err := p.store.Get(ctx, id)
		if err != nil || !cred.Status.Usable() {
			continue
		}

		err = p.try(ctx, cred, "Using: ", fn, onStatus)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || apierror.IsCancellation(err) {
			return &Error{Kind: KindCancelled, CredentialID: cred.ID, Err: err}
		}
		if apierror.Is(err, apierror.ClassSafety) {
			p.logger.Warn().
				Str(logging.FieldCredential, cred.Masked).
				Msg("Request blocked by safety policy")
			return &Error{Kind: KindSafety, CredentialID: cred.ID, Err: err}
		}

		lastErr = err
		p.logger.Warn().
			Err(err).
			Str(logging.FieldCredential, cred.Masked).
			Str(logging.FieldErrorClass, string(apierror.ClassOf(err))).
			Msg("Credential failed, trying next")
	}

	if lastErr == nil {
		return &Error{Kind: KindAllFailed, Err: fmt.Errorf("%w: no usable credentials", ErrAllCredentialsFailed)}
	}
	p.logger.Error().
		Err(lastErr).
		Int("candidates", len(candidates)).
		Msg("All credentials failed")
	return &Error{Kind: KindAllFailed, Err: fmt.Errorf("%w: last error: %v", ErrAllCredentialsFailed, lastErr)}
}

// try calls fn with one credential, spending its quota retry budget.
func (p *Pool) try(ctx context.Context, cred Credential, label string, fn func(context.Context, string) error, onStatus StatusFunc) error {
	p.setActive(label + cred.Masked)
	attempts := p.cfg.Retry.attempts()

	for attempt := 1; ; attempt++ {
		err := fn(ctx, cred.Value)
		if err == nil {
			if cred.Status == StatusUnvalidated {
				p.transition(ctx, cred, StatusActive)
			}
			return nil
		}
		if ctx.Err() != nil || apierror.IsCancellation(err) {
			return err
		}

		class := apierror.ClassOf(err)
		poolFailuresTotal.WithLabelValues(string(class)).Inc()

		switch class {
		case apierror.ClassAuth:
			p.transition(ctx, cred, StatusInvalid)
			return err

		case apierror.ClassQuota:
			if attempt >= attempts {
				p.transition(ctx, cred, StatusExhausted)
				return err
			}
			wait := p.cfg.Retry.backoff(attempt)
			poolRetriesTotal.Inc()
			poolRetryBackoffSeconds.Observe(wait.Seconds())
			p.logger.Warn().
				Str(logging.FieldCredential, cred.Masked).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Quota limit reached, retrying after backoff")

			onStatus(fmt.Sprintf("Quota limit reached. Retrying in %d seconds...", int(wait.Seconds())))
			if err := p.cfg.Sleep(ctx, wait); err != nil {
				return err
			}
			onStatus("Retrying...")

		default:
			return err
		}
	}
}

// transition writes a status change through to the store. A failed write is
// logged and does not fail the call.
func (p *Pool) transition(ctx context.Context, cred Credential, status Status) {
	poolTransitionsTotal.WithLabelValues(string(status)).Inc()
	if err := p.store.UpdateStatus(ctx, cred.ID, status); err != nil {
		poolPersistErrorsTotal.Inc()
		p.logger.Error().
			Err(err).
			Str(logging.FieldCredential, cred.Masked).
			Str("status", string(status)).
			Msg("Failed to persist credential status")
		return
	}
	p.logger.Info().
		Str(logging.FieldCredential, cred.Masked).
		Str("from", string(cred.Status)).
		Str("to", string(status)).
		Msg("Credential status changed")
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return string(KindTransient)
}

// List returns all credentials in pool order.
func (p *Pool) List(ctx context.Context) ([]Credential, error) {
	return p.store.List(ctx)
}

// AddKeys adds one credential per non-empty line of input. Values already in
// the pool, or repeated in input, are skipped. It returns the added
// credentials.
func (p *Pool) AddKeys(ctx context.Context, input string) ([]Credential, error) {
	existing, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.Value] = true
	}

	var added []Credential
	for _, line := range strings.Split(input, "\n") {
		value := strings.TrimSpace(line)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		added = append(added, NewUserCredential(value))
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := p.store.Add(ctx, added...); err != nil {
		return nil, fmt.Errorf("add credentials: %w", err)
	}
	p.logger.Info().Int("count", len(added)).Msg("Credentials added")
	return added, nil
}

// Remove deletes a user credential. If it was the primary, the pool falls
// back to rotation.
func (p *Pool) Remove(ctx context.Context, id string) error {
	primary, err := p.store.Primary(ctx)
	if err != nil {
		return fmt.Errorf("load primary: %w", err)
	}
	if err := p.store.Remove(ctx, id); err != nil {
		return err
	}
	if primary == id {
		if err := p.store.SetPrimary(ctx, ""); err != nil {
			return fmt.Errorf("clear primary: %w", err)
		}
	}
	return nil
}

// Clear deletes every user credential and resets the primary.
func (p *Pool) Clear(ctx context.Context) error {
	if err := p.store.Clear(ctx); err != nil {
		return err
	}
	return p.store.SetPrimary(ctx, "")
}

// SetPrimary pins a credential for all calls; "" switches back to rotation.
func (p *Pool) SetPrimary(ctx context.Context, id string) error {
	if id != "" {
		if _, err := p.store.Get(ctx, id); err != nil {
			return err
		}
	}
	return p.store.SetPrimary(ctx, id)
}

// ClearPrimary switches back to rotation.
func (p *Pool) ClearPrimary(ctx context.Context) error {
	return p.store.SetPrimary(ctx, "")
}

// Primary returns the pinned credential id, "" in rotation mode.
func (p *Pool) Primary(ctx context.Context) (string, error) {
	return p.store.Primary(ctx)
}

// HasIssue reports whether the next call is certain to fail for lack of a
// usable credential: the primary is missing or retired, or, in rotation
// mode, no credential is usable.
func (p *Pool) HasIssue(ctx context.Context) (bool, error) {
	primary, err := p.store.Primary(ctx)
	if err != nil {
		return false, err
	}
	if primary != "" {
		cred, err := p.store.Get(ctx, primary)
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return !cred.Status.Usable(), nil
	}

	creds, err := p.store.List(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range creds {
		if c.Status.Usable() {
			return false, nil
		}
	}
	return true, nil
}

// exportedKey is the wire form of an exported credential.
type exportedKey struct {
	ID     string `json:"id"`
	Value  string `json:"value"`
	Masked string `json:"masked"`
	Status Status `json:"status"`
}

// Export serializes the user credentials as JSON. The system credential is
// never exported.
func (p *Pool) Export(ctx context.Context) ([]byte, error) {
	creds, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exportedKey, 0, len(creds))
	for _, c := range creds {
		if c.System {
			continue
		}
		out = append(out, exportedKey{ID: c.ID, Value: c.Value, Masked: c.Masked, Status: c.Status})
	}
	return json.MarshalIndent(out, "", "  ")
}

// Import adds credentials from an Export document. Values already present are
// skipped and every imported credential starts unvalidated. It returns the
// number of credentials added.
func (p *Pool) Import(ctx context.Context, data []byte) (int, error) {
	var in []exportedKey
	if err := json.Unmarshal(data, &in); err != nil {
		return 0, fmt.Errorf("decode credentials: %w", err)
	}

	existing, err := p.store.List(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	ids := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.Value] = true
		ids[c.ID] = true
	}

	var added []Credential
	for _, k := range in {
		value := strings.TrimSpace(k.Value)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true

		cred := NewUserCredential(value)
		if k.ID != "" && k.ID != SystemCredentialID && !ids[k.ID] {
			cred.ID = k.ID
		}
		ids[cred.ID] = true
		added = append(added, cred)
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := p.store.Add(ctx, added...); err != nil {
		return 0, err
	}
	p.logger.Info().Int("count", len(added)).Msg("Credentials imported")
	return len(added), nil
}

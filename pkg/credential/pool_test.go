package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
	"github.com/Sternrassler/studio-engine/pkg/logging"
)

// fakeRemote answers calls per secret from a scripted list of errors and
// records the order of secrets used.
type fakeRemote struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{scripts: make(map[string][]error)}
}

func (f *fakeRemote) script(secret string, errs ...error) {
	f.scripts[secret] = errs
}

func (f *fakeRemote) call(ctx context.Context, secret string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, secret)
	errs := f.scripts[secret]
	if len(errs) == 0 {
		return "ok:" + secret, nil
	}
	err := errs[0]
	f.scripts[secret] = errs[1:]
	if err == nil {
		return "ok:" + secret, nil
	}
	return "", err
}

func (f *fakeRemote) callCount(secret string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == secret {
			n++
		}
	}
	return n
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

var (
	errAuth   = apierror.New(apierror.ClassAuth, 400, "API key not valid")
	errQuota  = apierror.New(apierror.ClassQuota, 429, "RESOURCE_EXHAUSTED")
	errSafety = apierror.New(apierror.ClassSafety, 200, "SAFETY")
	errServer = apierror.New(apierror.ClassTransient, 503, "unavailable")
)

func testCred(id, value string, status Status) Credential {
	return Credential{ID: id, Value: value, Masked: Mask(value), Status: status}
}

func newTestPool(t *testing.T, creds ...Credential) (*Pool, *MemoryStore, *recordingSleeper) {
	t.Helper()
	store := NewMemoryStore(creds...)
	sleeper := &recordingSleeper{}
	cfg := DefaultConfig()
	cfg.Sleep = sleeper.sleep
	return NewPool(store, cfg), store, sleeper
}

func statusOf(t *testing.T, store Store, id string) Status {
	t.Helper()
	c, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return c.Status
}

func TestCall_RotationSuccessMarksActive(t *testing.T) {
	pool, store, _ := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusUnvalidated),
		testCred("b", "secret-bbbb-2222", StatusUnvalidated),
	)
	remote := newFakeRemote()

	got, err := Call(context.Background(), pool, remote.call, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "ok:secret-aaaa-1111" {
		t.Errorf("result = %q, want first credential result", got)
	}
	if s := statusOf(t, store, "a"); s != StatusActive {
		t.Errorf("status = %s, want active", s)
	}
	if s := statusOf(t, store, "b"); s != StatusUnvalidated {
		t.Errorf("untouched credential status = %s, want unvalidated", s)
	}
	if pool.Active() != "" {
		t.Errorf("Active() = %q after call, want empty", pool.Active())
	}
}

func TestCall_AuthRejectedNeverReselected(t *testing.T) {
	pool, store, _ := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	remote := newFakeRemote()
	remote.script("secret-aaaa-1111", errAuth)

	for i := 0; i < 3; i++ {
		got, err := Call(context.Background(), pool, remote.call, nil)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if got != "ok:secret-bbbb-2222" {
			t.Errorf("call %d result = %q, want second credential", i, got)
		}
	}

	if s := statusOf(t, store, "a"); s != StatusInvalid {
		t.Errorf("status = %s, want invalid", s)
	}
	if n := remote.callCount("secret-aaaa-1111"); n != 1 {
		t.Errorf("invalid credential used %d times, want 1", n)
	}
}

func TestCall_QuotaTwiceExhaustsAndSkips(t *testing.T) {
	pool, store, sleeper := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	remote := newFakeRemote()
	remote.script("secret-aaaa-1111", errQuota, errQuota)

	var statuses []string
	got, err := Call(context.Background(), pool, remote.call, func(s string) {
		statuses = append(statuses, s)
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "ok:secret-bbbb-2222" {
		t.Errorf("result = %q, want second credential", got)
	}
	if s := statusOf(t, store, "a"); s != StatusExhausted {
		t.Errorf("status = %s, want exhausted", s)
	}
	if n := remote.callCount("secret-aaaa-1111"); n != 2 {
		t.Errorf("exhausted credential called %d times, want 2", n)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 20*time.Second {
		t.Errorf("waits = %v, want one 20s backoff", sleeper.waits)
	}
	if len(statuses) != 2 || !strings.Contains(statuses[0], "20 seconds") {
		t.Errorf("status updates = %v", statuses)
	}

	if _, err := Call(context.Background(), pool, remote.call, nil); err != nil {
		t.Fatalf("second Call failed: %v", err)
	}
	if n := remote.callCount("secret-aaaa-1111"); n != 2 {
		t.Errorf("exhausted credential reselected: %d calls", n)
	}
}

func TestCall_QuotaThenSuccessKeepsCredential(t *testing.T) {
	pool, store, _ := newTestPool(t, testCred("a", "secret-aaaa-1111", StatusUnvalidated))
	remote := newFakeRemote()
	remote.script("secret-aaaa-1111", errQuota, nil)

	if _, err := Call(context.Background(), pool, remote.call, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if s := statusOf(t, store, "a"); s != StatusActive {
		t.Errorf("status = %s, want active", s)
	}
}

func TestCall_SafetyAbortsRotation(t *testing.T) {
	pool, store, _ := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	remote := newFakeRemote()
	remote.script("secret-aaaa-1111", errSafety)

	_, err := Call(context.Background(), pool, remote.call, nil)
	if !IsSafety(err) {
		t.Fatalf("err = %v, want safety", err)
	}
	if n := remote.callCount("secret-bbbb-2222"); n != 0 {
		t.Errorf("rotation continued after safety block: %d calls", n)
	}
	if s := statusOf(t, store, "a"); s != StatusActive {
		t.Errorf("safety block changed status to %s", s)
	}
}

func TestCall_TransientRotatesWithoutStatusChange(t *testing.T) {
	pool, store, _ := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	remote := newFakeRemote()
	remote.script("secret-aaaa-1111", errServer)

	if _, err := Call(context.Background(), pool, remote.call, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if s := statusOf(t, store, "a"); s != StatusActive {
		t.Errorf("status = %s, want active", s)
	}
}

func TestCall_AllFailed(t *testing.T) {
	tests := []struct {
		name  string
		creds []Credential
	}{
		{name: "empty pool", creds: nil},
		{
			name: "no usable credential",
			creds: []Credential{
				testCred("a", "secret-aaaa-1111", StatusInvalid),
				testCred("b", "secret-bbbb-2222", StatusExhausted),
			},
		},
		{
			name: "every candidate fails",
			creds: []Credential{
				testCred("a", "secret-aaaa-1111", StatusActive),
				testCred("b", "secret-bbbb-2222", StatusUnvalidated),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, _, _ := newTestPool(t, tt.creds...)
			remote := newFakeRemote()
			remote.script("secret-aaaa-1111", errAuth)
			remote.script("secret-bbbb-2222", errServer)

			_, err := Call(context.Background(), pool, remote.call, nil)
			if !IsAllFailed(err) {
				t.Fatalf("err = %v, want all failed", err)
			}
			if !errors.Is(err, ErrAllCredentialsFailed) {
				t.Error("error should wrap ErrAllCredentialsFailed")
			}
		})
	}
}

func TestCall_PrimaryUnusableFailsImmediately(t *testing.T) {
	pool, _, _ := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusInvalid),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	ctx := context.Background()
	if err := pool.SetPrimary(ctx, "a"); err != nil {
		t.Fatalf("SetPrimary failed: %v", err)
	}
	remote := newFakeRemote()

	_, err := Call(ctx, pool, remote.call, nil)
	if !IsPrimaryUnusable(err) {
		t.Fatalf("err = %v, want primary unusable", err)
	}
	if len(remote.calls) != 0 {
		t.Errorf("calls made with unusable primary: %v", remote.calls)
	}
}

// failingGetStore fails Get for one credential, as an unreachable backend
// would.
type failingGetStore struct {
	*MemoryStore
	id  string
	err error
}

func (f *failingGetStore) Get(ctx context.Context, id string) (Credential, error) {
	if id == f.id {
		return Credential{}, f.err
	}
	return f.MemoryStore.Get(ctx, id)
}

func TestCall_PrimaryLookupFailure(t *testing.T) {
	errBackend := errors.New("connection refused")
	tests := []struct {
		name     string
		getErr   error
		wantKind Kind
	}{
		{name: "missing credential", getErr: ErrNotFound, wantKind: KindPrimaryUnusable},
		{name: "store unavailable", getErr: errBackend, wantKind: KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemoryStore(testCred("a", "secret-aaaa-1111", StatusActive))
			ctx := context.Background()
			if err := mem.SetPrimary(ctx, "a"); err != nil {
				t.Fatalf("SetPrimary failed: %v", err)
			}
			cfg := DefaultConfig()
			cfg.Sleep = (&recordingSleeper{}).sleep
			pool := NewPool(&failingGetStore{MemoryStore: mem, id: "a", err: tt.getErr}, cfg)
			remote := newFakeRemote()

			_, err := Call(ctx, pool, remote.call, nil)
			if k := KindOf(err); k != tt.wantKind {
				t.Errorf("kind = %q, want %q (err: %v)", k, tt.wantKind, err)
			}
			if tt.getErr == errBackend && !errors.Is(err, errBackend) {
				t.Errorf("err = %v, should wrap the store error", err)
			}
			if len(remote.calls) != 0 {
				t.Errorf("calls made without a loaded primary: %v", remote.calls)
			}
		})
	}
}

func TestCall_PrimaryFailureNotSubstituted(t *testing.T) {
	tests := []struct {
		name       string
		errs       []error
		wantKind   Kind
		wantStatus Status
		wantCalls  int
	}{
		{name: "auth", errs: []error{errAuth}, wantKind: KindAuth, wantStatus: StatusInvalid, wantCalls: 1},
		{name: "quota twice", errs: []error{errQuota, errQuota}, wantKind: KindQuota, wantStatus: StatusExhausted, wantCalls: 2},
		{name: "safety", errs: []error{errSafety}, wantKind: KindSafety, wantStatus: StatusActive, wantCalls: 1},
		{name: "transient", errs: []error{errServer}, wantKind: KindTransient, wantStatus: StatusActive, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, store, _ := newTestPool(t,
				testCred("a", "secret-aaaa-1111", StatusActive),
				testCred("b", "secret-bbbb-2222", StatusActive),
			)
			ctx := context.Background()
			if err := pool.SetPrimary(ctx, "b"); err != nil {
				t.Fatalf("SetPrimary failed: %v", err)
			}
			remote := newFakeRemote()
			remote.script("secret-bbbb-2222", tt.errs...)

			_, err := Call(ctx, pool, remote.call, nil)
			if k := KindOf(err); k != tt.wantKind {
				t.Errorf("kind = %q, want %q (err: %v)", k, tt.wantKind, err)
			}
			if n := remote.callCount("secret-aaaa-1111"); n != 0 {
				t.Errorf("other credential used %d times", n)
			}
			if n := remote.callCount("secret-bbbb-2222"); n != tt.wantCalls {
				t.Errorf("primary called %d times, want %d", n, tt.wantCalls)
			}
			if s := statusOf(t, store, "b"); s != tt.wantStatus {
				t.Errorf("status = %s, want %s", s, tt.wantStatus)
			}
		})
	}
}

func TestCall_CancelledDuringBackoff(t *testing.T) {
	store := NewMemoryStore(
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	pool := NewPool(store, cfg)
	remote := newFakeRemote()
	remote.script("secret-aaaa-1111", errQuota)

	_, err := Call(ctx, pool, remote.call, nil)
	if KindOf(err) != KindCancelled {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if n := remote.callCount("secret-bbbb-2222"); n != 0 {
		t.Errorf("rotation continued after cancel: %d calls", n)
	}
	if s := statusOf(t, store, "a"); s != StatusActive {
		t.Errorf("status = %s, want unchanged", s)
	}
}

func TestAddKeys_DedupesByValue(t *testing.T) {
	pool, _, _ := newTestPool(t, testCred("a", "existing-key-0000", StatusActive))
	ctx := context.Background()

	added, err := pool.AddKeys(ctx, "new-key-1111\n\n  existing-key-0000 \nnew-key-1111\nnew-key-2222\n")
	if err != nil {
		t.Fatalf("AddKeys failed: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("added %d credentials, want 2", len(added))
	}
	for _, c := range added {
		if c.Status != StatusUnvalidated {
			t.Errorf("new credential status = %s, want unvalidated", c.Status)
		}
		if !strings.HasPrefix(c.ID, "key_") {
			t.Errorf("id = %q, want key_ prefix", c.ID)
		}
	}

	all, _ := pool.List(ctx)
	if len(all) != 3 {
		t.Errorf("pool size = %d, want 3", len(all))
	}
}

func TestRemove_ClearsPrimary(t *testing.T) {
	pool, _, _ := newTestPool(t,
		NewSystemCredential("system-secret-9999", ""),
		testCred("a", "secret-aaaa-1111", StatusActive),
	)
	ctx := context.Background()
	_ = pool.SetPrimary(ctx, "a")

	if err := pool.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if p, _ := pool.Primary(ctx); p != "" {
		t.Errorf("primary = %q after removal, want rotation", p)
	}
	if err := pool.Remove(ctx, SystemCredentialID); !errors.Is(err, ErrSystemCredential) {
		t.Errorf("Remove(system) err = %v, want ErrSystemCredential", err)
	}
	if err := pool.Remove(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(missing) err = %v, want ErrNotFound", err)
	}
}

func TestClear_KeepsSystemCredential(t *testing.T) {
	pool, _, _ := newTestPool(t,
		NewSystemCredential("system-secret-9999", "owner-1"),
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	ctx := context.Background()
	_ = pool.SetPrimary(ctx, "b")

	if err := pool.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	all, _ := pool.List(ctx)
	if len(all) != 1 || all[0].ID != SystemCredentialID {
		t.Errorf("after Clear = %+v, want only system credential", all)
	}
	if p, _ := pool.Primary(ctx); p != "" {
		t.Errorf("primary = %q after Clear", p)
	}
}

func TestSetPrimary_UnknownID(t *testing.T) {
	pool, _, _ := newTestPool(t)
	if err := pool.SetPrimary(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	src, _, _ := newTestPool(t,
		NewSystemCredential("system-secret-9999", ""),
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusExhausted),
	)
	ctx := context.Background()

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if strings.Contains(string(data), "system-secret-9999") {
		t.Error("export contains the system credential")
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("export = %s, want 2 entries", data)
	}

	dst, _, _ := newTestPool(t, testCred("x", "secret-bbbb-2222", StatusActive))
	n, err := dst.Import(ctx, data)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 1 {
		t.Errorf("imported %d, want 1 (duplicate skipped)", n)
	}

	all, _ := dst.List(ctx)
	values := map[string]Status{}
	for _, c := range all {
		values[c.Value] = c.Status
	}
	if values["secret-aaaa-1111"] != StatusUnvalidated {
		t.Errorf("imported status = %s, want unvalidated", values["secret-aaaa-1111"])
	}
	if values["secret-bbbb-2222"] != StatusActive {
		t.Errorf("existing credential changed to %s", values["secret-bbbb-2222"])
	}
}

func TestImport_InvalidJSON(t *testing.T) {
	pool, _, _ := newTestPool(t)
	if _, err := pool.Import(context.Background(), []byte("{not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestHasIssue(t *testing.T) {
	tests := []struct {
		name     string
		creds    []Credential
		primary  string
		expected bool
	}{
		{name: "empty pool", expected: true},
		{name: "usable rotation", creds: []Credential{testCred("a", "secret-aaaa-1111", StatusUnvalidated)}, expected: false},
		{name: "all retired", creds: []Credential{testCred("a", "secret-aaaa-1111", StatusInvalid), testCred("b", "secret-bbbb-2222", StatusExhausted)}, expected: true},
		{name: "primary usable", creds: []Credential{testCred("a", "secret-aaaa-1111", StatusActive)}, primary: "a", expected: false},
		{name: "primary exhausted", creds: []Credential{testCred("a", "secret-aaaa-1111", StatusExhausted), testCred("b", "secret-bbbb-2222", StatusActive)}, primary: "a", expected: true},
		{name: "primary missing", creds: []Credential{testCred("b", "secret-bbbb-2222", StatusActive)}, primary: "gone", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore(tt.creds...)
			_ = store.SetPrimary(context.Background(), tt.primary)
			pool := NewPool(store, DefaultConfig())

			got, err := pool.HasIssue(context.Background())
			if err != nil {
				t.Fatalf("HasIssue failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("HasIssue() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	pool, store, _ := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusUnvalidated),
		testCred("b", "secret-bbbb-2222", StatusActive),
		testCred("c", "secret-cccc-3333", StatusUnvalidated),
		testCred("d", "secret-dddd-4444", StatusUnvalidated),
	)
	check := func(ctx context.Context, secret string) error {
		switch secret {
		case "secret-bbbb-2222":
			return errAuth
		case "secret-cccc-3333":
			return errQuota
		case "secret-dddd-4444":
			return errServer
		}
		return nil
	}

	results, err := pool.ValidateAll(context.Background(), check)
	if err != nil {
		t.Fatalf("ValidateAll failed: %v", err)
	}

	want := map[string]Status{
		"a": StatusActive,
		"b": StatusInvalid,
		"c": StatusExhausted,
		"d": StatusUnvalidated,
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for _, r := range results {
		if r.Status != want[r.ID] {
			t.Errorf("result %s = %s, want %s", r.ID, r.Status, want[r.ID])
		}
		if s := statusOf(t, store, r.ID); s != want[r.ID] {
			t.Errorf("stored %s = %s, want %s", r.ID, s, want[r.ID])
		}
	}
	if results[0].ID != "a" || results[3].ID != "d" {
		t.Error("results not in pool order")
	}
}

func TestCall_LogsMaskedCredentialOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	logging.Setup(logging.Config{Level: logging.LevelDebug, Output: buf})
	t.Cleanup(func() { logging.Setup(logging.DefaultConfig()) })

	pool, _, _ := newTestPool(t,
		testCred("a", "secret-aaaa-1111", StatusActive),
		testCred("b", "secret-bbbb-2222", StatusActive),
	)
	remote := newFakeRemote()
	remote.script("secret-aaaa-1111", errAuth)

	if _, err := Call(context.Background(), pool, remote.call, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"credential":"secr...1111"`) {
		t.Errorf("log does not name the failed credential by its preview: %s", out)
	}
	if strings.Contains(out, "secret-aaaa-1111") || strings.Contains(out, "secret-bbbb-2222") {
		t.Errorf("log leaks a secret: %s", out)
	}
}

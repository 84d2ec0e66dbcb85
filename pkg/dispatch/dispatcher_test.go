package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Raos0nu/policy-extract/pkg/credential"
)

// fakeInference returns scripted results in order; once the script runs out
// it keeps returning the last entry.
type fakeInference struct {
	script  []fakeResult
	calls   int
	secrets []string
}

type fakeResult struct {
	payload []byte
	err     error
}

func (f *fakeInference) Infer(ctx context.Context, prompt string, secret string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.secrets = append(f.secrets, secret)
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	return f.script[idx].payload, f.script[idx].err
}

type staticPrompts struct {
	err error
}

func (s staticPrompts) Prompt(ctx context.Context, sourceRef string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "extract fields from " + sourceRef, nil
}

func testConfig(maxAttempts int) Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts:       maxAttempts,
			InitialBackoff:    1 * time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		AttemptTimeout: 5 * time.Second,
	}
}

func newTestDispatcher(t *testing.T, secrets []string, svc Inference, cfg Config) (*Dispatcher, *credential.Pool) {
	t.Helper()
	pool, err := credential.NewPool(secrets, credential.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	d, err := New(pool, svc, staticPrompts{}, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d, pool
}

func TestNew_Validation(t *testing.T) {
	pool, _ := credential.NewPool([]string{"a"}, credential.DefaultConfig(), zerolog.Nop())
	svc := &fakeInference{script: []fakeResult{{payload: []byte("{}")}}}

	tests := []struct {
		name    string
		pool    *credential.Pool
		svc     Inference
		prompts PromptSource
		wantErr bool
	}{
		{name: "nil pool", pool: nil, svc: svc, prompts: staticPrompts{}, wantErr: true},
		{name: "nil service", pool: pool, svc: nil, prompts: staticPrompts{}, wantErr: true},
		{name: "nil prompts", pool: pool, svc: svc, prompts: nil, wantErr: true},
		{name: "valid", pool: pool, svc: svc, prompts: staticPrompts{}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.pool, tt.svc, tt.prompts, Config{}, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDispatch_Success(t *testing.T) {
	svc := &fakeInference{script: []fakeResult{{payload: []byte(`{"ok":true}`)}}}
	d, pool := newTestDispatcher(t, []string{"key-a"}, svc, testConfig(3))

	payload, err := d.Dispatch(context.Background(), "doc-1.txt")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if string(payload) != `{"ok":true}` {
		t.Errorf("payload = %s, want {\"ok\":true}", payload)
	}
	if svc.calls != 1 {
		t.Errorf("inference calls = %d, want 1", svc.calls)
	}

	stats := pool.Stats()
	if stats.Successes != 1 {
		t.Errorf("pool successes = %d, want 1", stats.Successes)
	}
}

func TestDispatch_RateLimitedSwitchesCredential(t *testing.T) {
	svc := &fakeInference{script: []fakeResult{
		{err: NewClassifiedError(ErrorClassRateLimited, 429, "rate limit", nil)},
		{payload: []byte(`{"ok":true}`)},
	}}
	d, pool := newTestDispatcher(t, []string{"key-a", "key-b"}, svc, testConfig(3))

	payload, err := d.Dispatch(context.Background(), "doc-1.txt")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if payload == nil {
		t.Fatal("Dispatch() returned nil payload")
	}
	if svc.calls != 2 {
		t.Fatalf("inference calls = %d, want 2", svc.calls)
	}
	if svc.secrets[0] == svc.secrets[1] {
		t.Errorf("retry reused rate-limited credential %q", svc.secrets[0])
	}

	stats := pool.Stats()
	if stats.RateLimited != 1 {
		t.Errorf("pool rate limited = %d, want 1", stats.RateLimited)
	}
	if stats.Usable != 1 {
		t.Errorf("pool usable = %d, want 1 (one cooling down)", stats.Usable)
	}
}

func TestDispatch_PermanentFailureNoRetry(t *testing.T) {
	permErr := NewClassifiedError(ErrorClassPermanent, 400, "malformed request", nil)
	svc := &fakeInference{script: []fakeResult{{err: permErr}}}
	d, pool := newTestDispatcher(t, []string{"key-a"}, svc, testConfig(3))

	_, err := d.Dispatch(context.Background(), "doc-1.txt")
	if err == nil {
		t.Fatal("Dispatch() error = nil, want permanent error")
	}
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Class != ErrorClassPermanent {
		t.Errorf("Dispatch() error = %v, want permanent ClassifiedError", err)
	}
	if svc.calls != 1 {
		t.Errorf("inference calls = %d, want 1 (no retry on permanent)", svc.calls)
	}

	// A permanent item failure must not degrade the credential.
	stats := pool.Stats()
	if stats.Usable != 1 {
		t.Errorf("pool usable = %d, want 1", stats.Usable)
	}
}

func TestDispatch_RetryExhausted(t *testing.T) {
	svc := &fakeInference{script: []fakeResult{
		{err: NewClassifiedError(ErrorClassTransient, 500, "server error", nil)},
	}}
	d, _ := newTestDispatcher(t, []string{"key-a"}, svc, testConfig(3))

	_, err := d.Dispatch(context.Background(), "doc-1.txt")
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Dispatch() error = %v, want ErrRetryExhausted", err)
	}
	if svc.calls != 3 {
		t.Errorf("inference calls = %d, want 3", svc.calls)
	}

	// The underlying classification survives the wrapping.
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Class != ErrorClassTransient {
		t.Errorf("Dispatch() error = %v, want wrapped transient ClassifiedError", err)
	}
}

func TestDispatch_InvalidCredentialRetiresAndRetries(t *testing.T) {
	svc := &fakeInference{script: []fakeResult{
		{err: NewClassifiedError(ErrorClassInvalidCredential, 401, "bad key", nil)},
		{payload: []byte(`{"ok":true}`)},
	}}
	d, pool := newTestDispatcher(t, []string{"key-a", "key-b"}, svc, testConfig(3))

	payload, err := d.Dispatch(context.Background(), "doc-1.txt")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if payload == nil {
		t.Fatal("Dispatch() returned nil payload")
	}
	if svc.secrets[0] == svc.secrets[1] {
		t.Errorf("retry reused retired credential %q", svc.secrets[0])
	}

	stats := pool.Stats()
	if stats.Usable != 1 {
		t.Errorf("pool usable = %d, want 1 (one retired)", stats.Usable)
	}
}

func TestDispatch_NoUsableCredentialFailsFast(t *testing.T) {
	pool, err := credential.NewPool([]string{"key-a"}, credential.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	svc := &fakeInference{script: []fakeResult{
		{err: NewClassifiedError(ErrorClassQuotaExhausted, 429, "daily quota", nil)},
	}}
	d, err := New(pool, svc, staticPrompts{}, testConfig(3), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// First dispatch exhausts the only credential and then fails fast on
	// the second attempt instead of burning the full attempt budget.
	start := time.Now()
	_, err = d.Dispatch(context.Background(), "doc-1.txt")
	if !errors.Is(err, credential.ErrNoUsableCredential) {
		t.Fatalf("Dispatch() error = %v, want ErrNoUsableCredential", err)
	}
	if svc.calls != 1 {
		t.Errorf("inference calls = %d, want 1", svc.calls)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Dispatch() took %v, want fast failure", elapsed)
	}

	// Subsequent dispatches fail without any inference call at all.
	_, err = d.Dispatch(context.Background(), "doc-2.txt")
	if !errors.Is(err, credential.ErrNoUsableCredential) {
		t.Fatalf("Dispatch() error = %v, want ErrNoUsableCredential", err)
	}
	if svc.calls != 1 {
		t.Errorf("inference calls = %d, want 1 (no call without credential)", svc.calls)
	}
}

func TestDispatch_UnreadableSourceFailsWithoutInference(t *testing.T) {
	permErr := NewClassifiedError(ErrorClassPermanent, 0, "read source document", errors.New("no such file"))
	svc := &fakeInference{script: []fakeResult{{payload: []byte("{}")}}}

	pool, err := credential.NewPool([]string{"key-a"}, credential.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	d, err := New(pool, svc, staticPrompts{err: permErr}, testConfig(3), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = d.Dispatch(context.Background(), "missing.txt")
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Class != ErrorClassPermanent {
		t.Fatalf("Dispatch() error = %v, want permanent ClassifiedError", err)
	}
	if svc.calls != 0 {
		t.Errorf("inference calls = %d, want 0 for unreadable source", svc.calls)
	}
}

func TestDispatch_ContextCancelledDuringBackoff(t *testing.T) {
	svc := &fakeInference{script: []fakeResult{
		{err: NewClassifiedError(ErrorClassTransient, 500, "server error", nil)},
	}}
	cfg := Config{
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    10 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		},
		AttemptTimeout: 5 * time.Second,
	}
	d, _ := newTestDispatcher(t, []string{"key-a"}, svc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Dispatch(ctx, "doc-1.txt")
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("Dispatch() error = %v, want ErrContextCancelled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Dispatch() took %v, want prompt return after cancel", elapsed)
	}
}

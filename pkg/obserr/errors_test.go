package obserr

import (
	"errors"
	"testing"
	"time"
)

func TestKind_Recoverable(t *testing.T) {
	cases := map[Kind]bool{
		KindTransientRpc:         true,
		KindDecodeDropped:        true,
		KindCorrelationNoMatch:   true,
		KindAnalysisIncomplete:   true,
		KindPersistenceTransient: true,
		KindFatalRpc:             false,
		KindPersistenceFatal:     false,
		KindConfigInvalid:        false,
	}
	for kind, want := range cases {
		if got := kind.Recoverable(); got != want {
			t.Errorf("%s.Recoverable() = %v, want %v", kind, got, want)
		}
	}
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := Wrap(cause, KindTransientRpc, "rpc failed")

	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if wrapped.Unwrap() != cause {
		t.Fatalf("expected Unwrap to return the cause, got %v", wrapped.Unwrap())
	}
}

func TestAs_HasKind(t *testing.T) {
	err := TransientRpc(errors.New("timeout"), "https://rpc.example")
	if !HasKind(err, KindTransientRpc) {
		t.Fatal("expected HasKind to match TRANSIENT_RPC")
	}
	if HasKind(err, KindFatalRpc) {
		t.Fatal("expected HasKind to reject a different kind")
	}

	plain := errors.New("not an ObserverError")
	if HasKind(plain, KindTransientRpc) {
		t.Fatal("expected HasKind to be false for a non-ObserverError")
	}
}

func TestRetryPolicy_IsRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	transient := PersistenceTransient(errors.New("deadlock"), "upsert")
	if !policy.IsRetryable(transient) {
		t.Fatal("expected PersistenceTransient to be retryable under the default policy")
	}

	fatal := PersistenceFatal(errors.New("constraint violation"), "upsert")
	if policy.IsRetryable(fatal) {
		t.Fatal("expected PersistenceFatal to not be retryable")
	}
}

func TestRetryPolicy_BackoffGrowsAndJitters(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 3, BackoffBase: 100 * time.Millisecond}

	d0 := policy.Backoff(0)
	d1 := policy.Backoff(1)

	if d0 < policy.BackoffBase {
		t.Fatalf("expected attempt 0 backoff >= base, got %v", d0)
	}
	if d1 < 2*policy.BackoffBase {
		t.Fatalf("expected attempt 1 backoff >= 2x base, got %v", d1)
	}
}

func TestConfigInvalid_CarriesFieldAndReason(t *testing.T) {
	err := ConfigInvalid("DATABASE_URL", "must not be empty")
	if err.Kind != KindConfigInvalid {
		t.Fatalf("expected CONFIG_INVALID, got %s", err.Kind)
	}
	if err.Details != "must not be empty" {
		t.Fatalf("expected details to carry the reason, got %q", err.Details)
	}
	if err.Context["field"] != "DATABASE_URL" {
		t.Fatalf("expected context field to carry the offending field, got %v", err.Context["field"])
	}
}

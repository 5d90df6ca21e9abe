package flows

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errInvalidInput = errors.New("invalid input")
	errInvalidCode  = errors.New("invalid code")
	errDispatch     = errors.New("dispatch failed")
	errRecoveryDown = errors.New("recovery unavailable")
	errCodeRejected = errors.New("code rejected")
)

type recoveryRecorder struct {
	saved    map[string][32]byte
	deleted  []string
	reset    string
	failures int
	reasons  []string
}

func recoveryTestDeps(rec *recoveryRecorder) RecoveryDeps {
	rec.saved = map[string][32]byte{}
	return RecoveryDeps{
		FindByEmail: func(_ context.Context, email string) (RecoveryPrincipal, error) {
			if email != "ada@example.com" {
				return RecoveryPrincipal{}, errNotFound
			}
			return RecoveryPrincipal{ID: "p1", Email: email, FirstName: "Ada"}, nil
		},
		IsNotFound: func(err error) bool { return errors.Is(err, errNotFound) },
		NewCode:    func(int) (string, error) { return "123456", nil },
		SaveCode: func(_ context.Context, id string, digest [32]byte, _ time.Duration) error {
			rec.saved[id] = digest
			return nil
		},
		ConsumeCode: func(_ context.Context, id string, digest [32]byte) error {
			stored, ok := rec.saved[id]
			if !ok || stored != digest {
				return errCodeRejected
			}
			delete(rec.saved, id)
			return nil
		},
		DeleteCode: func(_ context.Context, id string) error {
			rec.deleted = append(rec.deleted, id)
			delete(rec.saved, id)
			return nil
		},
		IsCodeRejected: func(err error) bool { return errors.Is(err, errCodeRejected) },
		SendCode:       func(context.Context, RecoveryPrincipal, string, time.Duration) error { return nil },
		HashPassword:   func(p string) (string, error) { return "hash:" + p, nil },
		ResetPassword: func(_ context.Context, _ string, hash string) error {
			rec.reset = hash
			return nil
		},
		RecordCompleteFailure: func(context.Context, string) error {
			rec.failures++
			return nil
		},
		EmitAudit: func(_ context.Context, _ string, _ bool, _ string, _ error, extra func() map[string]string) {
			if extra != nil {
				rec.reasons = append(rec.reasons, extra()["reason"])
			}
		},
		Errors: RecoveryErrors{
			EngineNotReady:      errNotReady,
			InvalidInput:        errInvalidInput,
			NotFound:            errNotFound,
			RecoveryUnavailable: errRecoveryDown,
			DispatchFailed:      errDispatch,
			InvalidCode:         errInvalidCode,
		},
	}
}

func TestRecoveryCodeCompletesOnce(t *testing.T) {
	rec := &recoveryRecorder{}
	deps := recoveryTestDeps(rec)
	ctx := context.Background()

	if err := RunInitiateRecovery(ctx, " ADA@example.com ", deps); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if err := RunCompleteRecovery(ctx, "ada@example.com", "123456", "New-pass-1", deps); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if rec.reset != "hash:New-pass-1" {
		t.Fatalf("unexpected reset hash %q", rec.reset)
	}
	if err := RunCompleteRecovery(ctx, "ada@example.com", "123456", "New-pass-2", deps); !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected reused code to be rejected, got %v", err)
	}
	if rec.failures != 1 || rec.reasons[len(rec.reasons)-1] != "code_rejected" {
		t.Fatalf("failures=%d reasons=%v", rec.failures, rec.reasons)
	}
}

func TestRecoveryMismatchKeepsCode(t *testing.T) {
	rec := &recoveryRecorder{}
	deps := recoveryTestDeps(rec)
	ctx := context.Background()

	if err := RunInitiateRecovery(ctx, "ada@example.com", deps); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if err := RunCompleteRecovery(ctx, "ada@example.com", "654321", "New-pass-1", deps); !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if err := RunCompleteRecovery(ctx, "ada@example.com", "123456", "New-pass-1", deps); err != nil {
		t.Fatalf("correct code should still complete, got %v", err)
	}
}

func TestRecoveryMalformedAndStoreOutage(t *testing.T) {
	rec := &recoveryRecorder{}
	deps := recoveryTestDeps(rec)
	ctx := context.Background()

	if err := RunCompleteRecovery(ctx, "ada@example.com", "12a456", "New-pass-1", deps); !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected malformed code rejection, got %v", err)
	}

	deps.ConsumeCode = func(context.Context, string, [32]byte) error { return errors.New("redis down") }
	if err := RunCompleteRecovery(ctx, "ada@example.com", "123456", "New-pass-1", deps); !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected store outage to read as invalid code, got %v", err)
	}
	if got := rec.reasons; len(got) != 2 || got[0] != "code_malformed" || got[1] != "store_unavailable" {
		t.Fatalf("unexpected reasons %v", got)
	}
	if rec.reset != "" {
		t.Fatal("password must not change")
	}
}

func TestRecoveryPolicyCheckedBeforeConsume(t *testing.T) {
	rec := &recoveryRecorder{}
	deps := recoveryTestDeps(rec)
	deps.CheckPolicy = func(string) error { return errors.New("too short") }
	ctx := context.Background()

	if err := RunInitiateRecovery(ctx, "ada@example.com", deps); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if err := RunCompleteRecovery(ctx, "ada@example.com", "123456", "x", deps); !errors.Is(err, errInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, ok := rec.saved["p1"]; !ok {
		t.Fatal("policy rejection must not consume the code")
	}
}

func TestInitiateRecoveryDispatchFailureDropsCode(t *testing.T) {
	rec := &recoveryRecorder{}
	deps := recoveryTestDeps(rec)
	deps.SendCode = func(context.Context, RecoveryPrincipal, string, time.Duration) error {
		return errors.New("smtp down")
	}

	err := RunInitiateRecovery(context.Background(), "ada@example.com", deps)
	if !errors.Is(err, errDispatch) {
		t.Fatalf("expected dispatch failure, got %v", err)
	}
	if len(rec.deleted) != 1 || len(rec.saved) != 0 {
		t.Fatalf("pending code not dropped: deleted=%v saved=%v", rec.deleted, rec.saved)
	}
}

func TestInitiateRecoveryInputAndLookup(t *testing.T) {
	rec := &recoveryRecorder{}
	deps := recoveryTestDeps(rec)

	if err := RunInitiateRecovery(context.Background(), "not-an-email", deps); !errors.Is(err, errInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := RunInitiateRecovery(context.Background(), "bob@example.com", deps); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	deps.SaveCode = func(context.Context, string, [32]byte, time.Duration) error { return errors.New("redis down") }
	if err := RunInitiateRecovery(context.Background(), "ada@example.com", deps); !errors.Is(err, errRecoveryDown) {
		t.Fatalf("expected recovery unavailable, got %v", err)
	}

	deps.SendCode = nil
	if err := RunInitiateRecovery(context.Background(), "ada@example.com", deps); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

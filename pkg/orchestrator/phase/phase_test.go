package phase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/cardvault/pkg/retry"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l.WithField("test", true)
}

func TestRunReturnsValueOnSuccess(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	outcome, err := Run(context.Background(), time.Second, policy, testLogger(),
		func(ctx context.Context) (int, error) { return 42, nil }, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Value != 42 || outcome.Substituted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestRunPropagatesErrorWithNilFallback(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	wantErr := errors.New("boom")
	_, err := Run(context.Background(), time.Second, policy, testLogger(),
		func(ctx context.Context) (int, error) { return 0, wantErr }, nil)

	if err == nil {
		t.Fatal("expected an error to propagate")
	}
}

func TestRunSubstitutesFallbackWhenRetriesExhausted(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	calls := 0
	outcome, err := Run(context.Background(), time.Second, policy, testLogger(),
		func(ctx context.Context) (int, error) { calls++; return 0, errors.New("boom") },
		func(err error) int { return -1 })

	if err != nil {
		t.Fatalf("expected no error once a fallback is substituted, got %v", err)
	}
	if !outcome.Substituted || outcome.Value != -1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt with MaxAttempts=1, got %d", calls)
	}
}

package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapfKeepsCode(t *testing.T) {
	err := Wrapf(ErrInvalidBps, "got %d", 10001)
	if !errors.Is(err, ErrInvalidBps) {
		t.Fatalf("expected errors.Is to match InvalidBps")
	}
	if errors.Is(err, ErrInvalidFee) {
		t.Fatalf("unexpected match with InvalidFee")
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("kind mismatch: %s", KindOf(err))
	}
	if err.Error() != "InvalidBps: got 10001" {
		t.Fatalf("message mismatch: %q", err.Error())
	}
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("swap: %w", Wrapf(ErrSlippageExceeded, "out 1 < min 2"))
	if !Is(err, KindSlippage) {
		t.Fatalf("expected slippage kind, got %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors should have unknown kind")
	}
	if Is(nil, KindUnknown) {
		t.Fatalf("nil error should not match any kind")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("op: %w", Wrapf(ErrPoolPaused, "pool x"))); got != "PoolPaused" {
		t.Fatalf("code: %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("plain error code: %q", got)
	}
}

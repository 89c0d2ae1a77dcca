package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnavailableWrapsRawErrors(t *testing.T) {
	raw := errors.New("connection refused")
	err := Unavailable(raw)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, raw) {
		t.Fatalf("expected original error to be preserved")
	}
}

func TestUnavailableKeepsClassifiedErrors(t *testing.T) {
	nf := fmt.Errorf("%w: flight f1", ErrNotFound)
	if got := Unavailable(nf); got != nf {
		t.Fatalf("classified error rewrapped: %v", got)
	}
	if Unavailable(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

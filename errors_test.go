package eventual

import (
	"errors"
	"testing"
)

func TestRejectionError(t *testing.T) {
	err := &RejectionError{Reason: 42}

	expected := "promise rejected with reason: 42"

	if err.Error() != expected {
		t.Fatalf("expected %q, got %q", expected, err.Error())
	}
}

func TestAsError(t *testing.T) {
	boom := errors.New("boom")

	if got := asError(boom); got != boom {
		t.Fatalf("expected error reasons to pass through unchanged, got %#v", got)
	}

	got := asError("raw")

	var re *RejectionError
	if !errors.As(got, &re) {
		t.Fatalf("expected *RejectionError, got %#v", got)
	}

	if re.Reason.(string) != "raw" {
		t.Fatalf("expected reason %q, got %#v", "raw", re.Reason)
	}
}

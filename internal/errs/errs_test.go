package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("x"), Internal},
		{"validation", NewValidation("bad"), Validation},
		{"wrapped not found", fmt.Errorf("lookup: %w", NewNotFound("missing")), NotFound},
		{"deadline", context.DeadlineExceeded, Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapKeepsClassification(t *testing.T) {
	nf := NewNotFound("no unit assigned to this driver")
	if got := Wrap(nf, "store failed"); got != error(nf) {
		t.Errorf("Wrap reclassified a classified error: %v", got)
	}
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	w := Wrap(errors.New("disk"), "store failed")
	if !Is(w, Internal) {
		t.Errorf("expected internal, got %v", KindOf(w))
	}
}

func TestMessageHidesInternalDetail(t *testing.T) {
	err := E(Internal, "write position", errors.New("database is locked"))
	if got := Message(err); got != "internal server error" {
		t.Errorf("Message() = %q", got)
	}
	if got := Message(NewValidation("latitude out of range")); got != "latitude out of range" {
		t.Errorf("Message() = %q", got)
	}
}

package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/Habitat/internal/domain"
)

func TestDeliveryErrorMatchesSentinelAndCause(t *testing.T) {
	err := &domain.DeliveryError{Subscription: 7, EventType: "speech", Cause: context.DeadlineExceeded}

	if !errors.Is(err, domain.ErrDelivery) {
		t.Fatal("expected errors.Is(err, ErrDelivery)")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected errors.Is(err, context.DeadlineExceeded)")
	}
	if got := err.Error(); got != "deliver speech to subscription 7: context deadline exceeded" {
		t.Fatalf("unexpected message: %q", got)
	}
}

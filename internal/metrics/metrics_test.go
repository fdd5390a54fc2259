package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bobboyms/immux-go/internal/metrics"
)

func TestObserveOperationRecordsOutcome(t *testing.T) {
	c := metrics.NewCollectors()

	c.ObserveOperation("set", nil)
	c.ObserveOperation("set", errors.New("boom"))

	if got := testutil.ToFloat64(c.Operations.WithLabelValues("set", "ok")); got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Operations.WithLabelValues("set", "error")); got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
}

func TestChainHeightAndLiveTransactionsAreSettable(t *testing.T) {
	c := metrics.NewCollectors()

	c.ChainHeight.Set(42)
	if got := testutil.ToFloat64(c.ChainHeight); got != 42 {
		t.Fatalf("ChainHeight = %v, want 42", got)
	}

	c.LiveTransactions.Set(3)
	if got := testutil.ToFloat64(c.LiveTransactions); got != 3 {
		t.Fatalf("LiveTransactions = %v, want 3", got)
	}
}

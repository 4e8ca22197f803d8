package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFallbackVerdict(t *testing.T) {
	before := testutil.ToFloat64(fallbackVerdicts)

	RecordFallbackVerdict()
	RecordFallbackVerdict()

	if got := testutil.ToFloat64(fallbackVerdicts) - before; got != 2 {
		t.Errorf("fallback verdict counter delta = %v, want 2", got)
	}
}

func TestRecordCapabilityRequest(t *testing.T) {
	okBefore := testutil.ToFloat64(capabilityRequests.WithLabelValues("risk_assessor", "success"))
	errBefore := testutil.ToFloat64(capabilityRequests.WithLabelValues("risk_assessor", "error"))

	RecordCapabilityRequest("risk_assessor", nil)
	RecordCapabilityRequest("risk_assessor", errors.New("upstream unavailable"))

	if got := testutil.ToFloat64(capabilityRequests.WithLabelValues("risk_assessor", "success")) - okBefore; got != 1 {
		t.Errorf("success counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(capabilityRequests.WithLabelValues("risk_assessor", "error")) - errBefore; got != 1 {
		t.Errorf("error counter delta = %v, want 1", got)
	}
}

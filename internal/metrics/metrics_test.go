package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	fetchesTotal = nil
	stageItemsTotal = nil
	runsTotal = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchesTotal == nil || stageItemsTotal == nil || runsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveFetch("BUKGU", false, 200)
	if val := testutil.ToFloat64(fetchesTotal); val != 1 {
		t.Errorf("expected fetchesTotal to be 1, got %f", val)
	}

	ObserveProxyFallback("HAEUNDAE")
	ObserveStage("collect", 2*time.Second)
	ObserveStageItem("collect", "BUKGU", "new")
	ObserveRun("ok")
	ObserveNotification("district", "ok")
	ObserveAnalysisCall("ok")
}

func TestObserversNilSafe(t *testing.T) {
	// Before Init, observers must not panic.
	saved := fetchesTotal
	fetchesTotal = nil
	defer func() { fetchesTotal = saved }()

	ObserveFetch("BUKGU", true, 403)
}

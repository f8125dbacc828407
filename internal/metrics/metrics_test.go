package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorders(t *testing.T) {
	RecordUpdatesPolled("personal", 3)
	RecordUpdate("personal", "dispatched")
	RecordUpdate("hub", "duplicate")
	RecordPollError("hub")
	RecordTenantProvisioned("direct")
	RecordHeartbeatCycle("delivered")
	RecordHeartbeatTick(250 * time.Millisecond)
	RecordCollectorResult("tasks", "items")
	RecordComposerFallback()
	RecordDelivery("plain")
	SetOutboxDepth(4)
	RecordReminder("sent")
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordHeartbeatCycle("muted")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `archie_heartbeat_cycles_total{outcome="muted"}`) {
		t.Fatalf("metrics output missing heartbeat counter")
	}
}

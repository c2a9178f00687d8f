package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/displayctl/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordCommand("lobby", OutcomeOK, 12*time.Millisecond)
	RecordTransmission("lobby", false)
	RecordTransmission("lobby", true)
	RecordUnexpected("lobby")
	RecordReconnect("lobby")
	SetConnectionState("lobby", 2)
	RecordHTTPRequest("GET", "/healthz", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`displayctl_mdc_commands_total{display="lobby",outcome="ok"}`,
		`displayctl_mdc_transmissions_total{display="lobby",kind="retry"}`,
		`displayctl_mdc_connection_state{display="lobby"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

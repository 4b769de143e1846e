package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func scrape(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestRecordCommand(t *testing.T) {
	s := NewServer("127.0.0.1:0", hclog.NewNullLogger())

	RecordCommand("TESTCMD", time.Millisecond, false)
	RecordCommand("TESTCMD", time.Millisecond, true)

	_, body := scrape(t, s, "/metrics")
	if !strings.Contains(body, `memkeys_commands_total{command="TESTCMD"} 2`) {
		t.Error("commands_total should count both executions")
	}
	if !strings.Contains(body, `memkeys_command_errors_total{command="TESTCMD"} 1`) {
		t.Error("command_errors_total should count the failed execution")
	}
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	SetKeyCounter(func() int64 { return 42 })
	s := NewServer("127.0.0.1:0", hclog.NewNullLogger())

	code, body := scrape(t, s, "/health")
	if code != http.StatusOK || body != "OK" {
		t.Errorf("/health = %d %q", code, body)
	}

	_, body = scrape(t, s, "/metrics")
	if !strings.Contains(body, "memkeys_keys 42") {
		t.Error("/metrics should expose memkeys_keys from the key counter")
	}
}

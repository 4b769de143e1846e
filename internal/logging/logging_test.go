package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
	}{
		{"trace", true},
		{"debug", true},
		{"info", false},
		{"warn", false},
		{"bogus", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(Options{Level: tt.level, Output: &buf})
			l.Debug("debug line")
			if got := strings.Contains(buf.String(), "debug line"); got != tt.wantDebug {
				t.Errorf("debug line written = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Level: "info", JSON: true, Output: &buf}).Named("server").Info("listening", "addr", ":6379")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON: %v: %s", err, buf.String())
	}
	if line["@module"] != "memkeys.server" || line["addr"] != ":6379" {
		t.Errorf("unexpected fields: %v", line)
	}
}

func TestValidLevel(t *testing.T) {
	if !ValidLevel("DEBUG") || ValidLevel("loud") {
		t.Error("ValidLevel should accept hclog level names only")
	}
}

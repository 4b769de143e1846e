package server

import (
	"strings"
	"testing"

	"github.com/mnorrsken/memkeys/internal/resp"
)

func TestFormatRESPValue(t *testing.T) {
	tests := []struct {
		name string
		v    resp.Value
		want string
	}{
		{"command", resp.BulkArr([]string{"SET", "k", "v"}), `["SET", "k", "v"]`},
		{"simple", resp.OK(), "+OK"},
		{"error", resp.Err("syntax error"), "-ERR syntax error"},
		{"integer", resp.Int(42), ":42"},
		{"null bulk", resp.NullBulk(), "(nil)"},
		{"null array", resp.NullArray(), "(nil)"},
		{"binary", resp.Bulk("a\x00b"), "<binary:3B>"},
		{"map", resp.MapVal(resp.Bulk("proto"), resp.Int(3)), `["proto", :3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRESPValue(tt.v); got != tt.want {
				t.Errorf("formatRESPValue() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFormatTraceStringTruncates(t *testing.T) {
	got := formatTraceString(strings.Repeat("x", 2048))
	if !strings.HasSuffix(got, `..." (2.0KB)`) {
		t.Errorf("formatTraceString() = %s", got)
	}
}

func TestFormatTraceSize(t *testing.T) {
	tests := []struct {
		size int
		want string
	}{
		{10, "10B"},
		{1536, "1.5KB"},
		{3 * 1024 * 1024, "3.0MB"},
	}
	for _, tt := range tests {
		if got := formatTraceSize(tt.size); got != tt.want {
			t.Errorf("formatTraceSize(%d) = %s, want %s", tt.size, got, tt.want)
		}
	}
}

func TestIsBinaryString(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"hello world", false},
		{"line\nbreak\ttab", false},
		{"héllo", false},
		{"\xff\xfe", true},
		{"bell\a", true},
	}
	for _, tt := range tests {
		if got := isBinaryString(tt.s); got != tt.want {
			t.Errorf("isBinaryString(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

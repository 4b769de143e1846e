package glob

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		str     string
		want    bool
	}{
		{"*", "", true},
		{"*", "anything", true},
		{"news.*", "news.sport", true},
		{"news.*", "news.", true},
		{"news.*", "weather.sport", false},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h*llo", "heeeello", true},
		{"h[ae]llo", "hallo", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{"h[a-c]llo", "hdllo", false},
		{`h\*llo`, "h*llo", true},
		{`h\*llo`, "hello", false},
		{"*:*:end", "a:b:c:end", true},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"[", "[", true},
		{"user:*", "user:1000", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.str, func(t *testing.T) {
			if got := Match(tt.pattern, tt.str); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.str, got, tt.want)
			}
		})
	}
}

func TestIsPattern(t *testing.T) {
	if IsPattern("plain") {
		t.Error("plain should not be a pattern")
	}
	if !IsPattern("news.*") {
		t.Error("news.* should be a pattern")
	}
}

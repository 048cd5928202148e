package request

import (
	"net/url"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		host     string
		expected string
	}{
		{"www.example.com", "example.com"},
		{"Example.com", "example.com"},
		{"cdn.example.com:8080", "cdn.example.com:8080"},
		{"127.0.0.1:1234", "127.0.0.1:1234"},
	}

	for _, tt := range tests {
		if got := normalizeHost(tt.host); got != tt.expected {
			t.Errorf("normalizeHost(%q) = %q; want %q", tt.host, got, tt.expected)
		}
	}
}

func TestSourceName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://example.com/a/b/song.mp3", "song.mp3"},
		{"https://example.com/a/My%20Song.wav?x=1", "My Song.wav"},
		{"https://example.com/", "download"},
		{"https://example.com", "download"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatal(err)
		}
		if got := sourceName(u); got != tt.want {
			t.Errorf("sourceName(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

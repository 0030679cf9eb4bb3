package middleware

import (
	"context"
	"net/url"
	"testing"
)

func TestRedactSensitiveParams(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no query", "/v1/threads", "/v1/threads"},
		{"benign query", "/v1/threads?limit=5", "/v1/threads?limit=5"},
		{"token redacted", "/v1/files?token=abc123", "/v1/files?token=%5BREDACTED%5D"},
		{"mixed params", "/v1/files?limit=5&api_key=xyz", "/v1/files?api_key=%5BREDACTED%5D&limit=5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.in, err)
			}
			if got := redactSensitiveParams(u); got != tt.want {
				t.Errorf("redactSensitiveParams(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWorkspaceIDAbsent(t *testing.T) {
	if ws := WorkspaceID(context.Background()); ws != "" {
		t.Errorf("WorkspaceID on empty context = %q, want empty", ws)
	}
}

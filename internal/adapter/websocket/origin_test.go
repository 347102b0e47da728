package websocket

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	allowed := []string{"https://flowsync.example.com/app", "http://editor.internal:3000"}

	tests := []struct {
		name          string
		origins       []string
		origin        string
		isDevelopment bool
		want          bool
	}{
		// Always allowed
		{"empty origin", allowed, "", false, true},
		{"configured origin", allowed, "https://flowsync.example.com", false, true},
		{"configured origin with port", allowed, "http://editor.internal:3000", false, true},
		{"case insensitive", allowed, "HTTPS://FlowSync.example.com", false, true},
		{"wildcard", []string{"*"}, "https://anything.example.org", false, true},

		// Rejected in production
		{"different host", allowed, "https://evil.com", false, false},
		{"different port", allowed, "https://flowsync.example.com:9090", false, false},
		{"http instead of https", allowed, "http://flowsync.example.com", false, false},
		{"subdomain", allowed, "https://sub.flowsync.example.com", false, false},
		{"nothing configured", nil, "https://flowsync.example.com", false, false},

		// Localhost: allowed in dev, rejected in prod
		{"localhost dev", allowed, "http://localhost:5173", true, true},
		{"127.0.0.1 dev", allowed, "http://127.0.0.1:3000", true, true},
		{"localhost prod rejected", allowed, "http://localhost:5173", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(tt.origins, tt.isDevelopment)
			r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/ws/u1", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"full URL with path", "https://example.com/editor", "https://example.com"},
		{"URL with port", "https://example.com:8443/path", "https://example.com:8443"},
		{"http URL", "http://localhost:5173/", "http://localhost:5173"},
		{"empty string", "", ""},
		{"no host", "mailto:user@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractOrigin(tt.rawURL))
		})
	}
}

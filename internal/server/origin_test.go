package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		allowEmpty bool
		origin     string
		want       bool
	}{
		{"listed origin", []string{"http://localhost:8080"}, false, "http://localhost:8080", true},
		{"case insensitive", []string{"https://Chat.Example"}, false, "HTTPS://chat.example", true},
		{"unlisted origin", []string{"http://localhost:8080"}, false, "http://evil.example", false},
		{"wildcard", []string{"*"}, false, "http://anything.example", true},
		{"empty origin denied", []string{"*"}, false, "", false},
		{"empty origin allowed", nil, true, "", true},
		{"malformed origin", []string{"http://localhost:8080"}, false, "localhost", false},
		{"invalid config ignored", []string{"not a url", " "}, false, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.origins, tt.allowEmpty)
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.checkOrigin(req))
		})
	}
}

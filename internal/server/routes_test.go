package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no allowlist", allowed: nil, origin: "https://evil.example", want: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://evil.example", want: true},
		{name: "native client", allowed: []string{"https://tandem.example"}, origin: "", want: true},
		{name: "listed", allowed: []string{"https://Tandem.example/"}, origin: "https://tandem.example", want: true},
		{name: "unlisted", allowed: []string{"https://tandem.example"}, origin: "https://evil.example", want: false},
		{name: "scheme matters", allowed: []string{"https://tandem.example"}, origin: "http://tandem.example", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.allowed)(r))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	rr := httptest.NewRecorder()
	healthCheckHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

// internal/client/detect.go
package client

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DefaultServer is the address binserved listens on by default.
const DefaultServer = "http://localhost:3000"

// normalizeServer turns "host:port" into a base URL.
func normalizeServer(server string) string {
	if server == "" {
		server = DefaultServer
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return strings.TrimRight(server, "/")
}

// IsServerRunning checks if binserved answers at server.
func IsServerRunning(ctx context.Context, server string) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalizeServer(server)+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

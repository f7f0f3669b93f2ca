// internal/client/errors.go
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from binserved.
type APIError struct {
	StatusCode int
	Kind       string
	Stage      string
	ExitCode   int
	Message    string
}

func (e *APIError) Error() string {
	prefix := http.StatusText(e.StatusCode)
	switch e.Kind {
	case "invalid_target":
		prefix = "invalid target"
	case "validate", "fetch", "toolchain", "artifact_not_found":
		prefix = "build failed"
	case "timeout":
		prefix = "timed out"
	case "unavailable":
		prefix = "server unavailable"
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s (exit status %d): %s", prefix, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusGatewayTimeout
}

// readAPIError converts an error response into an *APIError.
func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Error    string `json:"error"`
		Kind     string `json:"kind"`
		Stage    string `json:"stage"`
		ExitCode int    `json:"exit_code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Kind = payload.Kind
		apiErr.Stage = payload.Stage
		apiErr.ExitCode = payload.ExitCode
		apiErr.Message = payload.Error
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}

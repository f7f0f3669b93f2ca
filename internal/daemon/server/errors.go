// internal/daemon/server/errors.go
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/altuslabsxyz/binserve/internal/daemon/builder"
)

// StatusClientClosedRequest is logged when the client went away before the
// response was written.
const StatusClientClosedRequest = 499

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Stage    string `json:"stage,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// Error kinds reported in ErrorResponse.Kind.
const (
	KindInvalidTarget    = builder.KindInvalidTarget
	KindValidate         = builder.KindValidate
	KindFetch            = builder.KindFetch
	KindToolchain        = builder.KindToolchain
	KindArtifactNotFound = builder.KindArtifactNotFound
	KindTimeout          = "timeout"
	KindUnavailable      = "unavailable"
	KindCanceled         = "canceled"
	KindBadRequest       = "bad_request"
	KindInternal         = "internal"
)

// HTTPStatus returns the response status and error kind for err.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, builder.ErrClosed):
		return http.StatusServiceUnavailable, KindUnavailable
	case errors.Is(err, builder.ErrInvalidTarget):
		return http.StatusBadRequest, KindInvalidTarget
	// A build that ran out of time also failed its stage; timeout wins.
	case errors.Is(err, builder.ErrTimeout):
		return http.StatusGatewayTimeout, KindTimeout
	case errors.Is(err, builder.ErrValidateFailed):
		return http.StatusBadGateway, KindValidate
	case errors.Is(err, builder.ErrFetchFailed):
		return http.StatusBadGateway, KindFetch
	case errors.Is(err, builder.ErrToolchainFailed):
		return http.StatusBadGateway, KindToolchain
	case errors.Is(err, builder.ErrArtifactNotFound):
		return http.StatusInternalServerError, KindArtifactNotFound
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, KindCanceled
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// toErrorResponse converts err to the response body and status.
func toErrorResponse(err error) (int, ErrorResponse) {
	code, kind := HTTPStatus(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}

	var be *builder.BuildError
	if errors.As(err, &be) {
		resp.Stage = be.Stage
		resp.ExitCode = be.ExitCode
	}
	return code, resp
}

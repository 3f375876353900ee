// Package validate checks the installation's authorization token against
// the platform's validation service before each run.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Code is the validation outcome category.
type Code string

const (
	// CodeOK means the installation is authorized; the run proceeds.
	CodeOK Code = "ok"

	// CodeNewVersion means a newer client version exists. Informational:
	// the run proceeds, the version is surfaced in logs.
	CodeNewVersion Code = "new_version"

	// CodeSelfDestruct is the terminal rejection: the installation must
	// deactivate itself and stop scheduling future runs.
	CodeSelfDestruct Code = "self_destruct"
)

// Result carries the outcome of a validation call.
type Result struct {
	Code    Code
	Version string // set for CodeNewVersion
	Reason  string // set for CodeSelfDestruct
}

// Client is the validation service interface the engine consumes.
//
// A transport failure is returned as an error, distinct from a terminal
// CodeSelfDestruct result: an unreachable validation service aborts the
// run but never deactivates the installation.
type Client interface {
	Validate(ctx context.Context, token, clientVersion string) (Result, error)
}

// Static always returns a fixed result. Used when no validation endpoint
// is configured (self-hosted installations). The zero value passes
// validation.
type Static struct {
	Result Result
}

func (s Static) Validate(context.Context, string, string) (Result, error) {
	return s.Result, nil
}

// HTTPClient validates against the platform's HTTP endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a validation client for the given endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Token         string `json:"token"`
	ClientVersion string `json:"client_version"`
}

type validateResponse struct {
	Code    string `json:"code"`
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Validate posts the token and client version and maps the response to a
// Result.
func (c *HTTPClient) Validate(ctx context.Context, token, clientVersion string) (Result, error) {
	body, err := json.Marshal(validateRequest{Token: token, ClientVersion: clientVersion})
	if err != nil {
		return Result{}, fmt.Errorf("validate: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("validate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("validate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Result{}, fmt.Errorf("validate: unexpected status %d", resp.StatusCode)
	}

	var vr validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return Result{}, fmt.Errorf("validate: decode: %w", err)
	}

	switch Code(vr.Code) {
	case CodeOK:
		return Result{Code: CodeOK}, nil
	case CodeNewVersion:
		return Result{Code: CodeNewVersion, Version: vr.Version}, nil
	case CodeSelfDestruct:
		return Result{Code: CodeSelfDestruct, Reason: vr.Reason}, nil
	default:
		return Result{}, fmt.Errorf("validate: unknown result code %q", vr.Code)
	}
}

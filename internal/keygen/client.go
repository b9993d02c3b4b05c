// Package keygen implements the HTTP client for the upstream licensing
// service. All account-scoped calls carry the server-held bearer token;
// machine listing and deactivation use the per-license key credential the
// way a browser client would.
package keygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"keyportal/internal/config"
	apierrors "keyportal/internal/errors"
)

const (
	acceptJSONAPI = "application/vnd.api+json"
	acceptJSON    = "application/json"
	apiVersion    = "1.2"
)

// Client calls the upstream licensing API for one account
type Client struct {
	baseURL   string
	accountID string
	token     string
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a client from upstream configuration
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		accountID: cfg.AccountID,
		token:     cfg.Token,
		timeout:   cfg.RequestTimeout,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		logger:    logger.With(slog.String("component", "keygen_client")),
	}
}

func (c *Client) accountURL(path string) string {
	return fmt.Sprintf("%s/v1/accounts/%s%s", c.baseURL, c.accountID, path)
}

// StatusError reports an upstream response with an unexpected HTTP status
// and no parseable errors body.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

// ListLicensesByUser fetches one page of the licenses owned by email.
// Page numbers start at 1; an empty Data slice marks the end of the
// collection.
func (c *Client) ListLicensesByUser(ctx context.Context, email string, page, pageSize int) ([]License, []apierrors.APIError, error) {
	q := url.Values{}
	q.Set("page[size]", strconv.Itoa(pageSize))
	q.Set("page[number]", strconv.Itoa(page))
	q.Set("user", email)

	var out listLicensesResponse
	status, err := c.get(ctx, "/licenses?"+q.Encode(), "Bearer "+c.token, acceptJSONAPI, &out)
	if err != nil {
		return nil, nil, err
	}
	if len(out.Errors) > 0 {
		return nil, toAPIErrors(out.Errors), nil
	}
	if status != http.StatusOK {
		return nil, nil, &StatusError{Method: http.MethodGet, Path: "/licenses", StatusCode: status}
	}

	licenses := make([]License, 0, len(out.Data))
	for _, res := range out.Data {
		licenses = append(licenses, res.toLicense())
	}
	return licenses, nil, nil
}

// ListMachinesByKey fetches the machines activated under a license key,
// using the account bearer token.
func (c *Client) ListMachinesByKey(ctx context.Context, key string) ([]Machine, []apierrors.APIError, error) {
	q := url.Values{}
	q.Set("key", key)

	var out listMachinesResponse
	status, err := c.get(ctx, "/machines?"+q.Encode(), "Bearer "+c.token, acceptJSONAPI, &out)
	if err != nil {
		return nil, nil, err
	}
	if len(out.Errors) > 0 {
		return nil, toAPIErrors(out.Errors), nil
	}
	if status != http.StatusOK {
		return nil, nil, &StatusError{Method: http.MethodGet, Path: "/machines", StatusCode: status}
	}

	return toMachines(out.Data), nil, nil
}

// ValidateKey runs the upstream validate-key action with the given
// fingerprint scope. An empty fingerprint sends an empty scope, which the
// upstream reports as FINGERPRINT_SCOPE_REQUIRED for fingerprint-bound
// policies.
func (c *Client) ValidateKey(ctx context.Context, key, fingerprint string) (*ValidationResult, *License, []apierrors.APIError, error) {
	body, err := json.Marshal(validateKeyRequest{
		Meta: validateKeyMeta{
			Scope: fingerprintScope{Fingerprint: fingerprint},
			Key:   key,
		},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal validate-key request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountURL("/licenses/actions/validate-key"), bytes.NewReader(body))
	if err != nil {
		return nil, nil, nil, err
	}
	req.Header.Set("Content-Type", acceptJSON)
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("Keygen-Version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("validate-key request failed: %w", err)
	}
	defer resp.Body.Close()

	var out validateKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to decode validate-key response: %w", err)
	}

	if len(out.Errors) > 0 {
		return nil, nil, toAPIErrors(out.Errors), nil
	}
	if out.Meta == nil {
		return nil, nil, nil, &StatusError{Method: http.MethodPost, Path: "/licenses/actions/validate-key", StatusCode: resp.StatusCode}
	}

	validation := &ValidationResult{Valid: out.Meta.Valid, Code: out.Meta.Code}

	var license *License
	if out.Data != nil {
		l := out.Data.toLicense()
		license = &l
	}

	c.logger.DebugContext(ctx, "validate-key completed",
		slog.Bool("valid", validation.Valid),
		slog.String("code", validation.Code))

	return validation, license, nil, nil
}

// ListMachinesForLicense lists machines with the per-license key credential
func (c *Client) ListMachinesForLicense(ctx context.Context, licenseKey string) ([]Machine, []apierrors.APIError, error) {
	var out listMachinesResponse
	status, err := c.get(ctx, "/machines", "License "+licenseKey, acceptJSON, &out)
	if err != nil {
		return nil, nil, err
	}
	if len(out.Errors) > 0 {
		return nil, toAPIErrors(out.Errors), nil
	}
	if status != http.StatusOK {
		return nil, nil, &StatusError{Method: http.MethodGet, Path: "/machines", StatusCode: status}
	}

	return toMachines(out.Data), nil, nil
}

// DeactivateMachine deletes a machine activation with the per-license key
// credential. Upstream answers 204 on success.
func (c *Client) DeactivateMachine(ctx context.Context, licenseKey, machineID string) ([]apierrors.APIError, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.accountURL("/machines/"+url.PathEscape(machineID)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "License "+licenseKey)
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("Keygen-Version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deactivate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var out struct {
		Errors []wireError `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || len(out.Errors) == 0 {
		return nil, &StatusError{Method: http.MethodDelete, Path: "/machines/" + machineID, StatusCode: resp.StatusCode}
	}
	return toAPIErrors(out.Errors), nil
}

// get performs an authorized GET and decodes the body into out. It returns
// the HTTP status; callers decide which statuses are acceptable after
// checking for an upstream errors body.
func (c *Client) get(ctx context.Context, path, authorization, accept string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL(path), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode upstream response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func toMachines(resources []machineResource) []Machine {
	machines := make([]Machine, 0, len(resources))
	for _, res := range resources {
		machines = append(machines, res.toMachine())
	}
	return machines
}

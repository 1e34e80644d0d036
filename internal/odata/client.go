// Package odata is the remote HTTP client for the FileMaker OData v4
// endpoint: GET/POST/PATCH/DELETE with error classification and retry.
package odata

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nietsneuah/fmquery/internal/shaper"
)

// TenantConfig is the connection configuration for one tenant (spec §3
// Tenant entity).
type TenantConfig struct {
	Host       string
	Database   string
	Username   string
	Password   string
	VerifySSL  bool
	Timeout    time.Duration
}

// RetryConfig tunes the exponential backoff applied to retryable errors.
type RetryConfig struct {
	BaseDelay  time.Duration
	MaxRetries int
}

// DefaultRetryConfig matches spec §4.2 defaults: one second base delay,
// doubling per attempt, three retries maximum.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{BaseDelay: time.Second, MaxRetries: 3}
}

const metadataTimeout = 120 * time.Second

// Client is a Basic-auth HTTP client for one tenant's OData endpoint.
// Stateless beyond the underlying *http.Client — no session management.
type Client struct {
	baseURL string
	auth    [2]string
	http    *http.Client
	retry   RetryConfig
	timeout time.Duration
}

// NewClient builds a client for the given tenant, matching the base URL
// shape the Python original used: https://<host>/fmi/odata/v4/<database>.
func NewClient(tenant TenantConfig, retry RetryConfig) *Client {
	transport := &http.Transport{}
	if !tenant.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator-opted-in per tenant config
	}
	return &Client{
		baseURL: fmt.Sprintf("https://%s/fmi/odata/v4/%s", tenant.Host, tenant.Database),
		auth:    [2]string{tenant.Username, tenant.Password},
		http: &http.Client{
			Timeout:   tenant.Timeout,
			Transport: transport,
		},
		retry:   retry,
		timeout: tenant.Timeout,
	}
}

// NewClientAt builds a client against an explicit base URL with an
// explicit *http.Client, bypassing the https://<host>/fmi/odata/v4/<db>
// composition NewClient performs. Used for testing against httptest
// servers and for non-standard endpoint wiring.
func NewClientAt(baseURL, username, password string, httpClient *http.Client, retry RetryConfig) *Client {
	return &Client{baseURL: baseURL, auth: [2]string{username, password}, http: httpClient, retry: retry}
}

// GetJSON issues a GET against path with the given OData query parameters
// and decodes the JSON response body.
func (c *Client) GetJSON(ctx context.Context, path string, params map[string]string, order []string) (map[string]any, error) {
	url := c.baseURL + "/" + path
	if qs := shaper.EncodeQueryParams(params, order); qs != "" {
		url += "?" + qs
	}

	var result map[string]any
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.auth[0], c.auth[1])
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return classifyTransportError(err, path)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return classifyStatusError(resp, path, "table name")
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	return result, err
}

// GetMetadataXML fetches the $metadata document as raw XML, using an
// extended timeout and an explicit Accept header — the server returns
// CSDL-as-JSON unless XML is requested (spec §4.2/§6).
func (c *Client) GetMetadataXML(ctx context.Context) (string, error) {
	url := c.baseURL + "/$metadata"

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	var body string
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.auth[0], c.auth[1])
		req.Header.Set("Accept", "application/xml")
		hc := c.http
		if hc.Timeout != 0 && hc.Timeout < metadataTimeout {
			extended := *hc
			extended.Timeout = metadataTimeout
			hc = &extended
		}
		resp, err := hc.Do(req)
		if err != nil {
			return classifyTransportError(err, "$metadata")
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return classifyStatusError(resp, "$metadata", "table name")
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = string(raw)
		return nil
	})
	return body, err
}

// PostJSON issues a POST with a JSON body — used for server-side script
// invocation (Script.<name>) and for creating context-table entries.
func (c *Client) PostJSON(ctx context.Context, path string, jsonBody map[string]any) (map[string]any, error) {
	var result map[string]any
	err := c.doWithRetry(ctx, func() error {
		buf, err := json.Marshal(jsonBody)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.auth[0], c.auth[1])
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return classifyTransportError(err, path)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return classifyStatusError(resp, path, "record key")
		}
		if resp.StatusCode == http.StatusNoContent {
			result = map[string]any{}
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	return result, err
}

// PatchJSON updates an existing record by key-predicate path, e.g.
// ContextTable('123'). Used for the operational-context CRUD surface.
func (c *Client) PatchJSON(ctx context.Context, path string, jsonBody map[string]any) (map[string]any, error) {
	var result map[string]any
	err := c.doWithRetry(ctx, func() error {
		buf, err := json.Marshal(jsonBody)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/"+path, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.auth[0], c.auth[1])
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return classifyTransportError(err, path)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return classifyStatusError(resp, path, "record key")
		}
		if resp.StatusCode == http.StatusNoContent {
			result = map[string]any{}
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	return result, err
}

// Delete removes a record by key-predicate path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/"+path, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.auth[0], c.auth[1])
		resp, err := c.http.Do(req)
		if err != nil {
			return classifyTransportError(err, path)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return classifyStatusError(resp, path, "record key")
		}
		return nil
	})
}

// doWithRetry runs op, retrying with exponential backoff while the
// returned error is a retryable *Error (connection failures only).
func (c *Client) doWithRetry(ctx context.Context, op func() error) error {
	delay := c.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		var oErr *Error
		if oe, ok := lastErr.(*Error); ok {
			oErr = oe
		}
		if oErr == nil || !oErr.Retryable() || attempt == c.retry.MaxRetries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func classifyTransportError(err error, path string) *Error {
	return &Error{Kind: KindConnection, Path: path, Message: err.Error(), Err: err}
}

func classifyStatusError(resp *http.Response, path, notFoundHint string) *Error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &Error{Kind: KindAuthentication, Path: path, StatusCode: resp.StatusCode,
			Message: "check credentials and extended privileges (fmodata)"}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Path: path, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("verify the %s and that it's exposed via OData", notFoundHint)}
	default:
		body, _ := io.ReadAll(resp.Body)
		msg := extractErrorMessage(body)
		return &Error{Kind: KindRequest, Path: path, StatusCode: resp.StatusCode, Message: msg}
	}
}

// extractErrorMessage pulls {"error":{"message":...}} from a FM error
// body if present, otherwise returns the first 500 characters of raw
// body text (spec §4.2).
func extractErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	text := string(body)
	if len(text) > 500 {
		text = text[:500]
	}
	return text
}

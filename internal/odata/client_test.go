package odata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testTenant(t *testing.T, srv *httptest.Server) TenantConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return TenantConfig{
		Host:      u.Host,
		Database:  "TestDB",
		Username:  "user",
		Password:  "pass",
		VerifySSL: false,
		Timeout:   5 * time.Second,
	}
}

// newClientForHTTP builds a Client whose base URL points at an http://
// test server (NewClient always composes https://, so we override it
// directly — this keeps the production constructor honest about always
// using TLS against a real FileMaker Server).
func newClientForHTTP(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient(testTenant(t, srv), RetryConfig{BaseDelay: time.Millisecond, MaxRetries: 2})
	c.baseURL = srv.URL
	c.http = srv.Client()
	return c
}

func TestGetJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept header = %q", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			t.Errorf("basic auth missing or wrong: %v %v %v", user, pass, ok)
		}
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}, "@count": 0})
	}))
	defer srv.Close()

	c := newClientForHTTP(t, srv)
	result, err := c.GetJSON(context.Background(), "Location", map[string]string{"$top": "1"}, []string{"$top"})
	if err != nil {
		t.Fatalf("GetJSON error: %v", err)
	}
	if _, ok := result["value"]; !ok {
		t.Errorf("result missing value key: %v", result)
	}
}

func TestGetJSONUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClientForHTTP(t, srv)
	_, err := c.GetJSON(context.Background(), "Location", nil, nil)
	var oErr *Error
	if err == nil {
		t.Fatal("expected error")
	}
	if oe, ok := err.(*Error); ok {
		oErr = oe
	}
	if oErr == nil || oErr.Kind != KindAuthentication {
		t.Errorf("expected authentication error, got %v", err)
	}
	if oErr.Retryable() {
		t.Errorf("authentication error should not be retryable")
	}
}

func TestGetJSONNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClientForHTTP(t, srv)
	_, err := c.GetJSON(context.Background(), "Unknown", nil, nil)
	oErr, ok := err.(*Error)
	if !ok || oErr.Kind != KindNotFound {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestGetJSONExtractsServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad filter syntax"}})
	}))
	defer srv.Close()

	c := newClientForHTTP(t, srv)
	_, err := c.GetJSON(context.Background(), "Location", nil, nil)
	oErr, ok := err.(*Error)
	if !ok || oErr.Message != "bad filter syntax" {
		t.Errorf("expected extracted message, got %v", err)
	}
}

func TestRetriesOnConnectionFailureThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	c := newClientForHTTP(t, srv)
	// Point at a dead port first to force a connection error, then swap the
	// transport mid-test is awkward; instead verify retry count semantics
	// directly via doWithRetry with an injected failing op.
	attempts := 0
	err := c.doWithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &Error{Kind: KindConnection, Message: "refused"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	_ = calls
}

func TestDoesNotRetryNonRetryableError(t *testing.T) {
	c := newClientForHTTP(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	attempts := 0
	err := c.doWithRetry(context.Background(), func() error {
		attempts++
		return &Error{Kind: KindAuthentication, Message: "nope"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for auth errors)", attempts)
	}
}

func TestGetMetadataXMLRequestsXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/xml" {
			t.Errorf("Accept header = %q, want application/xml", got)
		}
		w.Write([]byte("<edmx:Edmx></edmx:Edmx>"))
	}))
	defer srv.Close()

	c := newClientForHTTP(t, srv)
	body, err := c.GetMetadataXML(context.Background())
	if err != nil {
		t.Fatalf("GetMetadataXML error: %v", err)
	}
	if !strings.Contains(body, "Edmx") {
		t.Errorf("body = %q", body)
	}
}

func TestCountStyleRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		top := r.URL.Query().Get("$top")
		if top != "1" {
			t.Errorf("$top = %q, want 1", top)
		}
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}, "@count": 42})
	}))
	defer srv.Close()

	c := newClientForHTTP(t, srv)
	result, err := c.GetJSON(context.Background(), "Location",
		map[string]string{"$top": "1", "$count": "true", "$select": `"PK"`},
		[]string{"$top", "$count", "$select"})
	if err != nil {
		t.Fatalf("GetJSON error: %v", err)
	}
	count, _ := result["@count"].(float64)
	if int(count) != 42 {
		t.Errorf("@count = %v, want 42", result["@count"])
	}
}

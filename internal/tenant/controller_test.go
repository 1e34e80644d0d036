package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/odata"
	"github.com/nietsneuah/fmquery/internal/store"
)

type stubProvider struct {
	tenants map[string]odata.TenantConfig
	def     string
}

func (s *stubProvider) TenantNames() []string {
	names := make([]string, 0, len(s.tenants))
	for n := range s.tenants {
		names = append(names, n)
	}
	return names
}

func (s *stubProvider) Credentials(name string) (odata.TenantConfig, error) {
	cfg, ok := s.tenants[name]
	if !ok {
		return odata.TenantConfig{}, errNotFound(name)
	}
	return cfg, nil
}

func (s *stubProvider) DefaultTenant() string { return s.def }

type errNotFound string

func (e errNotFound) Error() string { return "tenant not found: " + string(e) }

func newTestController(t *testing.T) *Controller {
	t.Helper()
	s, err := store.Open("", nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewController(s, cache.New(), odata.RetryConfig{BaseDelay: time.Millisecond, MaxRetries: 1})
}

func testProvider() *stubProvider {
	return &stubProvider{
		def: "acme",
		tenants: map[string]odata.TenantConfig{
			"acme": {Host: "acme.example.com", Database: "AcmeDB", Username: "u", Password: "p", Timeout: time.Second},
			"beta": {Host: "beta.example.com", Database: "BetaDB", Username: "u", Password: "p", Timeout: time.Second},
		},
	}
}

func TestInitActivatesDefaultTenant(t *testing.T) {
	c := newTestController(t)
	name, err := c.Init(testProvider())
	if err != nil {
		t.Fatal(err)
	}
	if name != "acme" || c.ActiveName() != "acme" {
		t.Errorf("expected acme active, got %q", name)
	}
	if c.ActiveClient() == nil {
		t.Error("expected a client built for the default tenant")
	}
}

func TestUseTenantSwitchesAndBootstraps(t *testing.T) {
	c := newTestController(t)
	if _, err := c.Init(testProvider()); err != nil {
		t.Fatal(err)
	}

	var bootstrapped string
	msg, err := c.UseTenant(context.Background(), "BETA", func(ctx context.Context, client *odata.Client) error {
		bootstrapped = "beta"
		return nil
	})
	if err != nil {
		t.Fatalf("UseTenant error: %v", err)
	}
	if c.ActiveName() != "beta" || bootstrapped != "beta" {
		t.Errorf("expected switch + bootstrap to beta, got active=%q bootstrapped=%q", c.ActiveName(), bootstrapped)
	}
	if msg == "" {
		t.Error("expected a status message")
	}
}

func TestUseTenantNoopWhenAlreadyActive(t *testing.T) {
	c := newTestController(t)
	if _, err := c.Init(testProvider()); err != nil {
		t.Fatal(err)
	}
	calls := 0
	_, err := c.UseTenant(context.Background(), "acme", func(ctx context.Context, client *odata.Client) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("expected no bootstrap call for a no-op switch, got %d", calls)
	}
}

func TestUseTenantUnknownName(t *testing.T) {
	c := newTestController(t)
	if _, err := c.Init(testProvider()); err != nil {
		t.Fatal(err)
	}
	_, err := c.UseTenant(context.Background(), "nope", func(ctx context.Context, client *odata.Client) error { return nil })
	if err == nil {
		t.Fatal("expected error for unknown tenant")
	}
}

func TestUseTenantBootstrapFailureIsReported(t *testing.T) {
	c := newTestController(t)
	if _, err := c.Init(testProvider()); err != nil {
		t.Fatal(err)
	}
	_, err := c.UseTenant(context.Background(), "beta", func(ctx context.Context, client *odata.Client) error {
		return errNotFound("boom")
	})
	if err == nil {
		t.Fatal("expected bootstrap failure to propagate")
	}
}

func TestListTenantsMarksActive(t *testing.T) {
	c := newTestController(t)
	if _, err := c.Init(testProvider()); err != nil {
		t.Fatal(err)
	}
	out := c.ListTenants()
	if out == "" {
		t.Fatal("expected non-empty tenant listing")
	}
}

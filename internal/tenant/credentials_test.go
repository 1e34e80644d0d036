package tenant

import "testing"

func TestDiscoverTenantsMultiTenant(t *testing.T) {
	tenants := discoverTenants([]string{
		"ACME_FM_HOST=acme.example.com",
		"ACME_FM_DATABASE=AcmeDB",
		"ACME_FM_USERNAME=svc",
		"ACME_FM_PASSWORD=secret",
		"BETA_FM_HOST=beta.example.com",
		"BETA_FM_DATABASE=BetaDB",
	})
	if len(tenants) != 2 {
		t.Fatalf("expected 2 tenants, got %+v", tenants)
	}
	acme := tenants["acme"]
	if acme.Host != "acme.example.com" || acme.Database != "AcmeDB" || acme.Username != "svc" {
		t.Errorf("unexpected acme config: %+v", acme)
	}
	beta := tenants["beta"]
	if beta.Username != "mcp_agent" {
		t.Errorf("expected default username fallback, got %q", beta.Username)
	}
}

func TestDiscoverTenantsSingleTenantFallback(t *testing.T) {
	tenants := discoverTenants([]string{
		"FM_HOST=solo.example.com",
		"FM_DATABASE=SoloDB",
	})
	if len(tenants) != 1 {
		t.Fatalf("expected 1 tenant, got %+v", tenants)
	}
	if _, ok := tenants["default"]; !ok {
		t.Errorf("expected tenant named 'default', got %+v", tenants)
	}
}

func TestDiscoverTenantsPrefixedHostWinsOverBareHost(t *testing.T) {
	tenants := discoverTenants([]string{
		"ACME_FM_HOST=acme.example.com",
		"FM_HOST=ignored.example.com",
	})
	if len(tenants) != 1 {
		t.Fatalf("expected only the prefixed tenant, got %+v", tenants)
	}
	if _, ok := tenants["acme"]; !ok {
		t.Errorf("expected tenant 'acme', got %+v", tenants)
	}
}

func TestEnvCredentialProviderDefaultTenantFallsBackToFirstAlphabetical(t *testing.T) {
	p := &EnvCredentialProvider{tenants: discoverTenants([]string{
		"ZETA_FM_HOST=zeta.example.com",
		"ALPHA_FM_HOST=alpha.example.com",
	})}
	if got := p.DefaultTenant(); got != "alpha" {
		t.Errorf("DefaultTenant() = %q, want alpha", got)
	}
}

func TestEnvCredentialProviderDefaultTenantPrefersNamedDefault(t *testing.T) {
	p := &EnvCredentialProvider{tenants: discoverTenants([]string{
		"FM_HOST=solo.example.com",
	})}
	if got := p.DefaultTenant(); got != "default" {
		t.Errorf("DefaultTenant() = %q, want default", got)
	}
}

func TestEnvCredentialProviderCredentialsUnknownTenant(t *testing.T) {
	p := &EnvCredentialProvider{tenants: discoverTenants([]string{"ACME_FM_HOST=acme.example.com"})}
	if _, err := p.Credentials("nope"); err == nil {
		t.Fatal("expected error for unknown tenant")
	}
}

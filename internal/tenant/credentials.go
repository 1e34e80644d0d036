// Package tenant implements the tenant controller (spec §4.8): named
// tenant configurations, the active-tenant switch, and the default
// environment-variable credential source.
package tenant

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nietsneuah/fmquery/internal/odata"
)

// CredentialProvider sources tenant connection credentials from wherever
// the deployment keeps them — environment variables, a secrets manager,
// a database. Mirrors the source's `CredentialProvider` protocol (spec
// §2.3 supplement).
type CredentialProvider interface {
	TenantNames() []string
	Credentials(name string) (odata.TenantConfig, error)
	DefaultTenant() string
}

const defaultTimeout = 60 * time.Second

// EnvCredentialProvider discovers tenants from environment variables:
// "{PREFIX}_FM_HOST" keys define multi-tenant configurations (prefix
// lower-cased becomes the tenant name); a bare "FM_HOST" defines a single
// tenant named "default" when no prefixed host is found (spec §2.3
// supplement, grounded on `credential_provider.py`'s EnvCredentialProvider).
type EnvCredentialProvider struct {
	tenants map[string]odata.TenantConfig
}

// NewEnvCredentialProvider scans the process environment for tenant
// configurations.
func NewEnvCredentialProvider() *EnvCredentialProvider {
	p := &EnvCredentialProvider{tenants: discoverTenants(os.Environ())}
	return p
}

func discoverTenants(environ []string) map[string]odata.TenantConfig {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	tenants := make(map[string]odata.TenantConfig)
	for key, value := range env {
		if key == "FM_HOST" || !strings.HasSuffix(key, "_FM_HOST") {
			continue
		}
		prefix := strings.TrimSuffix(key, "_FM_HOST")
		name := strings.ToLower(prefix)
		tenants[name] = buildTenantConfig(env, prefix, value)
	}

	if len(tenants) == 0 {
		if host, ok := env["FM_HOST"]; ok && host != "" {
			tenants["default"] = buildTenantConfig(env, "", host)
		}
	}
	return tenants
}

func buildTenantConfig(env map[string]string, prefix, host string) odata.TenantConfig {
	key := func(suffix string) string {
		if prefix == "" {
			return "FM_" + suffix
		}
		return prefix + "_FM_" + suffix
	}
	username := env[key("USERNAME")]
	if username == "" {
		username = "mcp_agent"
	}
	verifySSL := true
	if v, ok := env[key("VERIFY_SSL")]; ok {
		verifySSL = strings.EqualFold(v, "true")
	}
	timeout := defaultTimeout
	if v, ok := env[key("TIMEOUT")]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			timeout = time.Duration(secs) * time.Second
		}
	}
	return odata.TenantConfig{
		Host:      host,
		Database:  env[key("DATABASE")],
		Username:  username,
		Password:  env[key("PASSWORD")],
		VerifySSL: verifySSL,
		Timeout:   timeout,
	}
}

// TenantNames returns every discovered tenant name, sorted.
func (p *EnvCredentialProvider) TenantNames() []string {
	names := make([]string, 0, len(p.tenants))
	for name := range p.tenants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Credentials returns the tenant config for name.
func (p *EnvCredentialProvider) Credentials(name string) (odata.TenantConfig, error) {
	cfg, ok := p.tenants[name]
	if !ok {
		return odata.TenantConfig{}, fmt.Errorf("tenant %q not found; available: %s", name, strings.Join(p.TenantNames(), ", "))
	}
	return cfg, nil
}

// DefaultTenant resolves the default tenant name: FM_DEFAULT_TENANT if set
// and known, else "default" if present, else the first tenant name
// alphabetically, else empty.
func (p *EnvCredentialProvider) DefaultTenant() string {
	if d := strings.ToLower(os.Getenv("FM_DEFAULT_TENANT")); d != "" {
		if _, ok := p.tenants[d]; ok {
			return d
		}
	}
	if _, ok := p.tenants["default"]; ok {
		return "default"
	}
	names := p.TenantNames()
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

package tenant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nietsneuah/fmquery/internal/cache"
	"github.com/nietsneuah/fmquery/internal/odata"
	"github.com/nietsneuah/fmquery/internal/store"
)

// Controller holds the active tenant and performs the tenant-switch
// sequence (spec §4.8). It owns neither bootstrap logic nor the query
// engine — the caller supplies a bootstrap callback to UseTenant so this
// package stays decoupled from the rest of the wiring.
type Controller struct {
	mu       sync.RWMutex
	provider CredentialProvider
	tenants  map[string]odata.TenantConfig
	active   string
	client   *odata.Client

	store *store.Store
	cache *cache.Cache
	retry odata.RetryConfig
}

// NewController wires a tenant controller over the schema store and table
// cache it clears on every switch.
func NewController(s *store.Store, c *cache.Cache, retry odata.RetryConfig) *Controller {
	return &Controller{store: s, cache: c, retry: retry}
}

// Init loads tenant configs from provider and activates the default
// tenant's client without running bootstrap (the caller runs bootstrap
// separately after Init, mirroring `init_tenants` + the server startup
// sequence in the source).
func (c *Controller) Init(provider CredentialProvider) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.provider = provider
	tenants := make(map[string]odata.TenantConfig)
	for _, name := range provider.TenantNames() {
		cfg, err := provider.Credentials(name)
		if err != nil {
			return "", err
		}
		tenants[name] = cfg
	}
	c.tenants = tenants

	defaultName := provider.DefaultTenant()
	c.active = defaultName
	if defaultName != "" {
		c.client = odata.NewClient(tenants[defaultName], c.retry)
	}
	return defaultName, nil
}

// SetRetryConfig replaces the retry policy applied to every client built
// by future UseTenant/Init calls (reapplied by the engine's tuning-file
// watch, Engine.WatchConfigFile).
func (c *Controller) SetRetryConfig(retry odata.RetryConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = retry
}

// ActiveClient returns the client for the currently active tenant, or nil
// if no tenant has been activated.
func (c *Controller) ActiveClient() *odata.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// ActiveName returns the currently active tenant's name.
func (c *Controller) ActiveName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// UseTenant switches to a different tenant by name (case-insensitive),
// performing, in order: clear schema store, clear exposed-table set
// (both via store.Clear), clear table cache, rebuild the HTTP client,
// record the new active tenant, then run bootstrap (spec §4.8). No-op if
// name is already active. Unknown name lists available tenants.
func (c *Controller) UseTenant(ctx context.Context, name string, bootstrap func(ctx context.Context, client *odata.Client) error) (string, error) {
	name = strings.ToLower(name)

	c.mu.Lock()
	cfg, known := c.tenants[name]
	if !known {
		available := c.tenantNamesLocked()
		c.mu.Unlock()
		return "", fmt.Errorf("unknown tenant %q. Available: %s", name, strings.Join(available, ", "))
	}
	if name == c.active {
		active := cfg
		c.mu.Unlock()
		return fmt.Sprintf("Already connected to %q (%s/%s).", name, active.Host, active.Database), nil
	}
	c.mu.Unlock()

	// 1-3: clear schema store (tables, context, exposed set) and table cache.
	c.store.Clear()
	c.cache.FlushAll()

	// 4: rebuild the HTTP client with new credentials.
	client := odata.NewClient(cfg, c.retry)

	c.mu.Lock()
	c.client = client
	c.active = name
	c.mu.Unlock()

	// 5: bootstrap the new tenant.
	if err := bootstrap(ctx, client); err != nil {
		return "", fmt.Errorf("switched to %q but bootstrap failed: %w", name, err)
	}

	return fmt.Sprintf("Switched to %q.\n  Host: %s\n  Database: %s\n  Tables discovered: %d",
		name, cfg.Host, cfg.Database, len(c.store.TableNames())), nil
}

func (c *Controller) tenantNamesLocked() []string {
	names := make([]string, 0, len(c.tenants))
	for n := range c.tenants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListTenants renders every configured tenant, marking the active one
// (spec §4.8 "list_tenants").
func (c *Controller) ListTenants() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.tenants) == 0 {
		return "No tenants configured. Set *_FM_HOST env vars, or FM_HOST for a single tenant."
	}
	names := c.tenantNamesLocked()

	var b strings.Builder
	b.WriteString("Configured tenants:\n\n")
	for _, name := range names {
		t := c.tenants[name]
		marker := ""
		if name == c.active {
			marker = " (active)"
		}
		fmt.Fprintf(&b, "  %s%s — %s/%s\n", name, marker, t.Host, t.Database)
	}
	return strings.TrimRight(b.String(), "\n")
}

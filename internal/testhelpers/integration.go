//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/zappai-client/internal/client"
	"github.com/kjstillabower/zappai-client/internal/observability"
	"github.com/kjstillabower/zappai-client/internal/session"
	"github.com/kjstillabower/zappai-client/internal/tokenstore"
)

// IntegrationTestConfig holds configuration for tests against a live ZappAI backend.
type IntegrationTestConfig struct {
	APIURL        string
	Username      string
	Password      string
	TokenBackend  string // "memory" (default) or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if ZAPPAI_TEST_USER or ZAPPAI_TEST_PASSWORD is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	user := os.Getenv("ZAPPAI_TEST_USER")
	pass := os.Getenv("ZAPPAI_TEST_PASSWORD")
	if user == "" || pass == "" {
		t.Skip("ZAPPAI_TEST_USER/ZAPPAI_TEST_PASSWORD not set, skipping integration test")
	}

	apiURL := os.Getenv("ZAPPAI_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8000"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIURL:        apiURL,
		Username:      user,
		Password:      pass,
		TokenBackend:  os.Getenv("INTEGRATION_TOKEN_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationStore returns the token store named by cfg and a cleanup func.
// Falls back to memory when memcached is unreachable.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) (tokenstore.Store, func()) {
	if cfg.TokenBackend == "memcached" {
		mc, err := tokenstore.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, "zappaiIntegrationToken")
		if err == nil {
			err = mc.Ping()
		}
		if err == nil {
			t.Logf("Using memcached token store at %s", cfg.MemcachedAddr)
			return mc, func() {
				_ = mc.Clear(context.Background())
				_ = mc.Close()
			}
		}
		t.Logf("memcached not available (%v), using memory token store", err)
	}
	return tokenstore.NewMemoryStore(), func() {}
}

// SetupIntegrationClient creates a client, a session manager wired to its
// auth-invalid hook, and logs in. Returns the client, manager and cleanup func.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) (*client.Client, *session.Manager, func()) {
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	store, cleanup := SetupIntegrationStore(t, cfg)

	c, err := client.New(client.Options{
		BaseURL:       cfg.APIURL,
		Timeout:       10 * time.Second,
		RetryAttempts: 2,
		Logger:        logger,
	}, store)
	if err != nil {
		cleanup()
		t.Fatalf("client.New() error = %v", err)
	}
	mgr := session.NewManager(c, store, session.NewState(logger), logger)
	c.SetAuthInvalidHook(mgr.HandleAuthInvalid)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := mgr.Login(ctx, cfg.Username, cfg.Password); err != nil {
		cleanup()
		t.Fatalf("Login() error = %v", err)
	}
	return c, mgr, func() {
		_ = mgr.Logout(context.Background())
		cleanup()
	}
}

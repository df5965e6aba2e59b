package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadEnvOverridesAndDefaults(t *testing.T) {
	t.Setenv("STOREFRONT_BASE_URL", "https://shop.example.com/api")
	t.Setenv("STOREFRONT_PAGE_SIZE", "24")
	t.Setenv("STOREFRONT_CART_ITEM_PATH", "/cart/items/%s")

	cfgPath := writeConfig(t, `
baseURL: "http://localhost:8080"
logLevel: "debug"
pageSize: 12
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BaseURL != "https://shop.example.com/api" {
		t.Fatalf("baseURL = %q, want env override", cfg.BaseURL)
	}
	if cfg.PageSize != 24 {
		t.Fatalf("pageSize = %d, want 24", cfg.PageSize)
	}
	if cfg.CartItemPath != "/cart/items/%s" {
		t.Fatalf("cartItemPath = %q", cfg.CartItemPath)
	}
	if cfg.WSPath != "/ws" {
		t.Fatalf("wsPath default = %q, want /ws", cfg.WSPath)
	}
	if cfg.SessionFile != "session.json" {
		t.Fatalf("sessionFile default = %q", cfg.SessionFile)
	}
}

func TestLoadRejectsMissingBaseURL(t *testing.T) {
	cfgPath := writeConfig(t, `logLevel: "info"`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for missing baseURL")
	}
}

func TestLoadRejectsBadCartItemPath(t *testing.T) {
	cfgPath := writeConfig(t, `
baseURL: "http://localhost:8080"
cartItemPath: "/cart/items"
`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for cartItemPath without placeholder")
	}
}

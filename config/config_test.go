package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultProvidesVenueSettings(t *testing.T) {
	cfg := Default()
	if cfg.Environment != EnvProd {
		t.Fatalf("expected default environment prod, got %s", cfg.Environment)
	}
	if cfg.Venue.RESTBaseURL == "" || cfg.Venue.StreamURL == "" {
		t.Fatalf("expected default REST and stream URLs")
	}
	if cfg.Venue.MarketPageSize != 2000 {
		t.Fatalf("expected default page size 2000, got %d", cfg.Venue.MarketPageSize)
	}
	if cfg.Venue.RESTBurst != 1 || cfg.Venue.RESTInterval != time.Second {
		t.Fatalf("expected 1 REST call per second, got %d per %s", cfg.Venue.RESTBurst, cfg.Venue.RESTInterval)
	}
	if cfg.Venue.SubscribeBurst != 2 || cfg.Venue.SubscribeInterval != time.Minute {
		t.Fatalf("expected 2 subscribes per minute, got %d per %s", cfg.Venue.SubscribeBurst, cfg.Venue.SubscribeInterval)
	}
	if cfg.Bookmaker.ID != 1 || cfg.Bookmaker.Name != "Monaco" || cfg.Bookmaker.Decimals != 3 {
		t.Fatalf("unexpected bookmaker defaults: %+v", cfg.Bookmaker)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default settings should validate: %v", err)
	}
}

func TestFromEnvOverridesValues(t *testing.T) {
	t.Setenv("ODDSTREAM_ENV", "STAGING")
	t.Setenv("MONACO_REST_BASE_URL", "https://rest.test")
	t.Setenv("MONACO_STREAM_URL", "wss://stream.test")
	t.Setenv("MONACO_APP_ID", "app")
	t.Setenv("MONACO_API_KEY", "key")
	t.Setenv("MONACO_HTTP_TIMEOUT", "15s")
	t.Setenv("MONACO_MARKET_PAGE_SIZE", "500")
	t.Setenv("ODDSTREAM_DATABASE_DSN", "postgres://db.test/odds")
	t.Setenv("ODDSTREAM_CATALOG_REFRESH", "30m")

	cfg := FromEnv()
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging environment, got %s", cfg.Environment)
	}
	if cfg.Venue.RESTBaseURL != "https://rest.test" || cfg.Venue.StreamURL != "wss://stream.test" {
		t.Fatalf("expected endpoint overrides, got %s / %s", cfg.Venue.RESTBaseURL, cfg.Venue.StreamURL)
	}
	if cfg.Venue.Credentials.AppID != "app" || cfg.Venue.Credentials.APIKey != "key" {
		t.Fatalf("expected credential overrides, got %+v", cfg.Venue.Credentials)
	}
	if cfg.Venue.HTTPTimeout != 15*time.Second {
		t.Fatalf("expected HTTP timeout override, got %s", cfg.Venue.HTTPTimeout)
	}
	if cfg.Venue.MarketPageSize != 500 {
		t.Fatalf("expected page size override, got %d", cfg.Venue.MarketPageSize)
	}
	if cfg.Database.DSN != "postgres://db.test/odds" {
		t.Fatalf("expected DSN override, got %s", cfg.Database.DSN)
	}
	if cfg.Catalog.RefreshInterval != 30*time.Minute {
		t.Fatalf("expected catalog refresh override, got %s", cfg.Catalog.RefreshInterval)
	}
}

func TestApplyOptionsDoNotMutateBase(t *testing.T) {
	base := Default()
	applied := Apply(base,
		WithEnvironment(EnvDev),
		WithVenueEndpoints("https://override", "wss://override"),
		WithVenueCredentials("app2", "key2"),
		WithDatabaseDSN("postgres://override/odds"),
		WithCatalogRefreshInterval(45*time.Minute),
		WithBatchTuning(5*time.Millisecond, 100),
		WithVenueEndpoints("", ""),
		nil,
	)

	if applied.Environment != EnvDev {
		t.Fatalf("expected environment override, got %s", applied.Environment)
	}
	if base.Environment == EnvDev {
		t.Fatalf("expected base environment to remain unchanged")
	}
	if applied.Venue.RESTBaseURL != "https://override" {
		t.Fatalf("expected endpoint override, got %s", applied.Venue.RESTBaseURL)
	}
	if base.Venue.RESTBaseURL == "https://override" {
		t.Fatalf("expected base venue to remain unchanged")
	}
	if applied.Batch.Debounce != 5*time.Millisecond || applied.Batch.MaxSize != 100 {
		t.Fatalf("expected batch tuning override, got %+v", applied.Batch)
	}
}

func TestLoadReadsYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oddstream.yaml")
	doc := []byte(`
environment: dev
venue:
  restBaseUrl: https://yaml.test
  streamUrl: wss://yaml.test
  credentials:
    appId: yaml-app
    apiKey: yaml-key
catalog:
  refreshInterval: 20m
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != EnvDev {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.Venue.RESTBaseURL != "https://yaml.test" {
		t.Fatalf("expected yaml endpoint, got %s", cfg.Venue.RESTBaseURL)
	}
	if cfg.Venue.Credentials.AppID != "yaml-app" {
		t.Fatalf("expected yaml credentials, got %+v", cfg.Venue.Credentials)
	}
	if cfg.Catalog.RefreshInterval != 20*time.Minute {
		t.Fatalf("expected yaml catalog refresh, got %s", cfg.Catalog.RefreshInterval)
	}
	// Fields absent from the document keep their defaults.
	if cfg.Venue.MarketPageSize != 2000 {
		t.Fatalf("expected default page size, got %d", cfg.Venue.MarketPageSize)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oddstream.yaml")
	doc := []byte(`
venue:
  restBaseUrl: ""
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for blank REST base URL")
	}
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"POS_BACKEND_BASE_URL": "https://backend.example.com/api/",
		"POS_OPERATOR_ID":      "op-1",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Backend.BaseURL != "https://backend.example.com/api" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.BreakerFailures != 5 || cfg.Backend.BreakerCooldown != 30*time.Second {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Backend)
	}
	if cfg.Session.AutoSaveInterval != 30*time.Second {
		t.Errorf("unexpected auto-save interval: %s", cfg.Session.AutoSaveInterval)
	}
	if cfg.Session.SearchDebounce != 300*time.Millisecond {
		t.Errorf("unexpected search debounce: %s", cfg.Session.SearchDebounce)
	}
	if !cfg.Pricing.TaxEnabled || cfg.Pricing.TaxRate.String() != "0.08" {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Pricing.Channel != "store" {
		t.Errorf("expected default channel store, got %s", cfg.Pricing.Channel)
	}
	if cfg.HeldOrders.Store != HeldOrderStoreBackend {
		t.Errorf("expected backend store, got %s", cfg.HeldOrders.Store)
	}
	if cfg.Secrets.FallbackFile != ".secrets.local" {
		t.Errorf("unexpected fallback file: %s", cfg.Secrets.FallbackFile)
	}
}

func TestLoadReportsAllMissingFields(t *testing.T) {
	env := map[string]string{
		"POS_TAX_RATE":         "1.5",
		"POS_HELD_ORDER_STORE": "firestore",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Backend.BaseURL":     true,
		"Session.OperatorID":  true,
		"Pricing.TaxRate":     true,
		"Firestore.ProjectID": true,
	}
	fields := validation.Fields()
	if len(fields) != len(want) {
		t.Fatalf("expected fields %v, got %v", want, fields)
	}
	for _, field := range fields {
		if !want[field] {
			t.Errorf("unexpected field %s", field)
		}
	}
}

func TestLoadResolvesBackendTokenSecret(t *testing.T) {
	env := baseEnv()
	env["POS_BACKEND_TOKEN"] = "sm://pos/backend-token"

	var requested string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		requested = ref
		return "resolved-token", nil
	})
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if requested != "secret://pos/backend-token" {
		t.Errorf("expected normalized ref, got %s", requested)
	}
	if cfg.Backend.Token != "resolved-token" {
		t.Errorf("expected resolved token, got %s", cfg.Backend.Token)
	}
}

func TestLoadSecretFailure(t *testing.T) {
	env := baseEnv()
	env["POS_BACKEND_TOKEN"] = "secret://pos/backend-token"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected unconfigured resolver cause, got %v", err)
	}
}

func TestLoadAppliesChannelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	content := "channels:\n  store:\n    taxEnabled: true\n    taxRate: \"0.10\"\n  wholesale:\n    taxEnabled: false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write channels file: %v", err)
	}

	env := baseEnv()
	env["POS_CHANNELS_FILE"] = path
	env["POS_SALE_CHANNEL"] = "Wholesale"
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Pricing.TaxEnabled {
		t.Errorf("expected wholesale channel to disable tax")
	}

	env["POS_SALE_CHANNEL"] = "store"
	cfg, err = Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Pricing.TaxEnabled || cfg.Pricing.TaxRate.String() != "0.1" {
		t.Errorf("expected store channel rate 0.10, got %+v", cfg.Pricing)
	}

	env["POS_SALE_CHANNEL"] = "online"
	_, err = Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Fields()[0] != "Pricing.Channel" {
		t.Fatalf("expected unknown channel to fail validation, got %v", err)
	}
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport POS_OPERATOR_ID=from-file\nPOS_TERMINAL_ID='till-9'\nPOS_HTTP_ADDR=:9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	env := map[string]string{
		"POS_BACKEND_BASE_URL": "http://localhost:9999",
		"POS_HTTP_ADDR":        ":7000",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Session.OperatorID != "from-file" || cfg.Session.TerminalID != "till-9" {
		t.Errorf("expected values from env file, got %+v", cfg.Session)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("expected env map to win over env file, got %s", cfg.Server.Addr)
	}

	value, ok, err := Lookup("POS_TERMINAL_ID", WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil || !ok || value != "till-9" {
		t.Errorf("unexpected lookup result %q %v %v", value, ok, err)
	}
}

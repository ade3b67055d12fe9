package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Genesis.MinTasksPerAgent != 3 {
		t.Errorf("MinTasksPerAgent = %d, want 3", cfg.Genesis.MinTasksPerAgent)
	}
	if cfg.Genesis.AgentNominationDuration != 360 {
		t.Errorf("AgentNominationDuration = %d, want 360", cfg.Genesis.AgentNominationDuration)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, "sqlite")
	}
	if cfg.Host.Breaker.Timeout != 30*time.Second {
		t.Errorf("Breaker.Timeout = %v, want 30s", cfg.Host.Breaker.Timeout)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Genesis.NativeDenom != "atom" {
		t.Errorf("expected defaults, got NativeDenom=%q", cfg.Genesis.NativeDenom)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logger:
  level: "debug"
store:
  driver: "memory"
gateway:
  addr: "127.0.0.1:9000"
  auth:
    tokens:
      - token: "tok-owner"
        name: "owner"
        account: "owner"
genesis:
  owner: "owner"
  native_denom: "ujuno"
  min_tasks_per_agent: 5
  agent_nomination_duration: 120
  available:
    native:
      - denom: "ujuno"
        amount: 1000
  token_whitelist: ["cw20"]
host:
  contract_address: "juno1registry"
  accounts:
    - address: "juno1registry"
      native:
        - denom: "ujuno"
          amount: 5000
  breaker:
    timeout: 10s
reconcile:
  schedule: "@every 1m"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Genesis.MinTasksPerAgent != 5 || cfg.Genesis.AgentNominationDuration != 120 {
		t.Errorf("genesis params mismatch: %+v", cfg.Genesis)
	}
	if cfg.Genesis.AgentsEjectThreshold != 600 {
		t.Errorf("AgentsEjectThreshold = %d, want default 600", cfg.Genesis.AgentsEjectThreshold)
	}
	if len(cfg.Genesis.Available.Native) != 1 || cfg.Genesis.Available.Native[0].Amount != 1000 {
		t.Errorf("Available mismatch: %+v", cfg.Genesis.Available)
	}
	if len(cfg.Host.Accounts) != 1 || cfg.Host.Accounts[0].Native[0].Amount != 5000 {
		t.Errorf("host accounts mismatch: %+v", cfg.Host.Accounts)
	}
	if cfg.Host.Breaker.Timeout != 10*time.Second {
		t.Errorf("Breaker.Timeout = %v, want 10s", cfg.Host.Breaker.Timeout)
	}
	if cfg.Host.Breaker.MaxFailures != 5 {
		t.Errorf("Breaker.MaxFailures = %d, want default 5", cfg.Host.Breaker.MaxFailures)
	}
	if len(cfg.Gateway.Auth.Tokens) != 1 || cfg.Gateway.Auth.Tokens[0].Account != "owner" {
		t.Errorf("tokens mismatch: %+v", cfg.Gateway.Auth.Tokens)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CRONCAT_LOGGER_LEVEL", "debug")
	t.Setenv("CRONCAT_STORE_PATH", "/var/lib/croncat/state.db")
	t.Setenv("CRONCAT_GENESIS_OWNER", "juno1owner")
	t.Setenv("CRONCAT_RECONCILE_ENABLED", "false")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Store.Path != "/var/lib/croncat/state.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Genesis.Owner != "juno1owner" {
		t.Errorf("Genesis.Owner = %q", cfg.Genesis.Owner)
	}
	if cfg.Reconcile.Enabled {
		t.Error("Reconcile.Enabled should be false")
	}
}

func TestApplyEnvOverridesTracer(t *testing.T) {
	t.Setenv("CRONCAT_TRACER_ENABLED", "true")
	t.Setenv("CRONCAT_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
	if cfg.Tracer.Exporter != "stdout" {
		t.Errorf("Tracer.Exporter = %q, want %q", cfg.Tracer.Exporter, "stdout")
	}
}

func TestApplyEnvOverridesGatewayTokens(t *testing.T) {
	t.Setenv("CRONCAT_GATEWAY_TOKENS", "tok-a:alice, tok-b:bob,malformed,:nobody")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	tokens := cfg.Gateway.Auth.Tokens
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2: %+v", len(tokens), tokens)
	}
	if tokens[0].Token != "tok-a" || tokens[0].Account != "alice" {
		t.Errorf("tokens[0] = %+v", tokens[0])
	}
	if tokens[1].Token != "tok-b" || tokens[1].Account != "bob" {
		t.Errorf("tokens[1] = %+v", tokens[1])
	}
}

func TestApplyEnvOverridesRateLimit(t *testing.T) {
	t.Setenv("CRONCAT_GATEWAY_RATE_LIMIT", "2.5")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Gateway.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("RequestsPerSecond = %v, want 2.5", cfg.Gateway.RateLimit.RequestsPerSecond)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "gateway-token-abcdef"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}

	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	cases := map[string]string{
		"no separator":   "abcdef",
		"bad salt":       "zz:00",
		"bad ciphertext": "00:zz",
		"too short":      "00112233445566778899aabbccddeeff:00",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecryptValue(in, "pass"); err == nil {
				t.Errorf("DecryptValue(%q): expected error", in)
			}
		})
	}
}

func TestDecryptSecretsGatewayTokens(t *testing.T) {
	passphrase := "test-config-key"
	encrypted, err := EncryptValue("tok-secret", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	cfg := Defaults()
	cfg.Gateway.Auth.Tokens = []TokenConfig{
		{Token: "enc:" + encrypted, Name: "owner", Account: "owner"},
		{Token: "plain", Name: "agent", Account: "agent"},
	}

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Gateway.Auth.Tokens[0].Token != "tok-secret" {
		t.Errorf("Token = %q, want %q", cfg.Gateway.Auth.Tokens[0].Token, "tok-secret")
	}
	if cfg.Gateway.Auth.Tokens[1].Token != "plain" {
		t.Error("plain token should remain unchanged")
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Auth.Tokens = []TokenConfig{{Token: "enc:notvalidhex", Name: "owner", Account: "owner"}}

	if err := decryptSecrets(cfg, "passphrase"); err == nil {
		t.Error("expected error for invalid ciphertext")
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	encrypted, err := EncryptValue("tok-loaded", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gateway:
  auth:
    tokens:
      - token: "enc:` + encrypted + `"
        name: "owner"
        account: "owner"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CRONCAT_CONFIG_KEY", passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Auth.Tokens[0].Token != "tok-loaded" {
		t.Errorf("Token = %q, want %q", cfg.Gateway.Auth.Tokens[0].Token, "tok-loaded")
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gateway:
  auth:
    tokens:
      - token: "enc:invalid-not-hex"
        account: "owner"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CRONCAT_CONFIG_KEY", "some-passphrase")
	if _, err := Load(path); err == nil {
		t.Error("expected error from decrypt secrets")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Set explicitly; WriteFile is subject to umask.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: [yaml: bad"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("genesis:\n  min_tasks_per_agent: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "genesis.min_tasks_per_agent must be > 0")
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()

	for _, tc := range []struct {
		name string
		mode os.FileMode
		ok   bool
	}{
		{"good.yaml", 0600, true},
		{"readable.yaml", 0644, true},
		{"bad.yaml", 0666, false},
	} {
		p := filepath.Join(dir, tc.name)
		if err := os.WriteFile(p, []byte("test"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(p, tc.mode); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(p)
		if tc.ok && err != nil {
			t.Errorf("%o should pass: %v", tc.mode, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%o should fail", tc.mode)
		}
	}
}

func TestValidatePermissionsStatError(t *testing.T) {
	if err := validatePermissions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for non-existent file")
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir string, cfg map[string]any) {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func minimalConfig() map[string]any {
	return map[string]any{
		"signaling_url": "wss://calls.example.org/ws",
		"account_id":    "alice",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, minimalConfig())

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8180" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.RelayPort != 3478 || cfg.RelayRealm != "palaver" {
		t.Errorf("relay defaults missing: %d %q", cfg.RelayPort, cfg.RelayRealm)
	}
	if cfg.DatabasePath != filepath.Join(dir, "palaver.db") {
		t.Errorf("database path = %q", cfg.DatabasePath)
	}
}

func TestLoadRejectsMissingAccount(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]any{"signaling_url": "wss://x/ws"})

	if _, err := Load(dir); err == nil {
		t.Fatal("missing account_id accepted")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, minimalConfig())
	t.Setenv("PALAVER_ACCOUNT_ID", "bob")
	t.Setenv("PALAVER_RELAY_PORT", "3999")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccountID != "bob" {
		t.Errorf("account id = %q, want env override bob", cfg.AccountID)
	}
	if cfg.RelayPort != 3999 {
		t.Errorf("relay port = %d, want 3999", cfg.RelayPort)
	}
}

func TestDeviceIDPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, minimalConfig())

	first, err := Load(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.DeviceID == "" {
		t.Fatal("no device id generated")
	}
	second, err := Load(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.DeviceID != first.DeviceID {
		t.Fatalf("device id changed across loads: %q vs %q", first.DeviceID, second.DeviceID)
	}
}

func TestVAPIDKeysPersistAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, minimalConfig())

	first, err := Load(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.VAPIDKeys.PublicKey == "" || first.VAPIDKeys.PrivateKey == "" {
		t.Fatal("vapid keys not generated")
	}
	second, err := Load(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.VAPIDKeys.PublicKey != first.VAPIDKeys.PublicKey {
		t.Fatal("vapid public key changed across loads")
	}
}

func TestRelayCredsOnlyWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	cfg := minimalConfig()
	cfg["relay_enabled"] = true
	writeConfig(t, dir, cfg)

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.RelayCreds.Username == "" || loaded.RelayCreds.Password == "" {
		t.Fatal("relay credentials not generated")
	}

	dir2 := t.TempDir()
	writeConfig(t, dir2, minimalConfig())
	loaded2, err := Load(dir2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded2.RelayCreds.Password != "" {
		t.Fatal("relay credentials generated while relay disabled")
	}
}

func TestAuthTokenFromKeysFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, minimalConfig())
	keysDir := filepath.Join(dir, "keys")
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(keysDir, "auth-token.key"), []byte("tok-123\n"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthToken != "tok-123" {
		t.Fatalf("auth token = %q, want tok-123 trimmed", cfg.AuthToken)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, minimalConfig())
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.MuteRing = true
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.MuteRing {
		t.Fatal("mute_ring not persisted")
	}
	if reloaded.AccountID != cfg.AccountID {
		t.Fatalf("account id lost on save: %q", reloaded.AccountID)
	}
}

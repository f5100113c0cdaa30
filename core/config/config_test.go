package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc"},
		Networks: []NetworkConfig{
			{
				ID:            "bsc",
				RPCURL:        "wss://node",
				ExplorerTxURL: "https://bscscan.com/tx/",
				Routers:       []string{"0x10ED43C718714eb63d5aA57B78B54704E256024E"},
			},
		},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run_mode default = %q, want %q", cfg.Telegram.RunMode, RunModeLongpoll)
	}
	if cfg.Notify.AmountPrecision != 4 {
		t.Errorf("amount_precision default = %d, want 4", cfg.Notify.AmountPrecision)
	}
	if cfg.Networks[0].Name != "bsc" {
		t.Errorf("network name fallback = %q, want id", cfg.Networks[0].Name)
	}
}

func TestNormalizeLowercasesRouters(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	got := cfg.Networks[0].Routers[0]
	want := "0x10ed43c718714eb63d5aa57b78b54704e256024e"
	if got != want {
		t.Errorf("router = %q, want %q", got, want)
	}
}

func TestNormalizeRejectsBadRouter(t *testing.T) {
	cfg := validConfig()
	cfg.Networks[0].Routers = []string{"pancake"}
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for non-hex router address")
	}
}

func TestNormalizeRejectsDuplicateNetworks(t *testing.T) {
	cfg := validConfig()
	cfg.Networks = append(cfg.Networks, cfg.Networks[0])
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for duplicate network id")
	}
}

func TestNormalizeRequiresNetworks(t *testing.T) {
	cfg := validConfig()
	cfg.Networks = nil
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for empty networks")
	}
}

func TestNormalizeWebhookRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = RunModeWebhook
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for webhook mode without url")
	}
	cfg.Webhook = WebhookConfig{URL: "https://bot.example.com", Listen: "0.0.0.0", Port: 8443}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize webhook: %v", err)
	}
}

func TestNetworkLookup(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if _, ok := cfg.Network("bsc"); !ok {
		t.Error("Network(bsc) not found")
	}
	if _, ok := cfg.Network("sol"); ok {
		t.Error("Network(sol) unexpectedly found")
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
telegram:
  token: "123:abc"
networks:
  - id: bsc
    rpc_url: wss://node
    explorer_tx_url: https://bscscan.com/tx/
    routers:
      - "0x10ed43c718714eb63d5aa57b78b54704e256024e"
notify:
  amount_precision: 6
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notify.AmountPrecision != 6 {
		t.Errorf("amount_precision = %d, want 6", cfg.Notify.AmountPrecision)
	}
	if len(cfg.Networks) != 1 || cfg.Networks[0].ID != "bsc" {
		t.Errorf("networks = %+v", cfg.Networks)
	}
}

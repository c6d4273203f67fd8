package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:           "8080",
		Env:            "development",
		ReceiverWallet: DefaultReceiverWallet,
		UnlockPrice:    "5",
		NFTContract:    DefaultNFTContract,
		NFTMinBalance:  2,
		ReportTTL:      30 * time.Minute,
		SweepInterval:  5 * time.Minute,
		LLMAPIKey:      "sk-test",
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.LLMAPIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing LLM_API_KEY")
	}
}

func TestValidate_BadReceiverWallet(t *testing.T) {
	for _, bad := range []string{"", "0x123", "ACe6f654b9cb7d775071e13549277aCd17652EAF", "0xZZe6f654b9cb7d775071e13549277aCd17652EAF"} {
		cfg := validConfig()
		cfg.ReceiverWallet = bad
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for receiver wallet %q", bad)
		}
	}
}

func TestValidate_SweepMustBeShorterThanTTL(t *testing.T) {
	cfg := validConfig()
	cfg.SweepInterval = cfg.ReportTTL
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when sweep interval >= TTL")
	}

	cfg = validConfig()
	cfg.SweepInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero sweep interval")
	}
}

func TestValidate_NFTMinBalance(t *testing.T) {
	cfg := validConfig()
	cfg.NFTMinBalance = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero min balance")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := validConfig()
	if !cfg.IsDevelopment() {
		t.Error("expected development mode")
	}
	cfg.Env = "production"
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
}

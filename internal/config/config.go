// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Unlock settings
	ReceiverWallet string // Platform wallet that receives unlock payments
	UnlockPrice    string // USDC price to unlock a detailed report (e.g. "5")
	NFTContract    string // OCTONADS NFT contract on the primary chain
	NFTMinBalance  int64  // Minimum NFT balance for holder unlock

	// Report cache
	ReportTTL     time.Duration
	SweepInterval time.Duration

	// Chain RPC overrides (defaults live in internal/chains)
	MonadRPCURL    string
	EthereumRPCURL string
	BSCRPCURL      string
	BaseRPCURL     string

	// Classifier
	LLMAPIKey  string
	LLMModel   string
	LLMBaseURL string // Optional, for OpenAI-compatible gateways

	// Referral
	ReferralReward string // USDC credited per successful referral

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPM   int
	MaxUploadBytes int64
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultUnlockPrice    = "5"
	DefaultNFTMinBalance  = 2
	DefaultReferralReward = "1.5"
	DefaultReportTTL      = 30 * time.Minute
	DefaultSweepInterval  = 5 * time.Minute
	DefaultLLMModel       = "gpt-4o-mini"
	DefaultRateLimit      = 60
	DefaultMaxUpload      = 10 << 20 // 10MB

	// DefaultReceiverWallet is the platform payment wallet.
	DefaultReceiverWallet = "0xACe6f654b9cb7d775071e13549277aCd17652EAF"

	// DefaultNFTContract is the OCTONADS collection on Monad.
	DefaultNFTContract = "0x66e22b826a12a7a6d12e3e9ac62d1cbb0c6c245b"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ReceiverWallet: getEnv("RECEIVER_WALLET", DefaultReceiverWallet),
		UnlockPrice:    getEnv("UNLOCK_PRICE", DefaultUnlockPrice),
		NFTContract:    getEnv("NFT_CONTRACT", DefaultNFTContract),
		NFTMinBalance:  getEnvInt64("NFT_MIN_BALANCE", DefaultNFTMinBalance),
		ReportTTL:      getEnvDuration("REPORT_TTL", DefaultReportTTL),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		MonadRPCURL:    os.Getenv("MONAD_RPC_URL"),
		EthereumRPCURL: os.Getenv("ETHEREUM_RPC_URL"),
		BSCRPCURL:      os.Getenv("BSC_RPC_URL"),
		BaseRPCURL:     os.Getenv("BASE_RPC_URL"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"), // Required, no default
		LLMModel:       getEnv("LLM_MODEL", DefaultLLMModel),
		LLMBaseURL:     os.Getenv("LLM_BASE_URL"),
		ReferralReward: getEnv("REFERRAL_REWARD", DefaultReferralReward),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUpload),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}

	if !isHexAddress(c.ReceiverWallet) {
		return fmt.Errorf("RECEIVER_WALLET must be a 0x-prefixed 40-hex-char address")
	}
	if !isHexAddress(c.NFTContract) {
		return fmt.Errorf("NFT_CONTRACT must be a 0x-prefixed 40-hex-char address")
	}

	if c.NFTMinBalance < 1 {
		return fmt.Errorf("NFT_MIN_BALANCE must be at least 1")
	}
	if c.ReportTTL <= 0 {
		return fmt.Errorf("REPORT_TTL must be positive")
	}
	if c.SweepInterval <= 0 || c.SweepInterval >= c.ReportTTL {
		return fmt.Errorf("SWEEP_INTERVAL must be positive and shorter than REPORT_TTL")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func isHexAddress(s string) bool {
	if len(s) != 42 || s[:2] != "0x" {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

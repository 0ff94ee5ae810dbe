package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var defaultChains = []string{"eth", "bsc", "polygon", "arbitrum", "base", "optimism", "avalanche"}

// Config holds all application configuration loaded from environment variables,
// optionally overlaid with a YAML file for list-valued settings.
type Config struct {
	DatabaseURL   string
	WalletAddress string
	Chains        []string
	DepositTokens []string
	SpamTokens    []string

	MoralisURL    string
	MoralisAPIKey string

	CoinGeckoURL            string
	CoinGeckoAPIKey         string
	CoinGeckoTopCoins       int
	CoinGeckoPerPage        int
	CoinGeckoRetryMax       int
	CoinGeckoRetryBaseDelay time.Duration
	CoinGeckoRatePerMinute  int
	CoinCacheTTL            time.Duration

	ChainFetchConcurrency   int
	PriceWorkerInterval     time.Duration
	ReconcileWorkerInterval time.Duration
	WorkersEnabled          bool
	HTTPPort                string
	AdminAPIKey             string

	ExportXLSXPath        string
	SheetsSpreadsheetID   string
	GoogleCredentialsJSON string

	LogLevel   string
	LogFormat  string
	ConfigFile string
}

// fileOverlay is the YAML shape of CONFIG_FILE.
type fileOverlay struct {
	Chains        []string `yaml:"chains"`
	DepositTokens []string `yaml:"depositTokens"`
	SpamTokens    []string `yaml:"spamTokens"`
}

// Load reads configuration from environment variables with sensible defaults,
// then applies CONFIG_FILE if set.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:             envOrDefaultWarn("DATABASE_URL", ""),
		WalletAddress:           envOrDefault("WALLET_ADDRESS", ""),
		Chains:                  envOrDefaultList("CHAINS", defaultChains),
		DepositTokens:           envOrDefaultList("DEPOSIT_TOKENS", nil),
		SpamTokens:              envOrDefaultList("SPAM_TOKENS", nil),
		MoralisURL:              envOrDefault("MORALIS_URL", "https://deep-index.moralis.io/api/v2.2"),
		MoralisAPIKey:           envOrDefault("MORALIS_API_KEY", ""),
		CoinGeckoURL:            envOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey:         envOrDefault("COINGECKO_API_KEY", ""),
		CoinGeckoTopCoins:       envOrDefaultInt("COINGECKO_TOP_COINS", 500),
		CoinGeckoPerPage:        envOrDefaultInt("COINGECKO_PER_PAGE", 100),
		CoinGeckoRetryMax:       envOrDefaultInt("COINGECKO_RETRY_MAX", 5),
		CoinGeckoRetryBaseDelay: envOrDefaultDuration("COINGECKO_RETRY_BASE_DELAY", 4500*time.Millisecond),
		CoinGeckoRatePerMinute:  envOrDefaultInt("COINGECKO_RATE_PER_MINUTE", 30),
		CoinCacheTTL:            envOrDefaultDuration("COIN_CACHE_TTL", 10*time.Minute),
		ChainFetchConcurrency:   envOrDefaultInt("CHAIN_FETCH_CONCURRENCY", 1),
		PriceWorkerInterval:     envOrDefaultDuration("PRICE_WORKER_INTERVAL", 1*time.Hour),
		ReconcileWorkerInterval: envOrDefaultDuration("RECONCILE_WORKER_INTERVAL", 6*time.Hour),
		WorkersEnabled:          envOrDefaultBool("WORKERS_ENABLED", true),
		HTTPPort:                envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:             envOrDefault("ADMIN_API_KEY", ""),
		ExportXLSXPath:          envOrDefault("EXPORT_XLSX_PATH", ""),
		SheetsSpreadsheetID:     envOrDefault("SHEETS_SPREADSHEET_ID", ""),
		GoogleCredentialsJSON:   envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),
		LogLevel:                envOrDefault("LOG_LEVEL", "info"),
		LogFormat:               envOrDefault("LOG_FORMAT", "json"),
		ConfigFile:              envOrDefault("CONFIG_FILE", ""),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return cfg, err
		}
	}
	if cfg.ChainFetchConcurrency < 1 {
		cfg.ChainFetchConcurrency = 1
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if len(overlay.Chains) > 0 {
		c.Chains = overlay.Chains
	}
	if len(overlay.DepositTokens) > 0 {
		c.DepositTokens = overlay.DepositTokens
	}
	if len(overlay.SpamTokens) > 0 {
		c.SpamTokens = overlay.SpamTokens
	}
	return nil
}

// DeniedTokens returns the deposit and spam lists combined.
func (c Config) DeniedTokens() []string {
	out := make([]string, 0, len(c.DepositTokens)+len(c.SpamTokens))
	out = append(out, c.DepositTokens...)
	return append(out, c.SpamTokens...)
}

// ValidateWallet checks WalletAddress is an EVM address and returns its
// checksummed form. Mixed-case input must carry a valid checksum.
func (c Config) ValidateWallet() (string, error) {
	addr := strings.TrimSpace(c.WalletAddress)
	if addr == "" {
		return "", fmt.Errorf("WALLET_ADDRESS is required")
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("WALLET_ADDRESS %q is not a hex address", addr)
	}
	checksummed := common.HexToAddress(addr).Hex()
	body := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	mixedCase := body != strings.ToLower(body) && body != strings.ToUpper(body)
	if mixedCase && "0x"+body != checksummed {
		return "", fmt.Errorf("WALLET_ADDRESS %q has an invalid checksum", addr)
	}
	return checksummed, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

// envOrDefaultList splits a comma-separated env var, dropping empty items.
func envOrDefaultList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// Package config loads facilitator configuration from the process
// environment, optionally preloaded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	x402 "github.com/x402-foundation/x402-core"
)

// Config is the facilitator's runtime configuration.
type Config struct {
	PrivateKey       string
	Port             string
	RateLimit        float64
	RateLimitEnabled bool
	MetricsEnabled   bool
	RPCURLs          map[x402.Network]string
}

// Load reads configuration from the environment, first loading a .env file
// if one is present in the working directory (missing is not an error).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		PrivateKey:       os.Getenv("FACILITATOR_PRIVATE_KEY"),
		Port:             os.Getenv("PORT"),
		RateLimitEnabled: parseBool(os.Getenv("RATE_LIMIT_ENABLED"), false),
		MetricsEnabled:   parseBool(os.Getenv("METRICS_ENABLED"), true),
		RPCURLs:          make(map[x402.Network]string),
	}

	if cfg.PrivateKey == "" {
		return Config{}, fmt.Errorf("FACILITATOR_PRIVATE_KEY is required")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if raw := os.Getenv("RATE_LIMIT"); raw != "" {
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RATE_LIMIT %q: %w", raw, err)
		}
		cfg.RateLimit = limit
	} else {
		cfg.RateLimit = 10
	}

	for _, network := range []x402.Network{
		x402.NetworkBaseMainnet,
		x402.NetworkBaseSepolia,
		x402.NetworkEthereumMainnet,
		x402.NetworkArbitrumOne,
		x402.NetworkOptimismMainnet,
	} {
		envVar := "RPC_URL_" + networkEnvSuffix(network)
		if url := os.Getenv(envVar); url != "" {
			cfg.RPCURLs[network] = url
		}
	}

	return cfg, nil
}

// networkEnvSuffix turns a network identifier into its RPC_URL_* env var
// suffix, e.g. "base-mainnet" -> "BASE_MAINNET".
func networkEnvSuffix(network x402.Network) string {
	return strings.ToUpper(strings.ReplaceAll(string(network), "-", "_"))
}

func parseBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

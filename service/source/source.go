// Package source builds the configured transaction source.
package source

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/brojonat/xray/service/chain"
	"github.com/brojonat/xray/service/config"
	"github.com/brojonat/xray/service/helius"
	"github.com/brojonat/xray/service/metrics"
	"github.com/brojonat/xray/service/solana"
)

// New returns the chain.Source selected by cfg.Source. For the rpc source,
// SolanaRPCURL may list several comma separated endpoints; one is picked at random.
func New(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (chain.Source, error) {
	switch cfg.Source {
	case config.SourceHelius:
		logger.Info("using helius enhanced transactions source", "url", cfg.HeliusAPIURL)
		return helius.NewClient(cfg.HeliusAPIURL, cfg.HeliusAPIKey, nil, m, logger), nil

	case config.SourceRPC:
		endpoints := solana.SplitEndpoints(cfg.SolanaRPCURL)
		rpcURL, err := solana.SelectRandomEndpoint(endpoints)
		if err != nil {
			return nil, err
		}
		endpoint := EndpointName(rpcURL)
		logger.Info("using solana rpc source",
			"endpoint", endpoint,
			"total_endpoints", len(endpoints),
			"request_delay", cfg.RPCRequestDelay,
		)
		client := solana.NewClient(solana.NewRPCClient(rpcURL), endpoint, m, logger)
		return client.WithRequestDelay(cfg.RPCRequestDelay), nil

	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// EndpointName extracts a short identifier from a Solana RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://api.devnet.solana.com" -> "devnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "https://some-endpoint.quiknode.pro/..." -> "quiknode"
func EndpointName(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()

	// Common RPC providers first, so "mainnet.helius-rpc.com" is not "mainnet"
	for _, provider := range []string{"helius", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	if strings.Contains(host, "quiknode") || strings.Contains(host, "quicknode") {
		return "quiknode"
	}

	for _, cluster := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}
	return host
}

package chains

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pricewatch/internal/config"
)

var (
	// ErrUnsupportedChain indicates the logical chain name has no provider code.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrInvalidAddress indicates the token address is malformed.
	ErrInvalidAddress = errors.New("invalid token address")
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Registry translates logical chain names into provider codes and resolves
// per-chain token universes.
type Registry struct {
	chains map[string]config.ChainConfig
}

// NewRegistry builds a Registry from configured chains.
func NewRegistry(chains map[string]config.ChainConfig) *Registry {
	normalized := make(map[string]config.ChainConfig, len(chains))
	for name, chain := range chains {
		normalized[strings.ToLower(name)] = chain
	}
	return &Registry{chains: normalized}
}

// HexCode resolves the provider-specific chain code for a logical name.
func (r *Registry) HexCode(chain string) (string, error) {
	cfg, ok := r.chains[strings.ToLower(chain)]
	if !ok || cfg.HexCode == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	return cfg.HexCode, nil
}

// NativeToken returns the chain's wrapped-native token address in checksum form.
func (r *Registry) NativeToken(chain string) (string, error) {
	cfg, ok := r.chains[strings.ToLower(chain)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	if cfg.NativeToken == "" {
		return "", fmt.Errorf("native token not configured for chain %s", chain)
	}
	return NormalizeAddress(cfg.NativeToken)
}

// TrackedTokens returns the configured tracked-token addresses for a chain,
// checksum-normalized.
func (r *Registry) TrackedTokens(chain string) ([]string, error) {
	cfg, ok := r.chains[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	addresses := make([]string, 0, len(cfg.TrackedTokens))
	for _, raw := range cfg.TrackedTokens {
		addr, err := NormalizeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", chain, err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// Names lists the configured chain names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeAddress validates a hex token address and returns its EIP-55
// checksum form.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if !addressPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	return common.HexToAddress(trimmed).Hex(), nil
}

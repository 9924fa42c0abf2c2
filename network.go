package ipregistry

import (
	"fmt"
	"strconv"
	"strings"
)

// IsAllowedNetwork reports whether identity denotes DefaultChainID in either
// its hex ("0xaa36a7") or decimal ("11155111") encoding.
func IsAllowedNetwork(identity string) bool {
	return NewNetworkGuard(DefaultChainID, nil).IsAllowed(identity)
}

// NetworkGuard validates chain identities reported by a signing agent
// against the single chain the registry lives on.
type NetworkGuard struct {
	chainID  uint64
	resolver NetworkResolver
}

// NewNetworkGuard creates a guard for chainID. A nil resolver disables name lookup.
func NewNetworkGuard(chainID uint64, resolver NetworkResolver) *NetworkGuard {
	return &NetworkGuard{chainID: chainID, resolver: resolver}
}

// ChainID returns the allowed chain id.
func (g *NetworkGuard) ChainID() uint64 {
	return g.chainID
}

// HexID returns the allowed chain id in the 0x-prefixed form agents expect.
func (g *NetworkGuard) HexID() string {
	return "0x" + strconv.FormatUint(g.chainID, 16)
}

// IsAllowed never fails: empty and unparsable identities are simply not allowed.
func (g *NetworkGuard) IsAllowed(identity string) bool {
	normalized := strings.ToLower(strings.TrimSpace(identity))
	if normalized == "" {
		return false
	}
	return normalized == g.HexID() || normalized == strconv.FormatUint(g.chainID, 10)
}

// Name returns a display name for the allowed chain.
func (g *NetworkGuard) Name() string {
	if g.resolver != nil {
		if name, err := g.resolver(g.chainID); err == nil && name != "" {
			return name
		}
	}
	return fmt.Sprintf("chain %d", g.chainID)
}

// adapters.go provides the default implementations that bind the minimal
// interfaces in deps.go to go-ethereum and jarvis.
package ipregistry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tranvictor/jarvis/networks"
)

// DialBackend connects to an RPC endpoint and returns it as a Backend.
func DialBackend(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("couldn't dial rpc %s: %w", rpcURL, err)
	}
	return client, nil
}

// DefaultNetworkResolver is the default resolver that uses jarvis networks.GetNetworkByID.
// Chains unknown to jarvis are rendered as "chain <id>" by the caller.
func DefaultNetworkResolver(chainID uint64) (string, error) {
	network, err := networks.GetNetworkByID(chainID)
	if err != nil {
		return "", err
	}
	return network.GetName(), nil
}

var _ Backend = (*ethclient.Client)(nil)

package agent

import "github.com/tranvictor/ipregistry"

// Option configures a KeyedAgent.
type Option func(*KeyedAgent)

// WithRPC registers the endpoint used while the agent is on chainID.
func WithRPC(chainID uint64, rpcURL string) Option {
	return func(a *KeyedAgent) {
		a.rpcURLs[chainID] = rpcURL
	}
}

// WithInitialChain sets the chain the agent starts on. Defaults to
// ipregistry.DefaultChainID.
func WithInitialChain(chainID uint64) Option {
	return func(a *KeyedAgent) {
		a.chainID = chainID
	}
}

// WithDialer replaces ipregistry.DialBackend.
func WithDialer(dial Dialer) Option {
	return func(a *KeyedAgent) {
		a.dial = dial
	}
}

// WithBackend installs an already open connection for chainID.
func WithBackend(chainID uint64, backend ipregistry.Backend) Option {
	return func(a *KeyedAgent) {
		if _, ok := a.rpcURLs[chainID]; !ok {
			a.rpcURLs[chainID] = ""
		}
		a.backends[chainID] = backend
	}
}

// Package chains holds the registry of supported EVM networks.
//
// Monad is the primary chain (NFT holder unlocks happen there); Ethereum,
// BNB Smart Chain and Base are accepted for USDC payment unlocks. USDC uses
// 6 decimals on all four networks.
package chains

import (
	"errors"
	"fmt"
)

var ErrUnsupportedChain = errors.New("chains: unsupported chain")

// Chain IDs for the supported networks.
const (
	EthereumID int64 = 1
	BSCID      int64 = 56
	BaseID     int64 = 8453
	MonadID    int64 = 143

	// PrimaryID is the chain NFT ownership is checked on.
	PrimaryID = MonadID
)

// Chain describes one supported network.
type Chain struct {
	ID           int64
	Name         string
	RPCURL       string
	USDCContract string
}

// defaults for the four supported networks. RPC URLs can be overridden
// per-chain via Registry options.
var defaults = map[int64]Chain{
	MonadID: {
		ID:           MonadID,
		Name:         "monad",
		RPCURL:       "https://infra.originstake.com/monad/evm",
		USDCContract: "0x754704Bc059F8C67012fEd69BC8A327a5aafb603",
	},
	EthereumID: {
		ID:           EthereumID,
		Name:         "ethereum",
		RPCURL:       "https://eth.llamarpc.com",
		USDCContract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	},
	BSCID: {
		ID:           BSCID,
		Name:         "bsc",
		RPCURL:       "https://bsc-dataseed1.binance.org",
		USDCContract: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	},
	BaseID: {
		ID:           BaseID,
		Name:         "base",
		RPCURL:       "https://mainnet.base.org",
		USDCContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	},
}

// Registry resolves chain IDs to network configuration.
type Registry struct {
	chains map[int64]Chain
}

// Option overrides part of the default registry.
type Option func(*Registry)

// WithRPCURL overrides the RPC endpoint for a chain. Empty URLs are ignored
// so config values can be passed through unconditionally.
func WithRPCURL(chainID int64, url string) Option {
	return func(r *Registry) {
		if url == "" {
			return
		}
		if c, ok := r.chains[chainID]; ok {
			c.RPCURL = url
			r.chains[chainID] = c
		}
	}
}

// NewRegistry creates a registry with the four supported networks.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{chains: make(map[int64]Chain, len(defaults))}
	for id, c := range defaults {
		r.chains[id] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get resolves a chain ID. Unknown IDs return ErrUnsupportedChain.
func (r *Registry) Get(chainID int64) (Chain, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return c, nil
}

// Primary returns the primary chain (Monad).
func (r *Registry) Primary() Chain {
	return r.chains[PrimaryID]
}

// IDs returns the supported chain IDs.
func (r *Registry) IDs() []int64 {
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}

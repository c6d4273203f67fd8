// Package verify implements the two unlock proofs: on-chain USDC payment
// confirmation and signature-based NFT ownership.
//
// Both verifiers are read-only against the chain and safely retryable. They
// dial the RPC endpoint per call so a flaky node on one chain never pins a
// stale connection for the others.
package verify

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// rpcTimeout bounds every RPC round trip. Public endpoints can hang far
// longer than a caller waiting on an unlock should.
const rpcTimeout = 30 * time.Second

var (
	// ErrNotConfirmed means the transaction is missing or did not execute
	// successfully.
	ErrNotConfirmed = errors.New("verify: transaction failed or not found")

	// ErrPaymentNotFound means the receipt confirmed but carried no matching
	// USDC transfer to the receiver wallet.
	ErrPaymentNotFound = errors.New("verify: payment not found in transaction")

	// ErrSignatureMismatch means the recovered signer does not match the
	// claimed address.
	ErrSignatureMismatch = errors.New("verify: signature does not match address")

	// ErrInsufficientBalance means the claimed address holds fewer NFTs than
	// required.
	ErrInsufficientBalance = errors.New("verify: insufficient NFT balance")
)

// EthClient is the subset of the go-ethereum client the verifiers need.
type EthClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens an EthClient for an RPC endpoint. Swapped out in tests.
type Dialer func(ctx context.Context, rpcURL string) (EthClient, error)

// DefaultDialer connects via the standard go-ethereum client.
func DefaultDialer(ctx context.Context, rpcURL string) (EthClient, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/forgetsubs/forgetsubs/internal/chains"
	"github.com/forgetsubs/forgetsubs/internal/usdc"
)

// transferTopic is the ERC-20 Transfer(address,address,uint256) event signature.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// PaymentVerifier confirms a USDC payment to the receiver wallet on any
// supported chain.
type PaymentVerifier struct {
	registry  *chains.Registry
	dial      Dialer
	receiver  common.Address
	minAmount *big.Int
	logger    *slog.Logger
}

// PaymentOption configures a PaymentVerifier.
type PaymentOption func(*PaymentVerifier)

// WithPaymentDialer injects an RPC dialer. Used in tests.
func WithPaymentDialer(d Dialer) PaymentOption {
	return func(v *PaymentVerifier) { v.dial = d }
}

// NewPaymentVerifier creates a verifier for the given receiver wallet and
// minimum amount in USDC base units.
func NewPaymentVerifier(registry *chains.Registry, receiver string, minAmount *big.Int, logger *slog.Logger, opts ...PaymentOption) *PaymentVerifier {
	v := &PaymentVerifier{
		registry:  registry,
		dial:      DefaultDialer,
		receiver:  common.HexToAddress(receiver),
		minAmount: minAmount,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks that txHash on chainID carries a confirmed USDC transfer of
// at least the configured amount to the receiver wallet. Overpayment passes;
// the sender is not constrained.
func (v *PaymentVerifier) Verify(ctx context.Context, chainID int64, txHash string) error {
	return v.verify(ctx, chainID, txHash, nil, nil)
}

// VerifyExactFrom checks that txHash on chainID carries a confirmed USDC
// transfer of exactly `amount` from `payer` to the receiver wallet. Referral
// crediting uses this stricter form so a reward is only paid for the real
// unlock payment.
func (v *PaymentVerifier) VerifyExactFrom(ctx context.Context, chainID int64, txHash, payer string, amount *big.Int) error {
	from := common.HexToAddress(payer)
	return v.verify(ctx, chainID, txHash, &from, amount)
}

func (v *PaymentVerifier) verify(ctx context.Context, chainID int64, txHash string, from *common.Address, exact *big.Int) error {
	chain, err := v.registry.Get(chainID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	client, err := v.dial(ctx, chain.RPCURL)
	if err != nil {
		return fmt.Errorf("verify: dial %s: %w", chain.Name, err)
	}
	defer client.Close()

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return fmt.Errorf("%w: %s", ErrNotConfirmed, txHash)
	}
	if err != nil {
		// Transport trouble, not a verdict on the transaction.
		return fmt.Errorf("verify: receipt for %s on %s: %w", txHash, chain.Name, err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("%w: %s reverted", ErrNotConfirmed, txHash)
	}

	usdcContract := common.HexToAddress(chain.USDCContract)
	for _, log := range receipt.Logs {
		if log.Address != usdcContract {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != transferTopic {
			continue
		}

		eventFrom := common.HexToAddress(log.Topics[1].Hex())
		eventTo := common.HexToAddress(log.Topics[2].Hex())
		value := new(big.Int).SetBytes(log.Data)

		if !strings.EqualFold(eventTo.Hex(), v.receiver.Hex()) {
			continue
		}
		if from != nil && !strings.EqualFold(eventFrom.Hex(), from.Hex()) {
			continue
		}

		if exact != nil {
			if value.Cmp(exact) == 0 {
				return nil
			}
			continue
		}
		if value.Cmp(v.minAmount) >= 0 {
			v.logger.Info("payment verified",
				"chain", chain.Name,
				"txHash", txHash,
				"amount", usdc.Format(value),
			)
			return nil
		}
	}

	return fmt.Errorf("%w: no transfer of %s USDC to %s", ErrPaymentNotFound, usdc.Format(v.minAmount), v.receiver.Hex())
}

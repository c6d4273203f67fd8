package verify

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/forgetsubs/forgetsubs/internal/chains"
)

// balanceOfABI is the minimal ERC-721 surface the ownership check needs.
const balanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// UnlockMessage is the exact text a holder signs to unlock a report. Embedding
// the report id binds the signature to one unlock request.
func UnlockMessage(reportID string) string {
	return "Unlock Report: " + reportID
}

// HashMessage creates an Ethereum signed message hash. The EIP-191 prefix
// "\x19Ethereum Signed Message:\n{len}" is what wallet signMessage applies.
func HashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverAddress recovers the signer's address from a message and a
// hex-encoded 65-byte signature (r[32] + s[32] + v[1]).
func RecoverAddress(message string, signatureHex string) (string, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")

	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	// Wallets produce v = 27 or 28, Ecrecover expects 0 or 1
	if signature[64] >= 27 {
		signature[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(HashMessage(message), signature)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}

	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// OwnershipVerifier checks an EIP-191 signature and the signer's NFT balance
// on the primary chain.
type OwnershipVerifier struct {
	registry   *chains.Registry
	dial       Dialer
	contract   common.Address
	minBalance *big.Int
	abi        abi.ABI
	logger     *slog.Logger
}

// OwnershipOption configures an OwnershipVerifier.
type OwnershipOption func(*OwnershipVerifier)

// WithOwnershipDialer injects an RPC dialer. Used in tests.
func WithOwnershipDialer(d Dialer) OwnershipOption {
	return func(v *OwnershipVerifier) { v.dial = d }
}

// NewOwnershipVerifier creates a verifier against the given NFT contract.
func NewOwnershipVerifier(registry *chains.Registry, contract string, minBalance int64, logger *slog.Logger, opts ...OwnershipOption) (*OwnershipVerifier, error) {
	parsed, err := abi.JSON(strings.NewReader(balanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("verify: parse abi: %w", err)
	}

	v := &OwnershipVerifier{
		registry:   registry,
		dial:       DefaultDialer,
		contract:   common.HexToAddress(contract),
		minBalance: big.NewInt(minBalance),
		abi:        parsed,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify recovers the signer of message and checks their NFT balance. The
// recovered address must equal claimedAddress (case-insensitive) and the
// balance must meet the configured minimum.
func (v *OwnershipVerifier) Verify(ctx context.Context, message, signatureHex, claimedAddress string) error {
	recovered, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if !strings.EqualFold(recovered, claimedAddress) {
		return fmt.Errorf("%w: recovered %s", ErrSignatureMismatch, recovered)
	}

	balance, err := v.balanceOf(ctx, common.HexToAddress(claimedAddress))
	if err != nil {
		return err
	}
	if balance.Cmp(v.minBalance) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, v.minBalance)
	}

	v.logger.Info("ownership verified", "address", strings.ToLower(claimedAddress), "balance", balance.String())
	return nil
}

func (v *OwnershipVerifier) balanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	chain := v.registry.Primary()

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	client, err := v.dial(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("verify: dial %s: %w", chain.Name, err)
	}
	defer client.Close()

	data, err := v.abi.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("verify: pack balanceOf: %w", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &v.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("verify: balanceOf call: %w", err)
	}

	results, err := v.abi.Unpack("balanceOf", out)
	if err != nil || len(results) == 0 {
		return nil, fmt.Errorf("verify: unpack balanceOf: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("verify: unexpected balanceOf result type %T", results[0])
	}
	return balance, nil
}

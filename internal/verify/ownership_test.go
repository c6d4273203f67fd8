package verify

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/forgetsubs/forgetsubs/internal/chains"
)

const testNFTContract = "0x66e22b826a12a7a6d12e3e9ac62d1cbb0c6c245b"

// signMessage produces a wallet-style signature (v = 27/28) for message.
func signMessage(t *testing.T, keyHex, message string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(HashMessage(message), key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func testKey(t *testing.T) (keyHex, address string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func balanceResult(n int64) []byte {
	return common.LeftPadBytes(big.NewInt(n).Bytes(), 32)
}

func newOwnershipVerifier(t *testing.T, client EthClient) *OwnershipVerifier {
	t.Helper()
	v, err := NewOwnershipVerifier(chains.NewRegistry(), testNFTContract, 2, slog.Default(),
		WithOwnershipDialer(dialerFor(client)))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestRecoverAddress_RoundTrip(t *testing.T) {
	keyHex, address := testKey(t)
	message := UnlockMessage("a3f8d02c9b1e47f6a3f8d02c9b1e47f6")

	sig := signMessage(t, keyHex, message)
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.EqualFold(recovered, address) {
		t.Errorf("recovered %s, want %s", recovered, address)
	}
}

func TestRecoverAddress_BadInput(t *testing.T) {
	if _, err := RecoverAddress("msg", "0xzz"); err == nil {
		t.Error("expected error for non-hex signature")
	}
	if _, err := RecoverAddress("msg", "0xdeadbeef"); err == nil {
		t.Error("expected error for short signature")
	}
}

func TestOwnership_Verified(t *testing.T) {
	keyHex, address := testKey(t)
	message := UnlockMessage("report-1")
	sig := signMessage(t, keyHex, message)

	v := newOwnershipVerifier(t, &fakeEthClient{callResult: balanceResult(2)})
	if err := v.Verify(context.Background(), message, sig, address); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOwnership_SignatureMismatch(t *testing.T) {
	keyHex, _ := testKey(t)
	_, otherAddress := testKey(t)
	message := UnlockMessage("report-1")
	sig := signMessage(t, keyHex, message)

	v := newOwnershipVerifier(t, &fakeEthClient{callResult: balanceResult(5)})
	err := v.Verify(context.Background(), message, sig, otherAddress)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestOwnership_SignatureForDifferentReport(t *testing.T) {
	keyHex, address := testKey(t)
	sig := signMessage(t, keyHex, UnlockMessage("report-1"))

	// Replaying the signature against another report's message must fail.
	v := newOwnershipVerifier(t, &fakeEthClient{callResult: balanceResult(5)})
	err := v.Verify(context.Background(), UnlockMessage("report-2"), sig, address)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestOwnership_InsufficientBalance(t *testing.T) {
	keyHex, address := testKey(t)
	message := UnlockMessage("report-1")
	sig := signMessage(t, keyHex, message)

	v := newOwnershipVerifier(t, &fakeEthClient{callResult: balanceResult(1)})
	err := v.Verify(context.Background(), message, sig, address)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestOwnership_BoundaryBalancePasses(t *testing.T) {
	keyHex, address := testKey(t)
	message := UnlockMessage("report-1")
	sig := signMessage(t, keyHex, message)

	// Exactly the minimum holding qualifies
	v := newOwnershipVerifier(t, &fakeEthClient{callResult: balanceResult(2)})
	if err := v.Verify(context.Background(), message, sig, address); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOwnership_BoundsRPCCalls(t *testing.T) {
	keyHex, address := testKey(t)
	message := UnlockMessage("report-1")
	sig := signMessage(t, keyHex, message)

	client := &fakeEthClient{callResult: balanceResult(2)}
	v := newOwnershipVerifier(t, client)
	if err := v.Verify(context.Background(), message, sig, address); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !client.hadDeadline {
		t.Error("balanceOf call ran without a deadline")
	}
}

func TestOwnership_BalanceQueryFails(t *testing.T) {
	keyHex, address := testKey(t)
	message := UnlockMessage("report-1")
	sig := signMessage(t, keyHex, message)

	v := newOwnershipVerifier(t, &fakeEthClient{callErr: errors.New("rpc down")})
	err := v.Verify(context.Background(), message, sig, address)
	if err == nil || errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

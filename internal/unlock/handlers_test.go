package unlock

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgetsubs/forgetsubs/internal/chains"
	"github.com/forgetsubs/forgetsubs/internal/classifier"
	"github.com/forgetsubs/forgetsubs/internal/metrics"
	"github.com/forgetsubs/forgetsubs/internal/report"
	"github.com/forgetsubs/forgetsubs/internal/usdc"
	"github.com/forgetsubs/forgetsubs/internal/verify"
)

const (
	testReceiver    = "0xACe6f654b9cb7d775071e13549277aCd17652EAF"
	testPayer       = "0x1111111111111111111111111111111111111111"
	testNFTContract = "0x66e22b826a12a7a6d12e3e9ac62d1cbb0c6c245b"
	testTxHash      = "0x55c56cc2ef5a9ba83d1b58b80272da044ce9a8cc20407a54e40a3c01fb1d7f16"
)

// fakeEthClient serves canned receipt and call results per test.
type fakeEthClient struct {
	receipt    *types.Receipt
	callResult []byte
}

func (f *fakeEthClient) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}

func (f *fakeEthClient) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.callResult, nil
}

func (f *fakeEthClient) Close() {}

// fakeClassifier returns a fixed detail.
type fakeClassifier struct {
	detail *report.Detail
	err    error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (*report.Detail, error) {
	return f.detail, f.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router *gin.Engine
	cache  *report.Cache
	clock  *testClock
	eth    *fakeEthClient
}

func netflixDetail() *report.Detail {
	return &report.Detail{
		CurrencyCode:   "USD",
		CurrencySymbol: "$",
		Subscriptions: []report.Subscription{
			{Name: "Netflix", MonthlyAmount: 15.49, TotalPaid: 185.88, PaidMonths: 12, AnnualCost: 185.88, LastDate: "2025-08-01", CancelURL: "https://www.netflix.com/cancelplan"},
		},
		TotalAnnualWaste: 185.88,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := report.NewCache(30*time.Minute, report.WithClock(clock.Now))

	eth := &fakeEthClient{}
	dialer := func(_ context.Context, _ string) (verify.EthClient, error) { return eth, nil }

	minAmount, ok := usdc.Parse("5")
	require.True(t, ok)

	registry := chains.NewRegistry()
	payments := verify.NewPaymentVerifier(registry, testReceiver, minAmount, slog.Default(),
		verify.WithPaymentDialer(dialer))
	ownership, err := verify.NewOwnershipVerifier(registry, testNFTContract, 2, slog.Default(),
		verify.WithOwnershipDialer(dialer))
	require.NoError(t, err)

	svc := NewService(cache, &fakeClassifier{detail: netflixDetail()}, payments, ownership, nil, slog.Default())

	router := gin.New()
	api := router.Group("/api")
	NewHandler(svc).RegisterRoutes(api)

	return &testEnv{router: router, cache: cache, clock: clock, eth: eth}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) analyze(t *testing.T) report.Summary {
	t.Helper()
	w := e.postJSON(t, "/api/analyze", gin.H{"text": strings.Repeat("01/15 NETFLIX.COM 15.49\n", 20)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary report.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	return summary
}

func paidReceipt(t *testing.T, chainID int64, from, to string, amount *big.Int) *types.Receipt {
	t.Helper()
	c, err := chains.NewRegistry().Get(chainID)
	require.NoError(t, err)

	topic := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{{
			Address: common.HexToAddress(c.USDCContract),
			Topics: []common.Hash{
				topic,
				common.BytesToHash(common.LeftPadBytes(common.HexToAddress(from).Bytes(), 32)),
				common.BytesToHash(common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)),
			},
			Data: common.LeftPadBytes(amount.Bytes(), 32),
		}},
	}
}

func TestAnalyze_SummaryHidesDetail(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/api/analyze", gin.H{"text": strings.Repeat("01/15 NETFLIX.COM 15.49\n", 20)})
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.NotContains(t, body, "Netflix")
	assert.NotContains(t, body, "subscriptions\":[{")

	var summary report.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.SubscriptionCount)
	assert.Equal(t, 185.88, summary.TotalAnnualWaste)
	assert.Len(t, summary.ReportID, 32)
}

func TestAnalyze_CountsClassificationFailures(t *testing.T) {
	cache := report.NewCache(30 * time.Minute)
	svc := NewService(cache, &fakeClassifier{err: classifier.ErrServiceUnavailable}, nil, nil, nil, slog.Default())

	counter := metrics.ClassificationFailuresTotal.WithLabelValues("service_unavailable")
	before := promtestutil.ToFloat64(counter)

	_, err := svc.Analyze(context.Background(), strings.Repeat("01/15 NETFLIX.COM 15.49\n", 20))
	require.ErrorIs(t, err, classifier.ErrServiceUnavailable)

	assert.Equal(t, before+1, promtestutil.ToFloat64(counter))
}

func TestClassificationFailureReason(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"too short":       {classifier.ErrTooShort, "too_short"},
		"unavailable":     {classifier.ErrServiceUnavailable, "service_unavailable"},
		"malformed":       {classifier.ErrMalformedResponse, "malformed_response"},
		"not a statement": {&classifier.NotStatementError{Reason: "recipe"}, "not_a_statement"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, classificationFailureReason(tc.err))
		})
	}
}

func TestAnalyze_NoInput(t *testing.T) {
	env := newTestEnv(t)
	w := env.postJSON(t, "/api/analyze", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_MultipartUpload(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "statement.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(strings.Repeat("01/15,NETFLIX.COM,15.49\n", 20)))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAnalyze_UnsupportedFileType(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "statement.docx")
	require.NoError(t, err)
	_, err = fw.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnlock_PaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	amount, _ := usdc.Parse("5")
	env.eth.receipt = paidReceipt(t, chains.BaseID, testPayer, testReceiver, amount)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId": summary.ReportID,
		"method":   "payment",
		"txHash":   testTxHash,
		"chainId":  chains.BaseID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success      bool           `json:"success"`
		DetailedData *report.Detail `json:"detailedData"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.DetailedData.Subscriptions, 1)
	assert.Equal(t, "Netflix", resp.DetailedData.Subscriptions[0].Name)
	assert.Equal(t, 185.88, resp.DetailedData.Subscriptions[0].AnnualCost)
}

func TestUnlock_ExpiredReport(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	env.clock.Advance(31 * time.Minute)

	amount, _ := usdc.Parse("5")
	env.eth.receipt = paidReceipt(t, chains.BaseID, testPayer, testReceiver, amount)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId": summary.ReportID,
		"method":   "payment",
		"txHash":   testTxHash,
		"chainId":  chains.BaseID,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "re-upload")
}

func TestUnlock_PaymentToWrongRecipient(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	amount, _ := usdc.Parse("5")
	env.eth.receipt = paidReceipt(t, chains.BaseID, testPayer, testPayer, amount)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId": summary.ReportID,
		"method":   "payment",
		"txHash":   testTxHash,
		"chainId":  chains.BaseID,
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "payment_not_found")
}

func TestUnlock_UnsupportedChain(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId": summary.ReportID,
		"method":   "payment",
		"txHash":   testTxHash,
		"chainId":  137,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported_chain")
}

func TestUnlock_NFTFlow(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := crypto.Sign(verify.HashMessage(verify.UnlockMessage(summary.ReportID)), key)
	require.NoError(t, err)
	sig[64] += 27

	env.eth.callResult = common.LeftPadBytes(big.NewInt(2).Bytes(), 32)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId":  summary.ReportID,
		"method":    "nft",
		"signature": "0x" + hex.EncodeToString(sig),
		"address":   address,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Netflix")
}

func TestUnlock_SignatureForOtherReport(t *testing.T) {
	env := newTestEnv(t)
	first := env.analyze(t)
	second := env.analyze(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	// Signed for the first report, replayed against the second.
	sig, err := crypto.Sign(verify.HashMessage(verify.UnlockMessage(first.ReportID)), key)
	require.NoError(t, err)
	sig[64] += 27

	env.eth.callResult = common.LeftPadBytes(big.NewInt(5).Bytes(), 32)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId":  second.ReportID,
		"method":    "nft",
		"signature": "0x" + hex.EncodeToString(sig),
		"address":   address,
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "signature_mismatch")
}

func TestUnlock_InsufficientNFTBalance(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := crypto.Sign(verify.HashMessage(verify.UnlockMessage(summary.ReportID)), key)
	require.NoError(t, err)
	sig[64] += 27

	env.eth.callResult = common.LeftPadBytes(big.NewInt(1).Bytes(), 32)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId":  summary.ReportID,
		"method":    "nft",
		"signature": "0x" + hex.EncodeToString(sig),
		"address":   address,
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_balance")
}

func TestUnlock_UnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId": summary.ReportID,
		"method":   "iou",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnlock_MalformedFields(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	w := env.postJSON(t, "/api/unlock-report", gin.H{
		"reportId": summary.ReportID,
		"method":   "payment",
		"txHash":   "not-a-hash",
		"chainId":  chains.BaseID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestUnlock_ProofReuseStillWorksUntilExpiry(t *testing.T) {
	env := newTestEnv(t)
	summary := env.analyze(t)

	amount, _ := usdc.Parse("5")
	env.eth.receipt = paidReceipt(t, chains.BaseID, testPayer, testReceiver, amount)

	for i := 0; i < 2; i++ {
		w := env.postJSON(t, "/api/unlock-report", gin.H{
			"reportId": summary.ReportID,
			"method":   "payment",
			"txHash":   testTxHash,
			"chainId":  chains.BaseID,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
}

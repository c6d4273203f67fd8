// Package unlock orchestrates the analyze/unlock flow: statement text goes in,
// a summary plus report id comes out, and the detailed report is released only
// against a valid payment or ownership proof.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/forgetsubs/forgetsubs/internal/classifier"
	"github.com/forgetsubs/forgetsubs/internal/metrics"
	"github.com/forgetsubs/forgetsubs/internal/redact"
	"github.com/forgetsubs/forgetsubs/internal/report"
	"github.com/forgetsubs/forgetsubs/internal/traces"
	"github.com/forgetsubs/forgetsubs/internal/verify"
)

// Proof methods accepted by Unlock.
const (
	MethodPayment = "payment"
	MethodNFT     = "nft"
)

var (
	// ErrReportNotFound means the report id is unknown or the entry expired.
	// The two cases are deliberately indistinguishable.
	ErrReportNotFound = errors.New("unlock: report expired or not found")

	// ErrInvalidProof means the proof names no known method or is missing
	// fields for the chosen method.
	ErrInvalidProof = errors.New("unlock: invalid proof")
)

// Proof is the tagged union carried by an unlock request. Exactly one
// variant's fields are set, selected by Method.
type Proof struct {
	Method string

	// payment variant
	TxHash  string
	ChainID int64

	// nft variant
	Address   string
	Signature string
}

// Classifier produces a detailed report from redacted statement text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*report.Detail, error)
}

// Events receives notifications about completed flows. Implemented by the
// realtime hub; a nil Events is a no-op.
type Events interface {
	ReportCreated(subscriptionCount int, totalAnnualWaste float64, currencyCode string)
	ReportUnlocked(reportID, method string)
}

// Service is the unlock orchestrator.
type Service struct {
	cache      *report.Cache
	classifier Classifier
	payments   *verify.PaymentVerifier
	ownership  *verify.OwnershipVerifier
	events     Events
	logger     *slog.Logger
}

// NewService wires the orchestrator. events may be nil.
func NewService(cache *report.Cache, classifier Classifier, payments *verify.PaymentVerifier, ownership *verify.OwnershipVerifier, events Events, logger *slog.Logger) *Service {
	return &Service{
		cache:      cache,
		classifier: classifier,
		payments:   payments,
		ownership:  ownership,
		events:     events,
		logger:     logger,
	}
}

// Analyze redacts the statement text, classifies it, caches the detail and
// returns the unlock-safe summary. The raw text never outlives this call.
func (s *Service) Analyze(ctx context.Context, text string) (report.Summary, error) {
	ctx, span := traces.StartSpan(ctx, "unlock.Analyze")
	defer span.End()

	detail, err := s.classifier.Classify(ctx, redact.Redact(text))
	if err != nil {
		metrics.ClassificationFailuresTotal.WithLabelValues(classificationFailureReason(err)).Inc()
		return report.Summary{}, err
	}

	id := s.cache.Put(detail)
	metrics.ReportsCreatedTotal.Inc()
	metrics.CachedReports.Set(float64(s.cache.Len()))
	if s.events != nil {
		s.events.ReportCreated(len(detail.Subscriptions), detail.TotalAnnualWaste, detail.CurrencyCode)
	}

	s.logger.Info("report created",
		"reportId", id,
		"subscriptions", len(detail.Subscriptions),
		"currency", detail.CurrencyCode,
	)
	return report.Summarize(id, detail), nil
}

// Unlock validates the proof and, on success, returns the cached detail. The
// cache entry stays live until its TTL; a valid proof may be presented again.
func (s *Service) Unlock(ctx context.Context, reportID string, proof Proof) (*report.Detail, error) {
	ctx, span := traces.StartSpan(ctx, "unlock.Unlock",
		traces.ReportID(reportID),
		traces.UnlockMethod(proof.Method),
	)
	defer span.End()

	detail, ok := s.cache.Get(reportID)
	if !ok {
		metrics.UnlockFailuresTotal.WithLabelValues("report_not_found").Inc()
		return nil, ErrReportNotFound
	}

	var err error
	switch proof.Method {
	case MethodPayment:
		if proof.TxHash == "" || proof.ChainID == 0 {
			return nil, fmt.Errorf("%w: payment proof needs txHash and chainId", ErrInvalidProof)
		}
		err = s.payments.Verify(ctx, proof.ChainID, proof.TxHash)
	case MethodNFT:
		if proof.Address == "" || proof.Signature == "" {
			return nil, fmt.Errorf("%w: nft proof needs address and signature", ErrInvalidProof)
		}
		err = s.ownership.Verify(ctx, verify.UnlockMessage(reportID), proof.Signature, proof.Address)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidProof, proof.Method)
	}

	if err != nil {
		metrics.UnlockFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		s.logger.Warn("unlock rejected", "reportId", reportID, "method", proof.Method, "error", err)
		return nil, err
	}

	metrics.ReportsUnlockedTotal.WithLabelValues(proof.Method).Inc()
	if s.events != nil {
		s.events.ReportUnlocked(reportID, proof.Method)
	}
	s.logger.Info("report unlocked", "reportId", reportID, "method", proof.Method)
	return detail, nil
}

func classificationFailureReason(err error) string {
	var notStatement *classifier.NotStatementError
	switch {
	case errors.Is(err, classifier.ErrTooShort):
		return "too_short"
	case errors.Is(err, classifier.ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, classifier.ErrMalformedResponse):
		return "malformed_response"
	case errors.As(err, &notStatement):
		return "not_a_statement"
	default:
		return "other"
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, verify.ErrNotConfirmed):
		return "not_confirmed"
	case errors.Is(err, verify.ErrPaymentNotFound):
		return "payment_not_found"
	case errors.Is(err, verify.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, verify.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "other"
	}
}

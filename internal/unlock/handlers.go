package unlock

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/forgetsubs/forgetsubs/internal/chains"
	"github.com/forgetsubs/forgetsubs/internal/classifier"
	"github.com/forgetsubs/forgetsubs/internal/extract"
	"github.com/forgetsubs/forgetsubs/internal/logging"
	"github.com/forgetsubs/forgetsubs/internal/validation"
	"github.com/forgetsubs/forgetsubs/internal/verify"
)

// Handler provides the analyze and unlock HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new unlock handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the analyze/unlock routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.POST("/unlock-report", h.UnlockReport)
}

type analyzeTextRequest struct {
	Text string `json:"text"`
}

// Analyze handles POST /api/analyze. Statements arrive either as multipart
// "files" uploads or as a JSON body with a text field.
func (h *Handler) Analyze(c *gin.Context) {
	log := logging.L(c.Request.Context())

	text, ok := h.statementText(c)
	if !ok {
		return
	}

	summary, err := h.service.Analyze(c.Request.Context(), text)
	if err != nil {
		var notStatement *classifier.NotStatementError
		switch {
		case errors.Is(err, classifier.ErrTooShort):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "text_too_short",
				"message": "Statement text is too short to analyze",
			})
		case errors.As(err, &notStatement):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "not_a_statement",
				"message": notStatement.Reason,
			})
		case errors.Is(err, classifier.ErrServiceUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "service_unavailable",
				"message": "AI service unavailable",
			})
		case errors.Is(err, classifier.ErrMalformedResponse):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "invalid_ai_response",
				"message": "Invalid AI response format",
			})
		default:
			log.Error("analysis failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "analysis_failed",
				"message": "Internal server error",
			})
		}
		return
	}

	c.JSON(http.StatusOK, summary)
}

// statementText collects the statement text from the request. Returns false
// after writing an error response.
func (h *Handler) statementText(c *gin.Context) (string, bool) {
	log := logging.L(c.Request.Context())

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Malformed multipart upload",
			})
			return "", false
		}

		files := form.File["files"]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "no_files",
				"message": "No files uploaded",
			})
			return "", false
		}

		var sb strings.Builder
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_request",
					"message": "Could not read uploaded file",
				})
				return "", false
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_request",
					"message": "Could not read uploaded file",
				})
				return "", false
			}

			text, err := extract.Text(fh.Filename, data)
			if errors.Is(err, extract.ErrUnsupportedFormat) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "unsupported_file_type",
					"message": "Only PDF, TXT and CSV files are supported",
				})
				return "", false
			}
			if err != nil {
				// A single corrupt file must not sink the whole batch.
				log.Warn("file extraction failed", "file", fh.Filename, "error", err)
				sb.WriteString("[file parsing failed]\n\n")
				continue
			}
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
		return sb.String(), true
	}

	var req analyzeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_files",
			"message": "No files uploaded",
		})
		return "", false
	}
	return req.Text, true
}

type unlockRequest struct {
	ReportID  string `json:"reportId"`
	Method    string `json:"method"`
	TxHash    string `json:"txHash"`
	ChainID   int64  `json:"chainId"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// UnlockReport handles POST /api/unlock-report.
func (h *Handler) UnlockReport(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("reportId", req.ReportID),
		validation.Required("method", req.Method),
		validation.ValidTxHash("txHash", req.TxHash),
		validation.ValidAddress("address", req.Address),
		validation.ValidSignature("signature", req.Signature),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	detail, err := h.service.Unlock(c.Request.Context(), req.ReportID, Proof{
		Method:    req.Method,
		TxHash:    req.TxHash,
		ChainID:   req.ChainID,
		Address:   req.Address,
		Signature: req.Signature,
	})
	if err != nil {
		h.writeUnlockError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"detailedData": detail,
	})
}

func (h *Handler) writeUnlockError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrReportNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "report_not_found",
			"message": "Report expired or not found. Please re-upload.",
		})
	case errors.Is(err, ErrInvalidProof):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_proof",
			"message": err.Error(),
		})
	case errors.Is(err, chains.ErrUnsupportedChain):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unsupported_chain",
			"message": "Unsupported chain",
		})
	case errors.Is(err, verify.ErrNotConfirmed):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "transaction_not_confirmed",
			"message": "Transaction failed or not found",
		})
	case errors.Is(err, verify.ErrPaymentNotFound):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "payment_not_found",
			"message": "Payment not verified",
		})
	case errors.Is(err, verify.ErrSignatureMismatch):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "signature_mismatch",
			"message": "Signature does not match address",
		})
	case errors.Is(err, verify.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_balance",
			"message": "NFT balance below required minimum",
		})
	default:
		logging.L(c.Request.Context()).Error("unlock failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "unlock_failed",
			"message": "Verification failed",
		})
	}
}

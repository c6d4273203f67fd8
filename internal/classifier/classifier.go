// Package classifier wraps the LLM call that turns redacted statement text
// into a structured subscription report.
//
// Privacy contract: the input text is sent to the classification service and
// nothing else. It is never logged or persisted here.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgetsubs/forgetsubs/internal/report"
)

const (
	// MinTextLength is the shortest input worth sending to the service.
	MinTextLength = 100

	// MaxTextLength caps what we send downstream.
	MaxTextLength = 100000

	// requestTimeout bounds one completion call. Statement-sized prompts take
	// well under a minute; anything longer is a stuck connection.
	requestTimeout = 60 * time.Second
)

var (
	// ErrTooShort means the extracted text is too small to be a statement.
	ErrTooShort = errors.New("classifier: text too short to analyze")

	// ErrServiceUnavailable means the classification service could not be
	// reached or returned no usable completion.
	ErrServiceUnavailable = errors.New("classifier: service unavailable")

	// ErrMalformedResponse means the service answered with something that is
	// not the expected JSON shape.
	ErrMalformedResponse = errors.New("classifier: malformed service response")
)

// NotStatementError is returned when the service explicitly rejects the input
// as not being a recognizable financial statement.
type NotStatementError struct {
	Reason string
}

func (e *NotStatementError) Error() string {
	return "classifier: not a bank statement: " + e.Reason
}

// Client is the subset of the chat-completion API the classifier needs.
// Satisfied by *openai.Client.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Classifier sends redacted statement text to the LLM and parses the result.
type Classifier struct {
	client Client
	model  string
	logger *slog.Logger
}

// New creates a classifier backed by an OpenAI-compatible endpoint. baseURL
// may be empty for the default endpoint.
func New(apiKey, model, baseURL string, logger *slog.Logger) *Classifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewWithClient(openai.NewClientWithConfig(cfg), model, logger)
}

// NewWithClient creates a classifier with an injected client. Used in tests.
func NewWithClient(client Client, model string, logger *slog.Logger) *Classifier {
	return &Classifier{client: client, model: model, logger: logger}
}

// serviceResponse is the raw JSON shape the model is instructed to produce.
// Either error is set, or the statement fields are.
type serviceResponse struct {
	Error            string                `json:"error"`
	IsBankStatement  bool                  `json:"isBankStatement"`
	CurrencyCode     string                `json:"currencyCode"`
	CurrencySymbol   string                `json:"currencySymbol"`
	Subscriptions    []report.Subscription `json:"subscriptions"`
	TotalAnnualWaste float64               `json:"totalAnnualWaste"`
}

// Classify sends the text to the service and returns the structured detail.
// Inputs at or under MinTextLength fail fast with ErrTooShort and never leave
// the process.
func (c *Classifier) Classify(ctx context.Context, text string) (*report.Detail, error) {
	if len(text) <= MinTextLength {
		return nil, ErrTooShort
	}

	if len(text) > MaxTextLength {
		text = text[:MaxTextLength] + "\n... [truncated for safety/cost]"
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a strict financial data auditor for international bank statements. Output ONLY valid JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(text),
			},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("classification call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrServiceUnavailable)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	var parsed serviceResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		c.logger.Warn("classification response did not parse", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if parsed.Error != "" {
		return nil, &NotStatementError{Reason: parsed.Error}
	}
	if !parsed.IsBankStatement {
		return nil, &NotStatementError{Reason: "statement markers missing"}
	}

	detail := &report.Detail{
		CurrencyCode:     parsed.CurrencyCode,
		CurrencySymbol:   parsed.CurrencySymbol,
		Subscriptions:    parsed.Subscriptions,
		TotalAnnualWaste: parsed.TotalAnnualWaste,
	}
	if detail.Subscriptions == nil {
		detail.Subscriptions = []report.Subscription{}
	}
	return detail, nil
}

const promptFormat = `You are a strict financial data auditor for international bank statements.
Output ONLY valid JSON - no explanations, no markdown.

First, detect if this is a valid bank/credit card statement (has bank name, dates, transaction table with descriptions/amounts, balances, etc.).

If NOT valid or no meaningful transactions:
{"error": "Not a valid bank statement: [very brief reason]"}

If valid, output:
{
  "isBankStatement": true,
  "currencyCode": "USD/EUR/GBP/INR/AED/RUB/CNY/KRW/...",
  "currencySymbol": "$/EUR/GBP/INR symbol/...",
  "subscriptions": [
    {
      "name": "Normalized service name (Netflix, Spotify, YouTube Premium, Disney+, etc.)",
      "monthlyAmount": number,
      "totalPaid": number,
      "paidMonths": integer,
      "annualCost": number,
      "lastDate": "YYYY-MM-DD or date string",
      "cancelUrl": "official URL or null"
    }
  ],
  "totalAnnualWaste": number
}

Rules:
- Detect recurring consumer subscriptions (streaming, software, cloud, news, gym, etc.)
- Include if repeats (same/similar desc + amount) or single known subscription merchant
- Ignore one-offs, transfers, salary, utilities, rent, taxes, groceries, fuel
- Normalize names (e.g., "GOOGLE*YOUTUBE" -> "YouTube Premium")
- Use common cancel URLs (Netflix, Spotify, Disney+, YouTube, Apple, Adobe, etc.)
- Calculate annualCost = monthlyAmount x 12 (or adjust if clearly different period)
- totalAnnualWaste = sum of annualCost

Text:
%s`

func buildPrompt(text string) string {
	return fmt.Sprintf(promptFormat, text)
}

// Package redact strips PII from statement text before it crosses any trust
// boundary (the classification call, logs, persisted artifacts).
//
// The transform is pure and deterministic. Substitution order matters:
// placeholders contain no digits or '@', so later patterns never re-match an
// earlier placeholder and the whole transform is idempotent on its own output.
// Transaction lines (merchant names, amounts, dates) are deliberately left
// untouched.
package redact

import "regexp"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// rules run in order. Account numbers go first so long digit runs are
// consumed before the looser phone pattern sees them.
var rules = []rule{
	// Account/IBAN numbers (8-20 digits, grouped or continuous)
	{regexp.MustCompile(`\b(?:\d{4}[ -]?){2,5}\d{4}\b|\b\d{8,20}\b`), "[REDACTED_ACCOUNT]"},

	// Names after common banking labels
	{regexp.MustCompile(`(?i)(Account Holder|Customer Name|Name|Holder|Client|Titular|Beneficiary|Payee|Welcome|Dear|To|From|Full Name|Nominee|Authorized)\s*[:\s=]+[A-Za-zÀ-ÿ\s'-]{3,40}`), "${1}: [REDACTED_NAME]"},

	// Addresses after address-related labels
	{regexp.MustCompile(`(?i)(Address|Residence|Home Address|Mailing Address|Billing Address|Registered Address|My Address|Correspondence)\s*[:\s=]+[^\n\r]{10,120}`), "${1}: [REDACTED_ADDRESS]"},

	// Phones, international formats. Amounts like "185.88" survive because
	// the pattern needs three trailing digit groups.
	{regexp.MustCompile(`(\+?\d{1,4}[-.\s]?)?(\(?\d{2,5}\)?[-.\s]?\d{3,5}[-.\s]?\d{3,6})`), "[REDACTED_PHONE]"},

	// Emails
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},

	// Credit/debit cards (13-19 digits in groups of four)
	{regexp.MustCompile(`\b(?:\d{4}[ -]?){3,4}\d{3,4}\b`), "[REDACTED_CARD]"},

	// Selective national IDs
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`[A-Z]{5}\d{4}[A-Z]`), "[REDACTED_PAN]"},
}

// Redact applies every rule in order and returns the scrubbed text.
// It never fails; unmatched text passes through unchanged.
func Redact(text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}

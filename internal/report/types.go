// Package report holds the classification result types and the short-lived
// in-memory cache that gates access to the detailed report.
package report

// Subscription is one detected recurring charge.
type Subscription struct {
	Name          string  `json:"name"`
	MonthlyAmount float64 `json:"monthlyAmount"`
	TotalPaid     float64 `json:"totalPaid"`
	PaidMonths    int     `json:"paidMonths"`
	AnnualCost    float64 `json:"annualCost"`
	LastDate      string  `json:"lastDate"`
	CancelURL     string  `json:"cancelUrl,omitempty"`
}

// Detail is the full classification payload. It lives only in the report
// cache until unlocked or expired.
type Detail struct {
	CurrencyCode     string         `json:"currencyCode"`
	CurrencySymbol   string         `json:"currencySymbol"`
	Subscriptions    []Subscription `json:"subscriptions"`
	TotalAnnualWaste float64        `json:"totalAnnualWaste"`
}

// Summary is what the caller gets at analysis time. It carries aggregate
// numbers only; the per-charge list stays behind the unlock gate.
type Summary struct {
	ReportID          string  `json:"reportId"`
	CurrencyCode      string  `json:"currencyCode"`
	CurrencySymbol    string  `json:"currencySymbol"`
	SubscriptionCount int     `json:"subscriptionCount"`
	TotalAnnualWaste  float64 `json:"totalAnnualWaste"`
}

// Summarize projects a Detail down to its unlock-safe summary.
func Summarize(id string, d *Detail) Summary {
	return Summary{
		ReportID:          id,
		CurrencyCode:      d.CurrencyCode,
		CurrencySymbol:    d.CurrencySymbol,
		SubscriptionCount: len(d.Subscriptions),
		TotalAnnualWaste:  d.TotalAnnualWaste,
	}
}

package domain

// ScreenRule is an operator-defined screening rule: a CEL expression
// evaluated against each transaction during a scan. A matching transaction
// emits an alert for its account in the configured category and severity.
type ScreenRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is a CEL boolean expression over transaction variables:
	// amount, abs_amount, tx_type, memo, account_id, is_outflow.
	Expression string `json:"expression"`

	// Category and Severity of the alerts this rule emits.
	Category Category `json:"category"`
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`
}

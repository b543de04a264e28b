package fee

// Status is the canonical settlement status stored on records and history entries.
type Status string

const (
	StatusPaid   Status = "Paid"
	StatusUnpaid Status = "Unpaid"

	// DisplayPartial is never stored: history views derive it from an outstanding balance.
	DisplayPartial = "Partial"
)

// Balance is the outcome of the balance computation for one settlement.
type Balance struct {
	TotalDue   int64  `json:"total_due"`
	BalanceDue int64  `json:"balance_due"`
	Status     Status `json:"status"`
	// Excess is the part of the payment above the total due. It is reported, never carried forward.
	Excess int64 `json:"-"`
}

// ComputeBalance derives total due, balance due and status. It is total over its domain;
// keeping the inputs non-negative is the caller's job.
func ComputeBalance(monthlyFee, otherCharges, paidAmount, previousDue int64) Balance {
	total := monthlyFee + otherCharges + previousDue
	bal := Balance{TotalDue: total, BalanceDue: total - paidAmount}
	if bal.BalanceDue < 0 {
		bal.Excess = -bal.BalanceDue
		bal.BalanceDue = 0
	}
	bal.Status = StatusUnpaid
	if bal.BalanceDue == 0 {
		bal.Status = StatusPaid
	}
	return bal
}

// DisplayStatus is the receipt-history label: "Paid" or "Partial".
func DisplayStatus(balanceDue int64) string {
	if balanceDue <= 0 {
		return string(StatusPaid)
	}
	return DisplayPartial
}

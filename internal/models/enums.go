package models

// Workspace separates otherwise identical data sets of one user
// (real money vs. a sandbox the user can play with).
type Workspace string

const (
	WorkspaceProduction Workspace = "production"
	WorkspaceTest       Workspace = "test"
)

func (w Workspace) Valid() bool {
	return w == WorkspaceProduction || w == WorkspaceTest
}

// TransactionType is the kind of a plain monetary event.
type TransactionType string

const (
	TransactionIncome   TransactionType = "income"
	TransactionExpense  TransactionType = "expense"
	TransactionTransfer TransactionType = "transfer"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionIncome, TransactionExpense, TransactionTransfer:
		return true
	}
	return false
}

// LifecycleStatus is the soft-delete state of a row, independent of its business status.
type LifecycleStatus string

const (
	LifecycleActive   LifecycleStatus = "active"
	LifecycleDeleting LifecycleStatus = "deleting"
)

// DebtDirection tells who owes whom.
type DebtDirection string

const (
	DebtIOwe    DebtDirection = "i_owe"
	DebtTheyOwe DebtDirection = "they_owe"
)

func (d DebtDirection) Valid() bool {
	return d == DebtIOwe || d == DebtTheyOwe
}

type DebtStatus string

const (
	DebtPending DebtStatus = "pending"
	DebtPartial DebtStatus = "partial"
	DebtPaid    DebtStatus = "paid"
)

type SplitStatus string

const (
	SplitPending SplitStatus = "pending"
	SplitPartial SplitStatus = "partial"
	SplitSettled SplitStatus = "settled"
)

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

func (t TradeType) Valid() bool {
	return t == TradeBuy || t == TradeSell
}

// ObligationStatus is the state of a credit or mortgage.
type ObligationStatus string

const (
	ObligationActive  ObligationStatus = "active"
	ObligationPaidOff ObligationStatus = "paid_off"
)

// ObligationKind selects between the two month-keyed recurring obligations.
type ObligationKind string

const (
	ObligationCredit   ObligationKind = "credit"
	ObligationMortgage ObligationKind = "mortgage"
)

func (k ObligationKind) Valid() bool {
	return k == ObligationCredit || k == ObligationMortgage
}

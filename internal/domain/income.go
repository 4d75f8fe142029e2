package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IncomeType classifies an account income record.
type IncomeType string

const (
	IncomeTypeRealizedPnl      IncomeType = "REALIZED_PNL"
	IncomeTypeFundingFee       IncomeType = "FUNDING_FEE"
	IncomeTypeCommission       IncomeType = "COMMISSION"
	IncomeTypeCommissionRebate IncomeType = "COMMISSION_REBATE"
	IncomeTypeTransfer         IncomeType = "TRANSFER"
	IncomeTypeInsuranceClear   IncomeType = "INSURANCE_CLEAR"
)

// IncomeRecord is a single income ledger entry, immutable once created.
type IncomeRecord struct {
	Type          IncomeType
	Symbol        string
	Amount        decimal.Decimal
	Asset         string
	Time          time.Time
	TransactionID int64
}

package gateway

import (
	"strings"
	"time"

	"github.com/terryso/binance-dashboard/internal/domain"
)

// Wire shapes of the futures account endpoints. All monetary fields arrive
// as decimal strings and are parsed strictly: a malformed field is a
// ProtocolError, not a silent zero.

type accountResponse struct {
	TotalWalletBalance string         `json:"totalWalletBalance"`
	AvailableBalance   string         `json:"availableBalance"`
	TotalMarginBalance string         `json:"totalMarginBalance"`
	TotalUnrealized    string         `json:"totalUnrealizedProfit"`
	TotalMaintMargin   string         `json:"totalMaintMargin"`
	Assets             []accountAsset `json:"assets"`
}

type accountAsset struct {
	Asset            string `json:"asset"`
	WalletBalance    string `json:"walletBalance"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	MarginBalance    string `json:"marginBalance"`
	MaintMargin      string `json:"maintMargin"`
	AvailableBalance string `json:"availableBalance"`
}

func (r accountResponse) toDomain(fetchedAt time.Time) (domain.AccountSnapshot, error) {
	snap := domain.AccountSnapshot{FetchedAt: fetchedAt}

	var err error
	if snap.WalletBalance, err = decimalField("totalWalletBalance", r.TotalWalletBalance); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if snap.AvailableBalance, err = decimalField("availableBalance", r.AvailableBalance); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if snap.MarginBalance, err = decimalField("totalMarginBalance", r.TotalMarginBalance); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if snap.UnrealizedPnl, err = decimalField("totalUnrealizedProfit", r.TotalUnrealized); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if snap.MaintMargin, err = decimalField("totalMaintMargin", r.TotalMaintMargin); err != nil {
		return domain.AccountSnapshot{}, err
	}

	for _, a := range r.Assets {
		bal := domain.AssetBalance{Asset: a.Asset}
		if bal.WalletBalance, err = decimalField("walletBalance", a.WalletBalance); err != nil {
			return domain.AccountSnapshot{}, err
		}
		if bal.UnrealizedPnl, err = decimalField("unrealizedProfit", a.UnrealizedProfit); err != nil {
			return domain.AccountSnapshot{}, err
		}
		if bal.MarginBalance, err = decimalField("marginBalance", a.MarginBalance); err != nil {
			return domain.AccountSnapshot{}, err
		}
		if bal.MaintMargin, err = decimalField("maintMargin", a.MaintMargin); err != nil {
			return domain.AccountSnapshot{}, err
		}
		if bal.AvailableBalance, err = decimalField("availableBalance", a.AvailableBalance); err != nil {
			return domain.AccountSnapshot{}, err
		}
		if bal.WalletBalance.IsZero() && bal.UnrealizedPnl.IsZero() {
			continue
		}
		snap.Assets = append(snap.Assets, bal)
	}

	return snap, nil
}

type positionRiskEntry struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
	PositionSide     string `json:"positionSide"`
	Notional         string `json:"notional"`
	UpdateTime       int64  `json:"updateTime"`
}

// toDomain converts a position row; keep is false for zero-size rows,
// which are pruned rather than kept as zero entries.
func (e positionRiskEntry) toDomain() (domain.Position, bool, error) {
	amount, err := decimalField("positionAmt", e.PositionAmt)
	if err != nil {
		return domain.Position{}, false, err
	}
	if amount.IsZero() {
		return domain.Position{}, false, nil
	}

	p := domain.Position{
		Symbol:    e.Symbol,
		Amount:    amount,
		UpdatedAt: time.UnixMilli(e.UpdateTime),
	}

	switch strings.ToUpper(e.PositionSide) {
	case "LONG":
		p.Side = domain.PositionSideLong
	case "SHORT":
		p.Side = domain.PositionSideShort
	default:
		// One-way mode reports BOTH; the sign of the amount decides.
		if amount.IsNegative() {
			p.Side = domain.PositionSideShort
		} else {
			p.Side = domain.PositionSideLong
		}
	}

	if strings.EqualFold(e.MarginType, "isolated") {
		p.MarginMode = domain.MarginModeIsolated
	} else {
		p.MarginMode = domain.MarginModeCross
	}

	if p.EntryPrice, err = decimalField("entryPrice", e.EntryPrice); err != nil {
		return domain.Position{}, false, err
	}
	if p.MarkPrice, err = decimalField("markPrice", e.MarkPrice); err != nil {
		return domain.Position{}, false, err
	}
	if p.UnrealizedPnl, err = decimalField("unRealizedProfit", e.UnrealizedProfit); err != nil {
		return domain.Position{}, false, err
	}
	if p.LiquidationPrice, err = decimalField("liquidationPrice", e.LiquidationPrice); err != nil {
		return domain.Position{}, false, err
	}
	if p.Leverage, err = decimalField("leverage", e.Leverage); err != nil {
		return domain.Position{}, false, err
	}

	notional, err := decimalField("notional", e.Notional)
	if err != nil {
		return domain.Position{}, false, err
	}
	p.Notional = notional.Abs()
	if p.Notional.IsZero() {
		p.Notional = p.MarkPrice.Mul(amount.Abs())
	}

	return p, true, nil
}

type tradeEntry struct {
	ID              int64  `json:"id"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	RealizedPnl     string `json:"realizedPnl"`
	Time            int64  `json:"time"`
}

func (e tradeEntry) toDomain() (domain.Trade, error) {
	t := domain.Trade{
		ID:              e.ID,
		Symbol:          e.Symbol,
		Side:            e.Side,
		CommissionAsset: e.CommissionAsset,
		Time:            time.UnixMilli(e.Time),
	}

	var err error
	if t.Price, err = decimalField("price", e.Price); err != nil {
		return domain.Trade{}, err
	}
	if t.Quantity, err = decimalField("qty", e.Qty); err != nil {
		return domain.Trade{}, err
	}
	if t.QuoteQuantity, err = decimalField("quoteQty", e.QuoteQty); err != nil {
		return domain.Trade{}, err
	}
	if t.Commission, err = decimalField("commission", e.Commission); err != nil {
		return domain.Trade{}, err
	}
	if t.RealizedPnl, err = decimalField("realizedPnl", e.RealizedPnl); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

type incomeEntry struct {
	Symbol     string `json:"symbol"`
	IncomeType string `json:"incomeType"`
	Income     string `json:"income"`
	Asset      string `json:"asset"`
	Time       int64  `json:"time"`
	TranID     int64  `json:"tranId"`
}

func (e incomeEntry) toDomain() (domain.IncomeRecord, error) {
	amount, err := decimalField("income", e.Income)
	if err != nil {
		return domain.IncomeRecord{}, err
	}
	return domain.IncomeRecord{
		Type:          domain.IncomeType(e.IncomeType),
		Symbol:        e.Symbol,
		Amount:        amount,
		Asset:         e.Asset,
		Time:          time.UnixMilli(e.Time),
		TransactionID: e.TranID,
	}, nil
}

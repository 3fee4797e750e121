// Package models defines data structures for SmartFund
package models

import (
	"errors"
	"time"
)

// Sentinel errors shared across services and the HTTP layer.
var (
	ErrFundNotFound       = errors.New("fund not found")
	ErrFundExists         = errors.New("fund already tracked")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrNoProfitHistory    = errors.New("no profit history")
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotConfigured      = errors.New("not configured")
)

// TxType is the direction of a transaction.
type TxType string

const (
	TxBuy  TxType = "BUY"
	TxSell TxType = "SELL"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == TxBuy || t == TxSell
}

// Transaction is an immutable buy or sell record. Amount is the cash value
// involved (fee-inclusive for buys), Shares the units transacted and NAV the
// per-unit price used.
type Transaction struct {
	ID     string  `json:"id"`
	Type   TxType  `json:"type"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Amount float64 `json:"amount"`
	Shares float64 `json:"shares"`
	NAV    float64 `json:"nav"`
	Fee    float64 `json:"fee"`
}

// Position is a holder's state in one fund. Transactions are kept in
// insertion order, which need not be date order.
type Position struct {
	Shares         float64       `json:"shares"`
	CostBasis      float64       `json:"costBasis"`
	RealizedProfit float64       `json:"realizedProfit"`
	Transactions   []Transaction `json:"transactions"`
}

// Clone returns a copy that shares no backing arrays with p.
func (p Position) Clone() Position {
	out := p
	if p.Transactions != nil {
		out.Transactions = make([]Transaction, len(p.Transactions))
		copy(out.Transactions, p.Transactions)
	}
	return out
}

// Quote is the latest valuation snapshot for a fund. It is overwritten on
// every successful refresh and retained unchanged when a refresh fails.
type Quote struct {
	LastNAV                float64   `json:"lastNav"`
	LastNAVDate            string    `json:"lastNavDate"`
	EstimatedNAV           float64   `json:"estimatedNav"`
	EstimatedChangePercent float64   `json:"estimatedChangePercent"`
	EstimateTime           string    `json:"estimateTime,omitempty"`
	Source                 string    `json:"source,omitempty"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Fund is a tracked fund: identity, latest quote, position and decoration.
type Fund struct {
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Group     string      `json:"group,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
	Watchlist bool        `json:"watchlist"` // no active holding
	Quote     *Quote      `json:"quote,omitempty"`
	Position  Position    `json:"position"`
	Detail    *FundDetail `json:"detail,omitempty"`
}

// Clone returns a deep copy suitable for handing out as a snapshot.
func (f Fund) Clone() Fund {
	out := f
	out.Position = f.Position.Clone()
	if f.Tags != nil {
		out.Tags = append([]string(nil), f.Tags...)
	}
	if f.Quote != nil {
		q := *f.Quote
		out.Quote = &q
	}
	if f.Detail != nil {
		d := *f.Detail
		d.Holdings = append([]Holding(nil), f.Detail.Holdings...)
		d.Managers = append([]string(nil), f.Detail.Managers...)
		out.Detail = &d
	}
	return out
}

// Group is a user-defined grouping of funds for display.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FundSummary is the valuation of one fund at its latest quote.
type FundSummary struct {
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Shares          float64 `json:"shares"`
	CostBasis       float64 `json:"costBasis"`
	MarketValue     float64 `json:"marketValue"`
	EstimatedProfit float64 `json:"estimatedProfit"`
	HoldingProfit   float64 `json:"holdingProfit"`
	RealizedProfit  float64 `json:"realizedProfit"`
	ChangePercent   float64 `json:"changePercent"`
	Source          string  `json:"source,omitempty"`
	Stale           bool    `json:"stale"`
}

// PortfolioSummary aggregates FundSummary rows over held funds.
type PortfolioSummary struct {
	Phase                string        `json:"phase"`
	Funds                []FundSummary `json:"funds"`
	TotalMarketValue     float64       `json:"totalMarketValue"`
	TotalEstimatedProfit float64       `json:"totalEstimatedProfit"`
	TotalHoldingProfit   float64       `json:"totalHoldingProfit"`
	TotalRealizedProfit  float64       `json:"totalRealizedProfit"`
}

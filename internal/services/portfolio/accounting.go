package portfolio

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

// ApplyTransaction returns pos with tx applied. pos is never modified.
//
// BUY blends tx.Amount into a weighted-average cost basis. SELL clamps
// shares at zero, keeps the per-share cost of what remains, resets it when
// the position closes and books (tx.NAV - cost) * tx.Shares - tx.Fee as
// realized profit. tx is appended to the log in both cases.
//
// A negative share count or unknown type is a caller defect and panics;
// use NormalizeTransaction first.
func ApplyTransaction(pos models.Position, tx models.Transaction) models.Position {
	if tx.Shares < 0 || math.IsNaN(tx.Shares) {
		panic(fmt.Sprintf("portfolio: transaction %s has invalid share count %v", tx.ID, tx.Shares))
	}

	next := pos.Clone()

	switch tx.Type {
	case models.TxBuy:
		next.Shares = pos.Shares + tx.Shares
		if next.Shares > 0 {
			next.CostBasis = (pos.Shares*pos.CostBasis + tx.Amount) / next.Shares
		} else {
			next.CostBasis = 0
		}
	case models.TxSell:
		next.Shares = math.Max(0, pos.Shares-tx.Shares)
		if next.Shares <= 0 {
			next.CostBasis = 0
		}
		next.RealizedProfit = pos.RealizedProfit + (tx.NAV-pos.CostBasis)*tx.Shares - tx.Fee
	default:
		panic(fmt.Sprintf("portfolio: transaction %s has unknown type %q", tx.ID, tx.Type))
	}

	next.Transactions = append(next.Transactions, tx)
	return next
}

// NormalizeTransaction validates a submitted transaction and fills derived
// fields: an ID, today's date when none is given, shares from amount/NAV
// for amount-denominated buys, and amount from shares*NAV when omitted.
// Errors wrap models.ErrInvalidTransaction.
func NormalizeTransaction(tx models.Transaction, today time.Time) (models.Transaction, error) {
	tx.Type = models.TxType(strings.ToUpper(strings.TrimSpace(string(tx.Type))))
	if !tx.Type.Valid() {
		return tx, fmt.Errorf("%w: type must be BUY or SELL", models.ErrInvalidTransaction)
	}

	for name, v := range map[string]float64{"amount": tx.Amount, "shares": tx.Shares, "nav": tx.NAV, "fee": tx.Fee} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return tx, fmt.Errorf("%w: %s is not a finite number", models.ErrInvalidTransaction, name)
		}
		if v < 0 {
			return tx, fmt.Errorf("%w: %s must not be negative", models.ErrInvalidTransaction, name)
		}
	}

	if tx.Date == "" {
		tx.Date = today.Format(common.DateLayout)
	} else {
		d, ok := common.NormalizeDate(tx.Date)
		if !ok {
			return tx, fmt.Errorf("%w: date %q is not YYYY-MM-DD", models.ErrInvalidTransaction, tx.Date)
		}
		tx.Date = d
	}

	switch {
	case tx.Shares == 0 && tx.Amount > 0 && tx.NAV > 0:
		net := tx.Amount
		if tx.Type == models.TxBuy {
			net -= tx.Fee
		}
		if net <= 0 {
			return tx, fmt.Errorf("%w: fee exceeds amount", models.ErrInvalidTransaction)
		}
		tx.Shares = net / tx.NAV
	case tx.Amount == 0 && tx.Shares > 0 && tx.NAV > 0:
		tx.Amount = tx.Shares * tx.NAV
		if tx.Type == models.TxBuy {
			tx.Amount += tx.Fee
		} else {
			tx.Amount -= tx.Fee
		}
	}

	if tx.Shares <= 0 {
		return tx, fmt.Errorf("%w: shares must be positive", models.ErrInvalidTransaction)
	}
	if tx.Type == models.TxSell && tx.NAV <= 0 {
		return tx, fmt.Errorf("%w: sell requires a positive nav", models.ErrInvalidTransaction)
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	return tx, nil
}

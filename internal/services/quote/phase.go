package quote

import (
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

// Session boundaries in minutes past midnight, China Standard Time.
const (
	callAuctionStart = 9*60 + 25
	lunchStart       = 11*60 + 30
	lunchEnd         = 13 * 60
	sessionClose     = 15 * 60
)

// MarketPhase classifies t into an A-share trading session phase. Exchange
// holidays are not modelled; they read as an ordinary weekday.
func MarketPhase(t time.Time) models.MarketPhase {
	cst := common.InChina(t)
	switch cst.Weekday() {
	case time.Saturday, time.Sunday:
		return models.PhaseClosed
	}

	hour, min, sec := cst.Clock()
	minuteOfDay := hour*60 + min

	switch {
	case minuteOfDay < callAuctionStart:
		return models.PhasePreMarket
	case minuteOfDay >= lunchStart && minuteOfDay < lunchEnd:
		return models.PhaseLunchBreak
	case minuteOfDay < sessionClose || (minuteOfDay == sessionClose && sec == 0 && cst.Nanosecond() == 0):
		return models.PhaseMarket
	default:
		return models.PhasePostMarket
	}
}

// IsTradingDay reports whether t falls on a weekday in China.
func IsTradingDay(t time.Time) bool {
	wd := common.InChina(t).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

package models

import "time"

// MarketPhase is the A-share trading session phase in China Standard Time.
type MarketPhase string

const (
	PhaseClosed     MarketPhase = "CLOSED"
	PhasePreMarket  MarketPhase = "PRE_MARKET"
	PhaseMarket     MarketPhase = "MARKET"
	PhaseLunchBreak MarketPhase = "LUNCH_BREAK"
	PhasePostMarket MarketPhase = "POST_MARKET"
)

// Estimate source tags, from most to least authoritative.
const (
	SourceOfficial      = "LV1_OFFICIAL"
	SourceOfficialClose = "LV1_OFFICIAL_CLOSE"
	SourceProxyPrefix   = "LV2_PROXY_"
	SourceHoldings      = "LV3_HOLDINGS"
	SourceNone          = "LV4_NONE"
)

// Estimate is a parsed realtime estimate for one fund. Zero values mean the
// field was absent upstream.
type Estimate struct {
	Code                   string  `json:"code"`
	Name                   string  `json:"name"`
	LastNAV                float64 `json:"lastNav"`
	LastNAVDate            string  `json:"lastNavDate"`
	EstimatedNAV           float64 `json:"estimatedNav"`
	EstimatedChangePercent float64 `json:"estimatedChangePercent"`
	EstimateTime           string  `json:"estimateTime,omitempty"`
	Source                 string  `json:"source"`
}

// Available reports whether the estimate carries a usable NAV.
func (e *Estimate) Available() bool {
	return e != nil && e.LastNAV > 0 && e.Source != SourceNone
}

// ToQuote converts the estimate into a Quote stamped at now.
func (e *Estimate) ToQuote(now time.Time) Quote {
	est := e.EstimatedNAV
	if est <= 0 {
		est = e.LastNAV
	}
	return Quote{
		LastNAV:                e.LastNAV,
		LastNAVDate:            e.LastNAVDate,
		EstimatedNAV:           est,
		EstimatedChangePercent: e.EstimatedChangePercent,
		EstimateTime:           e.EstimateTime,
		Source:                 e.Source,
		UpdatedAt:              now,
	}
}

// HistoryPoint is one confirmed daily NAV.
type HistoryPoint struct {
	Date string  `json:"date"` // YYYY-MM-DD
	NAV  float64 `json:"value"`
}

// FundListing is one row of the searchable fund universe.
type FundListing struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Pinyin string `json:"pinyin"`
}

// Holding is a disclosed top position of a fund.
type Holding struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Percent float64 `json:"percent"` // of net assets
}

// FundDetail is decorative fund metadata.
type FundDetail struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Managers  []string  `json:"managers,omitempty"`
	Holdings  []Holding `json:"holdings"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IndexQuote is a market index or sector snapshot.
type IndexQuote struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Price         float64 `json:"value"`
	ChangePercent float64 `json:"changePercent"`
}

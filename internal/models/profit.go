package models

// ProfitView selects the aggregation granularity of a profit calendar.
type ProfitView string

const (
	ProfitViewDay   ProfitView = "day"
	ProfitViewWeek  ProfitView = "week"
	ProfitViewMonth ProfitView = "month"
	ProfitViewYear  ProfitView = "year"
)

// ParseProfitView maps a query value onto a view, defaulting to day.
func ParseProfitView(s string) ProfitView {
	switch ProfitView(s) {
	case ProfitViewWeek, ProfitViewMonth, ProfitViewYear:
		return ProfitView(s)
	default:
		return ProfitViewDay
	}
}

// ProfitBucket is one aggregated period, oldest first in a calendar.
type ProfitBucket struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ProfitCalendar is the aggregated daily P&L for a view. Current equals the
// value of the last bucket.
type ProfitCalendar struct {
	View    ProfitView     `json:"view"`
	Buckets []ProfitBucket `json:"buckets"`
	Current float64        `json:"current"`
	Funds   int            `json:"funds"`
	Days    int            `json:"days"`
}

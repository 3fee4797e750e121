package models

// BacktestAllocation is a static amount invested in one fund.
type BacktestAllocation struct {
	Code   string  `json:"code" validate:"required,min=1"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

// BacktestRequest describes a buy-and-hold simulation.
type BacktestRequest struct {
	Allocations   []BacktestAllocation `json:"portfolio" validate:"required,min=1,dive"`
	DurationYears int                  `json:"durationYears" validate:"gte=1,lte=20"`
}

// BacktestPoint is the total portfolio value on one timeline date.
type BacktestPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// BacktestFund records how one allocation entered the simulation.
type BacktestFund struct {
	Code          string  `json:"code"`
	Amount        float64 `json:"amount"`
	FirstDate     string  `json:"firstDate,omitempty"`
	FirstNAV      float64 `json:"firstNav,omitempty"`
	InitialShares float64 `json:"initialShares"`
	Points        int     `json:"points"`
}

// BacktestResult carries the value series and headline metrics. Percentages
// and FinalValue are rounded to 2 decimal places.
type BacktestResult struct {
	TotalReturn      float64         `json:"totalReturn"`
	AnnualizedReturn float64         `json:"annualizedReturn"`
	MaxDrawdown      float64         `json:"maxDrawdown"`
	StartValue       float64         `json:"startValue"`
	FinalValue       float64         `json:"finalValue"`
	StartDate        string          `json:"startDate,omitempty"`
	EndDate          string          `json:"endDate,omitempty"`
	InsufficientData bool            `json:"insufficientData"`
	Points           []BacktestPoint `json:"points"`
	Funds            []BacktestFund  `json:"funds"`
	Notes            []string        `json:"notes,omitempty"`
}

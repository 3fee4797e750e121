package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

var jsonpPattern = regexp.MustCompile(`jsonpgz\((.*?)\);`)

// estimateResponse is the fundgz JSONP payload. Every field arrives as a string.
type estimateResponse struct {
	FundCode string      `json:"fundcode"`
	Name     string      `json:"name"`
	NAVDate  string      `json:"jzrq"`
	NAV      flexFloat64 `json:"dwjz"`
	Estimate flexFloat64 `json:"gsz"`
	Change   flexFloat64 `json:"gszzl"`
	Time     string      `json:"gztime"`
}

// FetchEstimate retrieves the official intraday estimate for a fund.
// Funds fundgz does not cover return a wrapped models.ErrNotFound.
func (c *Client) FetchEstimate(ctx context.Context, code string) (*models.Estimate, error) {
	reqURL := fmt.Sprintf("%s/js/gszzl_%s.js?rt=%d", c.estimateURL, code, time.Now().UnixMilli())

	body, err := c.get(ctx, endpointEstimate, reqURL)
	if err != nil {
		return nil, err
	}

	est, err := parseEstimate(body)
	if err != nil {
		return nil, fmt.Errorf("estimate %s: %w", code, err)
	}
	if est.Code == "" {
		est.Code = code
	}
	return est, nil
}

func parseEstimate(body []byte) (*models.Estimate, error) {
	m := jsonpPattern.FindSubmatch(body)
	if m == nil || len(m[1]) == 0 {
		return nil, models.ErrNotFound
	}

	var raw estimateResponse
	if err := json.Unmarshal(m[1], &raw); err != nil {
		return nil, fmt.Errorf("failed to decode estimate: %w", err)
	}

	date, _ := common.NormalizeDate(raw.NAVDate)
	return &models.Estimate{
		Code:                   raw.FundCode,
		Name:                   raw.Name,
		LastNAV:                float64(raw.NAV),
		LastNAVDate:            date,
		EstimatedNAV:           float64(raw.Estimate),
		EstimatedChangePercent: float64(raw.Change),
		EstimateTime:           raw.Time,
		Source:                 models.SourceOfficial,
	}, nil
}

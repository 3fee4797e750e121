package eastmoney

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

// netWorthPoint is one entry of Data_netWorthTrend; x is a Unix millisecond
// timestamp at midnight China time.
type netWorthPoint struct {
	X int64       `json:"x"`
	Y flexFloat64 `json:"y"`
}

type fundManager struct {
	Name string `json:"name"`
}

func (c *Client) fetchPingzhong(ctx context.Context, code string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/pingzhongdata/%s.js?v=%s", c.fundURL, code, time.Now().Format("20060102150405"))
	return c.get(ctx, endpointFund, reqURL)
}

// FetchHistory retrieves confirmed daily NAVs in ascending date order
func (c *Client) FetchHistory(ctx context.Context, code string) ([]models.HistoryPoint, error) {
	body, err := c.fetchPingzhong(ctx, code)
	if err != nil {
		return nil, err
	}

	points, err := parseHistory(body)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", code, err)
	}

	c.logger.Debug().Str("code", code).Int("points", len(points)).Msg("Fetched NAV history")
	return points, nil
}

func parseHistory(body []byte) ([]models.HistoryPoint, error) {
	var trend []netWorthPoint
	if err := extractJSVar(body, "Data_netWorthTrend", &trend); err != nil {
		return nil, err
	}

	points := make([]models.HistoryPoint, 0, len(trend))
	for _, p := range trend {
		if p.X <= 0 || p.Y <= 0 {
			continue
		}
		points = append(points, models.HistoryPoint{
			Date: time.UnixMilli(p.X).In(common.ChinaTZ).Format(common.DateLayout),
			NAV:  float64(p.Y),
		})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

// FetchProfile retrieves the fund name and current managers
func (c *Client) FetchProfile(ctx context.Context, code string) (*models.FundDetail, error) {
	body, err := c.fetchPingzhong(ctx, code)
	if err != nil {
		return nil, err
	}

	detail, err := parseProfile(body)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", code, err)
	}
	detail.Code = code
	return detail, nil
}

func parseProfile(body []byte) (*models.FundDetail, error) {
	detail := &models.FundDetail{}
	if err := extractJSVar(body, "fS_name", &detail.Name); err != nil {
		return nil, err
	}

	// Managers are decorative; a missing block is not an error
	var managers []fundManager
	if err := extractJSVar(body, "Data_currentFundManager", &managers); err == nil {
		for _, m := range managers {
			if m.Name != "" {
				detail.Managers = append(detail.Managers, m.Name)
			}
		}
	}
	return detail, nil
}

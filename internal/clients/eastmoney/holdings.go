package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/bobmcallan/smartfund/internal/models"
)

// maxHoldings is the number of disclosed positions kept per fund
const maxHoldings = 10

type holdingsResponse struct {
	Datas *struct {
		FundStocks []struct {
			Code    string      `json:"GPDM"`
			Name    string      `json:"GPJC"`
			Percent flexFloat64 `json:"JZBL"`
		} `json:"fundStocks"`
	} `json:"Datas"`
	ErrCode int    `json:"ErrCode"`
	ErrMsg  string `json:"ErrMsg"`
}

// FetchHoldings retrieves the disclosed top stock positions of a fund.
// Bond and money funds legitimately have none.
func (c *Client) FetchHoldings(ctx context.Context, code string) ([]models.Holding, error) {
	params := url.Values{}
	params.Set("FCODE", code)
	params.Set("deviceid", "Wap")
	params.Set("plat", "Wap")
	params.Set("product", "EFund")
	params.Set("version", "2.0.0")
	reqURL := fmt.Sprintf("%s/FundMNewApi/FundMNInverstPosition?%s", c.mobileURL, params.Encode())

	body, err := c.get(ctx, endpointMobile, reqURL)
	if err != nil {
		return nil, err
	}

	holdings, err := parseHoldings(body)
	if err != nil {
		return nil, fmt.Errorf("holdings %s: %w", code, err)
	}
	return holdings, nil
}

func parseHoldings(body []byte) ([]models.Holding, error) {
	var resp holdingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode holdings: %w", err)
	}
	if resp.ErrCode != 0 {
		return nil, fmt.Errorf("upstream error %d: %s", resp.ErrCode, resp.ErrMsg)
	}

	holdings := []models.Holding{}
	if resp.Datas == nil {
		return holdings, nil
	}
	for _, s := range resp.Datas.FundStocks {
		if s.Code == "" {
			continue
		}
		holdings = append(holdings, models.Holding{Code: s.Code, Name: s.Name, Percent: float64(s.Percent)})
		if len(holdings) == maxHoldings {
			break
		}
	}
	return holdings, nil
}

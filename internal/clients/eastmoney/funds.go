package eastmoney

import (
	"context"
	"fmt"

	"github.com/bobmcallan/smartfund/internal/models"
)

// FetchFundList retrieves the full searchable fund universe. Each row of
// fundcode_search.js is [code, pinyin abbreviation, name, type, full pinyin].
func (c *Client) FetchFundList(ctx context.Context) ([]models.FundListing, error) {
	body, err := c.get(ctx, endpointFund, c.fundURL+"/js/fundcode_search.js")
	if err != nil {
		return nil, err
	}

	funds, err := parseFundList(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Int("funds", len(funds)).Msg("Fetched fund list")
	return funds, nil
}

func parseFundList(body []byte) ([]models.FundListing, error) {
	var rows [][]string
	if err := extractJSVar(trimBOM(body), "r", &rows); err != nil {
		return nil, fmt.Errorf("fund list: %w", err)
	}

	funds := make([]models.FundListing, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 || row[0] == "" {
			continue
		}
		funds = append(funds, models.FundListing{
			Code:   row[0],
			Pinyin: row[1],
			Name:   row[2],
			Type:   row[3],
		})
	}
	return funds, nil
}

package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobmcallan/smartfund/internal/models"
)

// quoteBatchSize is the number of secids sent per push2 request
const quoteBatchSize = 40

type ulistResponse struct {
	Data *struct {
		Diff []ulistItem `json:"diff"`
	} `json:"data"`
}

type ulistItem struct {
	Price  flexFloat64 `json:"f2"`
	Change flexFloat64 `json:"f3"`
	Code   flexString  `json:"f12"`
	Name   string      `json:"f14"`
}

// flexString accepts a JSON string or number; push2 sends codes either way.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	*s = flexString(strings.Trim(string(data), `"`))
	return nil
}

// SecID prefixes a security code with its exchange for push2: 1 for Shanghai
// (51/56/58 ETFs, 6 main board, 11 convertibles), 0 for Shenzhen and anything
// unrecognised.
func SecID(code string) string {
	switch {
	case hasAnyPrefix(code, "51", "56", "58", "6", "11"):
		return "1." + code
	default:
		return "0." + code
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (c *Client) fetchUlist(ctx context.Context, secids []string, fields string) ([]ulistItem, error) {
	reqURL := fmt.Sprintf("%s/api/qt/ulist.np/get?fltt=2&invt=2&fields=%s&secids=%s",
		c.quoteURL, fields, strings.Join(secids, ","))

	body, err := c.get(ctx, endpointQuote, reqURL)
	if err != nil {
		return nil, err
	}

	var resp ulistResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode quotes: %w", err)
	}
	if resp.Data == nil {
		return nil, nil
	}
	return resp.Data.Diff, nil
}

// FetchQuotes retrieves today's percent change for stocks and ETFs, keyed by
// code. Codes are de-duplicated and sent in batches; a failed batch is
// skipped. An error is returned only when every batch failed.
func (c *Client) FetchQuotes(ctx context.Context, codes []string) (map[string]float64, error) {
	quotes := make(map[string]float64, len(codes))
	if len(codes) == 0 {
		return quotes, nil
	}

	seen := make(map[string]bool, len(codes))
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		if code != "" && !seen[code] {
			seen[code] = true
			unique = append(unique, code)
		}
	}

	var lastErr error
	failed, batches := 0, 0
	for i := 0; i < len(unique); i += quoteBatchSize {
		end := min(i+quoteBatchSize, len(unique))
		secids := make([]string, 0, end-i)
		for _, code := range unique[i:end] {
			secids = append(secids, SecID(code))
		}

		batches++
		items, err := c.fetchUlist(ctx, secids, "f3,f12")
		if err != nil {
			failed++
			lastErr = err
			continue
		}
		for _, it := range items {
			quotes[string(it.Code)] = float64(it.Change)
		}
	}

	if batches > 0 && failed == batches {
		return nil, lastErr
	}
	return quotes, nil
}

// FetchIndices retrieves snapshots for market-prefixed security ids
func (c *Client) FetchIndices(ctx context.Context, secids []string) ([]models.IndexQuote, error) {
	if len(secids) == 0 {
		return []models.IndexQuote{}, nil
	}

	items, err := c.fetchUlist(ctx, secids, "f2,f3,f12,f14")
	if err != nil {
		return nil, err
	}

	out := make([]models.IndexQuote, 0, len(items))
	for _, it := range items {
		out = append(out, models.IndexQuote{
			Code:          string(it.Code),
			Name:          it.Name,
			Price:         float64(it.Price),
			ChangePercent: float64(it.Change),
		})
	}
	return out, nil
}

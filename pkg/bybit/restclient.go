package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// maxKlinesPerPage is the largest page /v5/market/kline serves.
const maxKlinesPerPage = 1000

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// get issues a GET against path and decodes the envelope's result into out.
func (c *RESTClient) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bybit error: status %d: %s", resp.StatusCode, body)
	}

	var rawResp BybitResponse
	if err := json.NewDecoder(resp.Body).Decode(&rawResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rawResp.RetCode != 0 {
		return fmt.Errorf("bybit error: retCode %d: %s", rawResp.RetCode, rawResp.RetMsg)
	}
	if err := json.Unmarshal(rawResp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// GetUSDTAltcoinSymbols fetches trading linear symbols quoted in USDT, one per base coin.
func (c *RESTClient) GetUSDTAltcoinSymbols(ctx context.Context) ([]string, error) {
	query := url.Values{"category": {"linear"}, "limit": {"1000"}}

	seen := map[string]bool{}
	var symbols []string
	for {
		var result InstrumentListResponse
		if err := c.get(ctx, "/v5/market/instruments-info", query, &result); err != nil {
			return nil, err
		}
		for _, s := range result.List {
			if s.QuoteCoin != "USDT" || seen[s.BaseCoin] {
				continue
			}
			if s.Status != "" && s.Status != "Trading" {
				continue
			}
			symbols = append(symbols, s.Symbol)
			seen[s.BaseCoin] = true
		}
		if result.NextPageCursor == "" {
			return symbols, nil
		}
		query.Set("cursor", result.NextPageCursor)
	}
}

// GetKlines fetches every kline of symbol between start and end, oldest
// first, paging backwards from end as the API does.
func (c *RESTClient) GetKlines(ctx context.Context, category, symbol, interval string,
	start, end time.Time) ([]Kline, error) {
	if _, err := ParseKlineInterval(interval); err != nil {
		return nil, err
	}

	var raw [][]string
	cursor := end.UnixMilli()
	for cursor >= start.UnixMilli() {
		query := url.Values{
			"category": {category},
			"symbol":   {symbol},
			"interval": {interval},
			"start":    {strconv.FormatInt(start.UnixMilli(), 10)},
			"end":      {strconv.FormatInt(cursor, 10)},
			"limit":    {strconv.Itoa(maxKlinesPerPage)},
		}
		var result KlinesResponse
		if err := c.get(ctx, "/v5/market/kline", query, &result); err != nil {
			return nil, fmt.Errorf("klines %s: %w", symbol, err)
		}
		raw = append(raw, result.List...)
		if len(result.List) < maxKlinesPerPage {
			break
		}

		// newest first: the last row is the oldest start in this page
		oldest, err := strconv.ParseInt(result.List[len(result.List)-1][0], 10, 64)
		if err != nil || oldest-1 >= cursor {
			break
		}
		cursor = oldest - 1
	}

	klines, err := ParseKlineList(interval, raw, c.now())
	if err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return dedupeKlines(klines), nil
}

// dedupeKlines drops repeated starts from an ordered slice.
func dedupeKlines(klines []Kline) []Kline {
	if len(klines) < 2 {
		return klines
	}
	out := klines[:1]
	for _, k := range klines[1:] {
		if k.Start != out[len(out)-1].Start {
			out = append(out, k)
		}
	}
	return out
}

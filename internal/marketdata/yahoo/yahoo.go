// Package yahoo implements model.BarSource over the public Yahoo Finance
// chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"marketscope/internal/marketdata/tfbuilder"
	"marketscope/internal/model"
)

// DefaultBaseURL is the chart endpoint root.
const DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// Source fetches bars and quotes from Yahoo Finance.
type Source struct {
	Client    *http.Client
	BaseURL   string
	SymbolMap map[string]string // internal symbol → Yahoo ticker
}

// New creates a Source. proxyURL may be empty.
func New(proxyURL string, timeout time.Duration) *Source {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Source{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		BaseURL: DefaultBaseURL,
		SymbolMap: map[string]string{
			"SPX":    "^GSPC",
			"SPX500": "^GSPC",
			"NDX":    "^NDX",
		},
	}
}

func (s *Source) yahooSymbol(symbol string) string {
	if mapped, ok := s.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// chartResponse is the subset of the chart API payload we read. Price arrays
// hold null for sessions without trades, hence interface{}.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func at(vals []interface{}, i int) float64 {
	if i >= len(vals) {
		return 0
	}
	return toFloat(vals[i])
}

type chart struct {
	bars      []model.Bar
	prevClose float64
}

func (s *Source) fetchChart(ctx context.Context, symbol, interval, rng string) (chart, error) {
	u := fmt.Sprintf("%s%s?interval=%s&range=%s",
		s.BaseURL, url.PathEscape(s.yahooSymbol(symbol)), interval, rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return chart{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		return chart{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return chart{}, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return chart{}, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, truncate(body, 256))
	}

	var cr chartResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return chart{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if cr.Chart.Error != nil {
		return chart{}, fmt.Errorf("yahoo api error: %s", cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return chart{}, nil
	}

	result := cr.Chart.Result[0]
	out := chart{prevClose: result.Meta.ChartPreviousClose}
	if out.prevClose == 0 {
		out.prevClose = result.Meta.PreviousClose
	}
	if len(result.Indicators.Quote) == 0 {
		return out, nil
	}
	q := result.Indicators.Quote[0]
	out.bars = make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if c == 0 {
			continue // null or zero close: no usable trade in this interval
		}
		out.bars = append(out.bars, model.Bar{
			TS:     time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: at(q.Volume, i),
		})
	}

	sort.Slice(out.bars, func(i, j int) bool { return out.bars[i].TS.Before(out.bars[j].TS) })
	out.bars = dedupe(out.bars)
	return out, nil
}

// Bars returns bars for symbol at tf using the timeframe's provider interval
// and lookback. 4h bars are aggregated from 1h bars.
func (s *Source) Bars(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidTimeframe, tf)
	}
	spec := tf.Spec()
	c, err := s.fetchChart(ctx, symbol, spec.ProviderInterval, spec.Lookback)
	if err != nil {
		return nil, err
	}
	if tf == model.TF4h {
		return tfbuilder.Resample(c.bars, spec.Interval), nil
	}
	return c.bars, nil
}

// Quote returns the latest one-minute bar as a quote, with change measured
// against the previous session close.
func (s *Source) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	c, err := s.fetchChart(ctx, symbol, "1m", "1d")
	if err != nil {
		return model.Quote{}, err
	}
	if len(c.bars) == 0 {
		return model.Quote{}, fmt.Errorf("yahoo: no price data for %s", symbol)
	}
	last := c.bars[len(c.bars)-1]
	prev := c.prevClose
	if prev == 0 {
		prev = last.Close
	}
	q := model.Quote{
		Symbol: symbol,
		Price:  last.Close,
		High:   last.High,
		Low:    last.Low,
		Volume: last.Volume,
		Change: last.Close - prev,
		TS:     last.TS,
	}
	if prev != 0 {
		q.ChangePct = q.Change / prev * 100
	}
	return q, nil
}

// dedupe drops bars sharing a timestamp with their predecessor, keeping the
// later one; the provider repeats the live bar at the end of intraday series.
func dedupe(bars []model.Bar) []model.Bar {
	if len(bars) < 2 {
		return bars
	}
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.TS.Equal(out[len(out)-1].TS) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

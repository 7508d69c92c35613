package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	binance "github.com/adshao/go-binance/v2"
)

// Each fetchX method returns a closure bound to this HTTPMarketData's
// http.Client and the specific external URL, matching the
// sourceEndpoint.fetch signature. A blank URL means "no provider
// configured": the closure returns an empty SourceRecord rather than an
// error, since an unconfigured source is not a failure.

func (m *HTTPMarketData) fetchWhale(url string) func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		if url == "" {
			return SourceRecord{}, nil
		}
		var body struct {
			LargestTxBTC float64 `json:"largestTxBtc"`
		}
		if err := getJSON(ctx, m.client, url, "", &body); err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{WhaleTxBTC: body.LargestTxBTC}, nil
	}
}

func (m *HTTPMarketData) fetchNarrative(url string) func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		if url == "" {
			return SourceRecord{}, nil
		}
		var body struct {
			Themes        []string `json:"themes"`
			BullishThemes int      `json:"bullishThemes"`
		}
		if err := getJSON(ctx, m.client, url, m.newsAPIKey, &body); err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{Themes: body.Themes, BullishThemes: body.BullishThemes}, nil
	}
}

func (m *HTTPMarketData) fetchArbitrage(secondVenueURL string) func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		stats, err := m.bnb.NewListPriceChangeStatsService().Symbol("BTCUSDT").Do(ctx)
		if err != nil || len(stats) == 0 {
			return SourceRecord{}, fmt.Errorf("binance leg: %w", err)
		}
		binancePrice, err := floatFromString(stats[0].LastPrice)
		if err != nil {
			return SourceRecord{}, err
		}

		if secondVenueURL == "" {
			return SourceRecord{SpreadPct: 0}, nil
		}
		var venue struct {
			Price float64 `json:"price"`
		}
		if err := getJSON(ctx, m.client, secondVenueURL, "", &venue); err != nil {
			return SourceRecord{}, err
		}
		if binancePrice == 0 {
			return SourceRecord{SpreadPct: 0}, nil
		}
		spread := (venue.Price - binancePrice) / binancePrice * 100
		return SourceRecord{SpreadPct: spread}, nil
	}
}

func (m *HTTPMarketData) fetchInfluencer(url string) func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		if url == "" {
			return SourceRecord{}, nil
		}
		var body struct {
			Mentions int `json:"mentions"`
		}
		if err := getJSON(ctx, m.client, url, m.newsAPIKey, &body); err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{InfluencerMentions: body.Mentions}, nil
	}
}

// fetchTechnical derives an RSI-like reading from Binance's public
// kline endpoint rather than calling a dedicated technical-analysis
// provider, since the pack ships no such client.
func (m *HTTPMarketData) fetchTechnical() func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		klines, err := m.bnb.NewKlinesService().Symbol("BTCUSDT").Interval("1h").Limit(15).Do(ctx)
		if err != nil {
			return SourceRecord{}, err
		}
		if len(klines) < 2 {
			return SourceRecord{}, fmt.Errorf("insufficient klines for RSI")
		}
		return SourceRecord{RSI: rsiFromKlines(klines)}, nil
	}
}

func (m *HTTPMarketData) fetchInstitutional(url string) func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		if url == "" {
			return SourceRecord{}, nil
		}
		var body struct {
			TotalHoldingsUsd float64 `json:"totalHoldingsUsd"`
		}
		if err := getJSON(ctx, m.client, url, "", &body); err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{TotalHoldingsUsd: body.TotalHoldingsUsd}, nil
	}
}

func (m *HTTPMarketData) fetchDerivative(url string) func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		if url == "" {
			return SourceRecord{}, nil
		}
		var body struct {
			FundingRatePct float64 `json:"fundingRatePct"`
		}
		if err := getJSON(ctx, m.client, url, m.derivativesAPIKey, &body); err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{FundingRatePct: body.FundingRatePct}, nil
	}
}

func (m *HTTPMarketData) fetchMacro(url string) func(ctx context.Context) (SourceRecord, error) {
	return func(ctx context.Context) (SourceRecord, error) {
		if url == "" {
			return SourceRecord{}, nil
		}
		var body struct {
			Value int `json:"value"`
		}
		if err := getJSON(ctx, m.client, url, "", &body); err != nil {
			return SourceRecord{}, err
		}
		return SourceRecord{FearGreed: body.Value}, nil
	}
}

func getJSON(ctx context.Context, client *http.Client, url, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func floatFromString(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

// rsiFromKlines computes a Wilder-style RSI over the closing prices of
// the given klines (oldest first, as the Binance klines service returns
// them).
func rsiFromKlines(klines []*binance.Kline) float64 {
	var gains, losses float64
	n := 0
	for i := 1; i < len(klines); i++ {
		prev, err1 := floatFromString(klines[i-1].Close)
		cur, err2 := floatFromString(klines[i].Close)
		if err1 != nil || err2 != nil {
			continue
		}
		delta := cur - prev
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
		n++
	}
	if n == 0 || losses == 0 {
		return 100
	}
	avgGain := gains / float64(n)
	avgLoss := losses / float64(n)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

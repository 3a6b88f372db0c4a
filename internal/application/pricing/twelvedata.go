package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"smartfolio-backend/internal/domain"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// TwelveData fetches quotes from the Twelve Data /quote endpoint, one request per batch.
type TwelveData struct {
	client *resty.Client
	apiKey string
}

func NewTwelveData(baseURL, apiKey string, timeout time.Duration) *TwelveData {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &TwelveData{client: client, apiKey: apiKey}
}

func (t *TwelveData) Name() string { return "twelvedata" }

type twelveDataQuote struct {
	Symbol        string `json:"symbol"`
	Close         string `json:"close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Code          int    `json:"code"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (q twelveDataQuote) failed() bool {
	return q.Code != 0 || q.Status == "error"
}

func (t *TwelveData) Lookup(ctx context.Context, symbols []string) (map[string]Quote, error) {
	symbols = Normalize(symbols)
	out := make(map[string]Quote)
	if len(symbols) == 0 {
		return out, nil
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": strings.Join(symbols, ","),
			"apikey": t.apiKey,
		}).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("%w: twelvedata: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: twelvedata: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode())
	}

	entries, err := decodeTwelveData(resp.Body(), symbols)
	if err != nil {
		return nil, fmt.Errorf("%w: twelvedata: %v", domain.ErrUpstreamUnavailable, err)
	}
	// A request-level failure (bad key, quota) comes back as one error object.
	for _, q := range entries {
		if q.failed() && q.Symbol == "" && len(entries) == 1 && q.Code != 400 && q.Code != 404 {
			return nil, fmt.Errorf("%w: twelvedata: %d %s", domain.ErrUpstreamUnavailable, q.Code, q.Message)
		}
	}

	for _, sym := range symbols {
		q, ok := entries[sym]
		if !ok || q.failed() {
			continue
		}
		price, err := decimal.NewFromString(q.Close)
		if err != nil {
			log.Warn().Str("symbol", sym).Str("close", q.Close).Msg("twelvedata: unparseable price")
			continue
		}
		change, _ := decimal.NewFromString(q.Change)
		pct, _ := decimal.NewFromString(q.PercentChange)
		out[sym] = Quote{
			Symbol:        sym,
			Price:         price.Round(4),
			Change:        change.Round(2),
			ChangePercent: pct.Round(2),
		}
	}
	return out, nil
}

// decodeTwelveData accepts both response shapes: a bare quote object for a single symbol and an
// object keyed by symbol for a batch.
func decodeTwelveData(body []byte, symbols []string) (map[string]twelveDataQuote, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	_, hasSymbol := raw["symbol"]
	_, hasCode := raw["code"]
	if len(symbols) == 1 || hasSymbol || hasCode {
		var q twelveDataQuote
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, err
		}
		key := strings.ToUpper(q.Symbol)
		if key == "" && len(symbols) == 1 {
			// error objects do not echo the symbol
			key = symbols[0]
		}
		return map[string]twelveDataQuote{key: q}, nil
	}

	out := make(map[string]twelveDataQuote, len(raw))
	for sym, msg := range raw {
		var q twelveDataQuote
		if err := json.Unmarshal(msg, &q); err != nil {
			continue
		}
		out[strings.ToUpper(sym)] = q
	}
	return out, nil
}

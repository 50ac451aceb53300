package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trading-signalv1/internal/model"
)

const (
	DefaultRESTURL = "https://api.binance.com"
	DefaultWSURL   = "wss://stream.binance.com:9443/ws"
)

// BinanceInterval maps a timeframe to a kline interval. Only 1m and 5m are
// requested as such; any other timeframe reads 1m klines.
func BinanceInterval(tf model.Timeframe) string {
	switch tf {
	case model.Timeframe5m:
		return "5m"
	default:
		return "1m"
	}
}

// klinesURL builds GET /api/v3/klines?symbol=&interval=&limit=.
func klinesURL(base, symbol string, tf model.Timeframe, limit int) string {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", BinanceInterval(tf))
	q.Set("limit", strconv.Itoa(limit))
	return strings.TrimRight(base, "/") + "/api/v3/klines?" + q.Encode()
}

// tickerURL is the per-symbol 24h ticker stream.
func tickerURL(base, symbol string) string {
	return strings.TrimRight(base, "/") + "/" + strings.ToLower(symbol) + "@ticker"
}

// fetchKlines downloads and decodes klines. Each kline is an array:
// [openTime, open, high, low, close, volume, closeTime, ...] with prices
// encoded as strings.
func fetchKlines(ctx context.Context, client *http.Client, u string) ([]model.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("klines request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines fetch: HTTP %d", resp.StatusCode)
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("klines decode: %w", err)
	}
	return parseKlines(rows)
}

func parseKlines(rows [][]json.RawMessage) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		var f [5]float64
		for j := 0; j < 5; j++ {
			v, err := decimal(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			f[j] = v
		}
		out = append(out, model.Candle{
			Time:   time.UnixMilli(openMs).UTC(),
			Open:   f[0],
			High:   f[1],
			Low:    f[2],
			Close:  f[3],
			Volume: f[4],
		})
	}
	return out, nil
}

// decimal parses a price that may be a JSON string or a JSON number.
func decimal(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// decodeTicker reads the last price ("c") of a 24h ticker event.
func decodeTicker(raw []byte) (float64, bool, error) {
	var ev struct {
		Close json.RawMessage `json:"c"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return 0, false, err
	}
	if len(ev.Close) == 0 {
		return 0, false, nil
	}
	p, err := decimal(ev.Close)
	if err != nil {
		return 0, false, err
	}
	return p, true, nil
}

// tickFeedDecoder reads the demo tick server's {instrument, price, ts}
// messages and keeps only the wanted instrument.
func tickFeedDecoder(instrument string) Decoder {
	return func(raw []byte) (float64, bool, error) {
		var t model.Tick
		if err := json.Unmarshal(raw, &t); err != nil {
			return 0, false, err
		}
		if t.Instrument != instrument {
			return 0, false, nil
		}
		return t.Price, true, nil
	}
}

package model

import "strings"

// OTCSuffix marks instruments without a public live feed. They are served by
// the simulated market data source.
const OTCSuffix = "_otc"

// Instrument is a selectable market in the instrument catalogue.
type Instrument struct {
	Symbol string `json:"symbol" yaml:"symbol" validate:"required"`
	Name   string `json:"name" yaml:"name"`
}

// OTC reports whether the instrument is served by the simulated source.
func (i *Instrument) OTC() bool { return IsOTC(i.Symbol) }

// IsOTC reports whether symbol carries the OTC flag.
func IsOTC(symbol string) bool {
	return strings.HasSuffix(symbol, OTCSuffix)
}

// PriceDecimals is the number of decimals presentation should use for a
// symbol's price.
func PriceDecimals(symbol string) int {
	for _, ccy := range []string{"JPY", "INR", "BDT"} {
		if strings.Contains(symbol, ccy) {
			return 3
		}
	}
	return 5
}

// BasePrice returns the anchor price used to simulate an OTC instrument.
func BasePrice(symbol string) float64 {
	switch {
	case strings.Contains(symbol, "INR"):
		return 83.4820
	case strings.Contains(symbol, "BDT"):
		return 117.4530
	case strings.Contains(symbol, "PKR"):
		return 278.2500
	case strings.Contains(symbol, "BRL"):
		return 5.2410
	case strings.Contains(symbol, "JPY"):
		return 156.7800
	default:
		return 1.0845 // EUR/USD
	}
}

// DefaultInstruments is the built-in catalogue: two live crypto pairs and a
// set of OTC currency pairs.
func DefaultInstruments() []Instrument {
	return []Instrument{
		{Symbol: "BTCUSDT", Name: "BTC/USDT (LIVE)"},
		{Symbol: "ETHUSDT", Name: "ETH/USDT (LIVE)"},
		{Symbol: "USDINR_otc", Name: "USD/INR OTC (HIGH)"},
		{Symbol: "USDBDT_otc", Name: "USD/BDT OTC (STABLE)"},
		{Symbol: "USDPKR_otc", Name: "USD/PKR OTC (VOLATILE)"},
		{Symbol: "USDBRL_otc", Name: "USD/BRL OTC (TREND)"},
		{Symbol: "EURUSD_otc", Name: "EUR/USD OTC (CORE)"},
		{Symbol: "GBPJPY_otc", Name: "GBP/JPY OTC (FAST)"},
	}
}

package advisory

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the technical snapshot as the natural-language prompt
// sent to the advisory service.
func BuildPrompt(req Request) string {
	s := req.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "Act as a Senior Institutional Trader. Analyze this %s (%s) data:\n", req.Instrument, req.Timeframe)
	fmt.Fprintf(&b, "- Trend: %s\n", s.Trend)
	fmt.Fprintf(&b, "- RSI: %.2f (%s)\n", s.RSI, s.PriceStatus())
	fmt.Fprintf(&b, "- MACD Histogram: %.5f\n", s.MACD.Histogram)
	fmt.Fprintf(&b, "- BB Position: Price is at %.5f (Upper: %.5f, Lower: %.5f)\n", s.Bollinger.Mid, s.Bollinger.Upper, s.Bollinger.Lower)
	fmt.Fprintf(&b, "- Momentum: %.4f\n\n", s.Momentum)
	b.WriteString("Strategy: Use Price Action + RSI Rejection + MACD Cross.\n")
	b.WriteString("If RSI is > 70 and MACD Hist is decreasing near BB Upper, suggest PUT.\n")
	b.WriteString("If RSI is < 30 and MACD Hist is increasing near BB Lower, suggest CALL.\n")
	b.WriteString(`Confidence must be 0-100. Only return JSON {direction: "CALL" | "PUT" | "WAIT", confidence: number, reasoning: string}.`)
	return b.String()
}

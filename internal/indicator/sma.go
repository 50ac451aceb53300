package indicator

import (
	"math"

	"trading-signalv1/internal/model"
)

// SMA returns the simple mean of the last period values of data.
// If data is shorter than period, the whole series is averaged.
func SMA(data []float64, period int) float64 {
	window := tail(data, period)
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// StdDev returns the population standard deviation of the last period
// values of data around mean.
func StdDev(data []float64, period int, mean float64) float64 {
	window := tail(data, period)
	if len(window) == 0 {
		return 0
	}
	sq := 0.0
	for _, v := range window {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(window)))
}

// Bollinger returns the mean ± width·σ envelope over the last period closes.
func Bollinger(closes []float64, period int, width float64) model.Bands {
	mid := SMA(closes, period)
	sd := StdDev(closes, period, mid)
	return model.Bands{
		Upper: mid + sd*width,
		Mid:   mid,
		Lower: mid - sd*width,
	}
}

func tail(data []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(data) <= n {
		return data
	}
	return data[len(data)-n:]
}

package indicator

import "math"

// SMA computes a simple moving average over period samples; positions
// before the first full window use whatever trailing samples are
// available, matching ValueVector.RollingMean's convention.
func SMA(values []float64, period int) []float64 {
	if period < 1 {
		period = 1
	}
	out := make([]float64, len(values))
	var running float64
	for i, x := range values {
		running += x
		if i >= period {
			running -= values[i-period]
		}
		window := period
		if i+1 < period {
			window = i + 1
		}
		out[i] = running / float64(window)
	}
	return out
}

// EMA computes an exponential moving average seeded by the SMA of the
// first period samples, then smoothed with alpha = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	if period < 1 {
		period = 1
	}
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	var seed float64
	seedWindow := period
	if seedWindow > len(values) {
		seedWindow = len(values)
	}
	for i := 0; i < seedWindow; i++ {
		seed += values[i]
	}
	seed /= float64(seedWindow)

	prev := seed
	for i, x := range values {
		if i == 0 {
			out[i] = seed
			continue
		}
		prev = alpha*x + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RSI computes the Relative Strength Index with Wilder smoothing: the
// first `period` average gain/loss is a plain mean, thereafter smoothed
// as avg = (avg*(period-1) + sample)/period. Values before the first full
// window are 0 (undefined).
func RSI(closes []float64, period int) []float64 {
	if period < 1 {
		period = 1
	}
	out := make([]float64, len(closes))
	if len(closes) < 2 {
		return out
	}

	var avgGain, avgLoss float64
	var gainSum, lossSum float64
	initialized := false

	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		if !initialized {
			gainSum += gain
			lossSum += loss
			if i >= period {
				avgGain = gainSum / float64(period)
				avgLoss = lossSum / float64(period)
				initialized = true
				out[i] = rsiFromAverages(avgGain, avgLoss)
			}
			continue
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes the Average True Range with the same Wilder smoothing RSI
// uses. True range at i is max(high-low, |high-prevClose|, |low-prevClose|).
func ATR(highs, lows, closes []float64, period int) []float64 {
	if period < 1 {
		period = 1
	}
	n := len(closes)
	out := make([]float64, n)
	if n < 2 {
		return out
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	var avg float64
	var sum float64
	initialized := false
	for i := 1; i < n; i++ {
		if !initialized {
			sum += tr[i]
			if i >= period {
				avg = sum / float64(period)
				initialized = true
				out[i] = avg
			}
			continue
		}
		avg = (avg*float64(period-1) + tr[i]) / float64(period)
		out[i] = avg
	}
	return out
}

// BollingerMid, BollingerUpper, BollingerLower share one computation: an
// SMA envelope plus/minus multiplier*stddev, both over the trailing
// `period` samples.
func bollinger(values []float64, period int) (mid, sd []float64) {
	mid = SMA(values, period)
	sd = make([]float64, len(values))
	for i := range values {
		window := period
		if i+1 < period {
			window = i + 1
		}
		start := i + 1 - window
		var sumSq float64
		for j := start; j <= i; j++ {
			d := values[j] - mid[i]
			sumSq += d * d
		}
		sd[i] = math.Sqrt(sumSq / float64(window))
	}
	return mid, sd
}

func BollingerMid(values []float64, period int) []float64 {
	mid, _ := bollinger(values, period)
	return mid
}

func BollingerUpper(values []float64, period int, mult float64) []float64 {
	mid, sd := bollinger(values, period)
	out := make([]float64, len(values))
	for i := range values {
		out[i] = mid[i] + mult*sd[i]
	}
	return out
}

func BollingerLower(values []float64, period int, mult float64) []float64 {
	mid, sd := bollinger(values, period)
	out := make([]float64, len(values))
	for i := range values {
		out[i] = mid[i] - mult*sd[i]
	}
	return out
}

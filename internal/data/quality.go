// Package data provides data quality validation for historical market data.
// Validates for missing sessions, extreme prices, volume anomalies, and OHLC consistency.
package data

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"go.uber.org/zap"
)

// DataQualityValidator checks historical data integrity.
type DataQualityValidator struct {
	logger *zap.Logger

	ExpectedTradingDaysPerYear int     // ~252 for stocks, ~365 for crypto
	MaxIntradayMove            float64 // max intraday price change (e.g. 0.30 for 30%)
	MaxGapMove                 float64 // max gap between bars (e.g. 0.20 for 20%)
	MinVolume                  float64 // minimum acceptable volume
	MaxVolumeMultiple          float64 // max multiple of average volume for spike detection
}

// DataIssue represents a data quality problem.
type DataIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // "critical", "high", "medium", "low"
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	Value     string    `json:"value,omitempty"`
	BarIndex  int       `json:"bar_index,omitempty"`
}

// QualityReport summarizes data quality assessment.
type QualityReport struct {
	Symbol       string      `json:"symbol"`
	TotalBars    int         `json:"total_bars"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"quality_score"` // 0-100
	IsUsable     bool        `json:"is_usable"`

	MissingDataCount   int `json:"missing_data_count"`
	PriceAnomalyCount  int `json:"price_anomaly_count"`
	VolumeAnomalyCount int `json:"volume_anomaly_count"`
	OHLCErrorCount     int `json:"ohlc_error_count"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Duration  string    `json:"duration"`

	Recommendations []string `json:"recommendations"`
}

// NewDataQualityValidator creates a validator with default settings for crypto.
func NewDataQualityValidator(logger *zap.Logger) *DataQualityValidator {
	return &DataQualityValidator{
		logger:                     logger,
		ExpectedTradingDaysPerYear: 365,
		MaxIntradayMove:            0.30,
		MaxGapMove:                 0.20,
		MinVolume:                  100,
		MaxVolumeMultiple:          20.0,
	}
}

// NewStockDataQualityValidator creates a validator with stock market defaults.
func NewStockDataQualityValidator(logger *zap.Logger) *DataQualityValidator {
	return &DataQualityValidator{
		logger:                     logger,
		ExpectedTradingDaysPerYear: 252,
		MaxIntradayMove:            0.20,
		MaxGapMove:                 0.15,
		MinVolume:                  1000,
		MaxVolumeMultiple:          10.0,
	}
}

// Validate runs all quality checks on a frame's bars.
func (dqv *DataQualityValidator) Validate(frame *types.QuoteFrame, symbol string) *QualityReport {
	bars := frame.Bars()
	if len(bars) == 0 {
		return &QualityReport{
			Symbol:       symbol,
			TotalBars:    0,
			Issues:       []DataIssue{{Type: "NO_DATA", Severity: "critical", Message: "No data provided"}},
			QualityScore: 0,
			IsUsable:     false,
		}
	}

	issues := make([]DataIssue, 0)
	issues = append(issues, dqv.checkMissingData(bars, symbol)...)
	issues = append(issues, dqv.checkPriceAnomalies(bars, symbol)...)
	issues = append(issues, dqv.checkVolumeAnomalies(bars, symbol)...)
	issues = append(issues, dqv.checkOHLCConsistency(bars, symbol)...)
	issues = append(issues, dqv.checkDuplicates(bars, symbol)...)
	issues = append(issues, dqv.checkChronologicalOrder(bars, symbol)...)

	missingCount := countIssuesByType(issues, "MISSING_DATA", "GAP_DETECTED")
	priceCount := countIssuesByType(issues, "NEGATIVE_PRICE", "EXTREME_MOVE", "GAP_MOVE", "ZERO_PRICE")
	volumeCount := countIssuesByType(issues, "ZERO_VOLUME", "LOW_VOLUME", "VOLUME_SPIKE")
	ohlcCount := countIssuesByType(issues, "OHLC_INCONSISTENT")

	score := dqv.calculateQualityScore(len(bars), issues)
	recommendations := dqv.generateRecommendations(issues, len(bars))

	start := time.UnixMilli(bars[0].TimestampMs)
	end := time.UnixMilli(bars[len(bars)-1].TimestampMs)

	return &QualityReport{
		Symbol:             symbol,
		TotalBars:          len(bars),
		Issues:             issues,
		QualityScore:       score,
		IsUsable:           score >= 70 && !dqv.hasCriticalIssues(issues),
		MissingDataCount:   missingCount,
		PriceAnomalyCount:  priceCount,
		VolumeAnomalyCount: volumeCount,
		OHLCErrorCount:     ohlcCount,
		StartDate:          start,
		EndDate:            end,
		Duration:           end.Sub(start).String(),
		Recommendations:    recommendations,
	}
}

// checkMissingData finds gaps in the time series.
func (dqv *DataQualityValidator) checkMissingData(bars []types.Quote, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)
	if len(bars) < 2 {
		return issues
	}

	intervals := make([]int64, 0, 10)
	for i := 1; i < len(bars) && i <= 10; i++ {
		intervals = append(intervals, bars[i].TimestampMs-bars[i-1].TimestampMs)
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	var expected int64
	if len(intervals) > 0 {
		expected = intervals[len(intervals)/2]
	}

	for i := 1; i < len(bars); i++ {
		actual := bars[i].TimestampMs - bars[i-1].TimestampMs
		maxInterval := expected + expected/2

		if actual > maxInterval*3 {
			severity := "high"
			if actual > maxInterval*10 {
				severity = "critical"
			}
			issues = append(issues, DataIssue{
				Type:      "GAP_DETECTED",
				Severity:  severity,
				Timestamp: time.UnixMilli(bars[i-1].TimestampMs),
				Symbol:    symbol,
				Message:   fmt.Sprintf("data gap detected: %dms (expected ~%dms)", actual, expected),
				Value:     fmt.Sprintf("%d", actual),
				BarIndex:  i - 1,
			})
		}
	}
	return issues
}

// checkPriceAnomalies finds extreme price moves and errors.
func (dqv *DataQualityValidator) checkPriceAnomalies(bars []types.Quote, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)

	for i, bar := range bars {
		if bar.Open == 0 || bar.High == 0 || bar.Low == 0 || bar.Close == 0 {
			issues = append(issues, DataIssue{
				Type: "ZERO_PRICE", Severity: "critical", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: "zero price detected", BarIndex: i,
			})
			continue
		}
		if bar.Open < 0 || bar.High < 0 || bar.Low < 0 || bar.Close < 0 {
			issues = append(issues, DataIssue{
				Type: "NEGATIVE_PRICE", Severity: "critical", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: "negative price detected", BarIndex: i,
			})
			continue
		}

		if bar.Low != 0 {
			intradayMove := (bar.High - bar.Low) / bar.Low
			if intradayMove > dqv.MaxIntradayMove {
				issues = append(issues, DataIssue{
					Type: "EXTREME_MOVE", Severity: "high", Timestamp: time.UnixMilli(bar.TimestampMs),
					Symbol: symbol, Message: fmt.Sprintf("extreme intraday move: %.2f%%", intradayMove*100),
					Value: fmt.Sprintf("%.4f", intradayMove), BarIndex: i,
				})
			}
		}

		if i > 0 {
			prevClose := bars[i-1].Close
			if prevClose != 0 {
				move := math.Abs((bar.Open - prevClose) / prevClose)
				if move > dqv.MaxGapMove {
					issues = append(issues, DataIssue{
						Type: "GAP_MOVE", Severity: "medium", Timestamp: time.UnixMilli(bar.TimestampMs),
						Symbol: symbol, Message: fmt.Sprintf("large price gap: %.2f%%", move*100),
						Value: fmt.Sprintf("%.4f", move), BarIndex: i,
					})
				}
			}
		}
	}
	return issues
}

// checkVolumeAnomalies finds suspicious volume patterns.
func (dqv *DataQualityValidator) checkVolumeAnomalies(bars []types.Quote, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)

	var totalVolume float64
	nonZeroCount := 0
	for _, bar := range bars {
		if bar.Volume > 0 {
			totalVolume += bar.Volume
			nonZeroCount++
		}
	}
	var avgVolume float64
	if nonZeroCount > 0 {
		avgVolume = totalVolume / float64(nonZeroCount)
	}

	for i, bar := range bars {
		if bar.Volume == 0 {
			issues = append(issues, DataIssue{
				Type: "ZERO_VOLUME", Severity: "low", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: "zero volume bar", BarIndex: i,
			})
			continue
		}
		if bar.Volume < dqv.MinVolume {
			issues = append(issues, DataIssue{
				Type: "LOW_VOLUME", Severity: "low", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: fmt.Sprintf("volume below threshold: %.2f", bar.Volume),
				Value: fmt.Sprintf("%.2f", bar.Volume), BarIndex: i,
			})
		}
		if avgVolume > 0 && bar.Volume > avgVolume*dqv.MaxVolumeMultiple {
			issues = append(issues, DataIssue{
				Type: "VOLUME_SPIKE", Severity: "low", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: fmt.Sprintf("volume spike: %.2f (%.1fx average)", bar.Volume, bar.Volume/avgVolume),
				Value: fmt.Sprintf("%.2f", bar.Volume), BarIndex: i,
			})
		}
	}
	return issues
}

// checkOHLCConsistency verifies High >= Open, Close, Low and Low <= Open, Close, High.
func (dqv *DataQualityValidator) checkOHLCConsistency(bars []types.Quote, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)

	for i, bar := range bars {
		if bar.High < bar.Open || bar.High < bar.Close || bar.High < bar.Low {
			issues = append(issues, DataIssue{
				Type: "OHLC_INCONSISTENT", Severity: "critical", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: fmt.Sprintf("high is not the highest price (O:%.4f H:%.4f L:%.4f C:%.4f)", bar.Open, bar.High, bar.Low, bar.Close),
				BarIndex: i,
			})
		}
		if bar.Low > bar.Open || bar.Low > bar.Close || bar.Low > bar.High {
			issues = append(issues, DataIssue{
				Type: "OHLC_INCONSISTENT", Severity: "critical", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: fmt.Sprintf("low is not the lowest price (O:%.4f H:%.4f L:%.4f C:%.4f)", bar.Open, bar.High, bar.Low, bar.Close),
				BarIndex: i,
			})
		}
	}
	return issues
}

// checkDuplicates finds duplicate timestamps.
func (dqv *DataQualityValidator) checkDuplicates(bars []types.Quote, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)
	seen := make(map[int64]int)

	for i, bar := range bars {
		if firstIdx, exists := seen[bar.TimestampMs]; exists {
			issues = append(issues, DataIssue{
				Type: "DUPLICATE_TIMESTAMP", Severity: "high", Timestamp: time.UnixMilli(bar.TimestampMs),
				Symbol: symbol, Message: fmt.Sprintf("duplicate timestamp (also at index %d)", firstIdx), BarIndex: i,
			})
		} else {
			seen[bar.TimestampMs] = i
		}
	}
	return issues
}

// checkChronologicalOrder ensures data is in ascending time order.
func (dqv *DataQualityValidator) checkChronologicalOrder(bars []types.Quote, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)
	for i := 1; i < len(bars); i++ {
		if bars[i].TimestampMs < bars[i-1].TimestampMs {
			issues = append(issues, DataIssue{
				Type: "OUT_OF_ORDER", Severity: "critical", Timestamp: time.UnixMilli(bars[i].TimestampMs),
				Symbol: symbol, Message: "bar is out of chronological order", BarIndex: i,
			})
		}
	}
	return issues
}

// calculateQualityScore returns a 0-100 score.
func (dqv *DataQualityValidator) calculateQualityScore(totalBars int, issues []DataIssue) int {
	if totalBars == 0 {
		return 0
	}

	penaltyPoints := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			penaltyPoints += 10.0
		case "high":
			penaltyPoints += 5.0
		case "medium":
			penaltyPoints += 2.0
		case "low":
			penaltyPoints += 0.5
		}
	}

	normalizedPenalty := penaltyPoints / math.Max(1, float64(totalBars)/100) * 10
	score := 100.0 - math.Min(normalizedPenalty, 100)
	return int(math.Max(0, math.Min(100, score)))
}

func (dqv *DataQualityValidator) hasCriticalIssues(issues []DataIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return true
		}
	}
	return false
}

// generateRecommendations creates actionable recommendations.
func (dqv *DataQualityValidator) generateRecommendations(issues []DataIssue, totalBars int) []string {
	recs := make([]string, 0)
	issueTypes := make(map[string]int)
	for _, issue := range issues {
		issueTypes[issue.Type]++
	}

	if issueTypes["GAP_DETECTED"] > 0 {
		recs = append(recs, "consider filling data gaps with interpolation or removing affected periods")
	}
	if issueTypes["OHLC_INCONSISTENT"] > 0 {
		recs = append(recs, "OHLC inconsistencies detected - verify data source integrity")
	}
	if issueTypes["EXTREME_MOVE"] > totalBars/100 {
		recs = append(recs, "many extreme price moves detected - consider filtering outliers or verifying data")
	}
	if issueTypes["ZERO_VOLUME"] > totalBars/10 {
		recs = append(recs, "high proportion of zero volume bars - consider a more liquid asset or coarser timeframe")
	}
	if issueTypes["DUPLICATE_TIMESTAMP"] > 0 {
		recs = append(recs, "remove duplicate timestamps before backtesting")
	}
	if issueTypes["OUT_OF_ORDER"] > 0 {
		recs = append(recs, "sort data by timestamp before use")
	}
	if len(recs) == 0 {
		recs = append(recs, "data quality is acceptable for backtesting")
	}
	return recs
}

func countIssuesByType(issues []DataIssue, types ...string) int {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	count := 0
	for _, issue := range issues {
		if typeSet[issue.Type] {
			count++
		}
	}
	return count
}

// CleanData removes or fixes common data issues, returning a new frame.
func (dqv *DataQualityValidator) CleanData(frame *types.QuoteFrame) *types.QuoteFrame {
	bars := append([]types.Quote(nil), frame.Bars()...)
	sort.Slice(bars, func(i, j int) bool { return bars[i].TimestampMs < bars[j].TimestampMs })

	cleaned := types.NewQuoteFrame(frame.Symbol, frame.Timeframe, 0)
	seen := make(map[int64]bool, len(bars))
	removed := 0

	for _, bar := range bars {
		if seen[bar.TimestampMs] {
			removed++
			continue
		}
		seen[bar.TimestampMs] = true

		if bar.High < bar.Low || bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			removed++
			continue
		}

		fixed := bar
		fixed.High = math.Max(bar.Open, math.Max(bar.High, bar.Close))
		fixed.Low = math.Min(bar.Open, math.Min(bar.Low, bar.Close))

		if err := cleaned.Push(fixed); err != nil {
			removed++
			continue
		}
	}

	dqv.logger.Info("data cleaning complete",
		zap.Int("original_bars", len(bars)),
		zap.Int("cleaned_bars", cleaned.Len()),
		zap.Int("removed", removed),
	)

	return cleaned
}

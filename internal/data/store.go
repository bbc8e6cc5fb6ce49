// Package data provides market data storage and loading.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atlas-quant/strategy-forge/pkg/types"
	"go.uber.org/zap"
)

// jsonBar is the on-disk representation of one OHLCV bar; TimestampMs keeps
// the wire format stable across time.Time's own JSON encoding.
type jsonBar struct {
	TimestampMs int64   `json:"timestampMs"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// Store provides access to historical market data and satisfies
// backtester.DataLoader, so an *Engine can be constructed directly against
// it.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string]*types.QuoteFrame
	symbols  []string
	metadata map[string]*SymbolMetadata
	rng      *rand.Rand
}

// SymbolMetadata contains metadata about available data for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Timeframe string    `json:"timeframe"`
}

// NewStore creates a new data store rooted at dataDir, creating it if
// necessary and loading any persisted symbol metadata.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string]*types.QuoteFrame),
		symbols:  make([]string, 0),
		metadata: make(map[string]*SymbolMetadata),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load metadata", zap.Error(err))
	}

	return store, nil
}

func cacheKey(symbol string, tf types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, tf.String())
}

// Load implements backtester.DataLoader: it returns the full cached or
// on-disk QuoteFrame for symbol/tf, trimmed to [start, end]. Missing data on
// disk falls back to synthetic bars rather than failing, so discovery and
// backtest runs work out of the box against an empty data directory.
func (s *Store) Load(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) (*types.QuoteFrame, error) {
	full, err := s.loadFull(symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	return sliceFrame(full, start, end), nil
}

// LoadOHLCV is the HTTP-facing equivalent of Load, returning plain Quote
// bars rather than a QuoteFrame, for JSON responses.
func (s *Store) LoadOHLCV(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Quote, error) {
	frame, err := s.Load(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	return append([]types.Quote(nil), frame.Bars()...), nil
}

func (s *Store) loadFull(symbol string, tf types.Timeframe, start, end time.Time) (*types.QuoteFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(symbol, tf)
	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	sym := types.NewSymbol(symbol)
	filename := filepath.Join(s.dataDir, key+".json")
	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("generating sample data", zap.String("symbol", symbol), zap.String("timeframe", tf.String()))
			frame := s.generateSampleFrame(sym, tf, start, end)
			s.cache[key] = frame
			return frame, nil
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []jsonBar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}

	frame := types.NewQuoteFrame(sym, tf, 0)
	for _, b := range bars {
		if err := frame.Push(types.Quote{
			Symbol: sym, Timeframe: tf, TimestampMs: b.TimestampMs,
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		}); err != nil {
			return nil, fmt.Errorf("malformed data file %s: %w", filename, err)
		}
	}

	s.cache[key] = frame
	return frame, nil
}

func sliceFrame(frame *types.QuoteFrame, start, end time.Time) *types.QuoteFrame {
	out := types.NewQuoteFrame(frame.Symbol, frame.Timeframe, 0)
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	for _, q := range frame.Bars() {
		if q.TimestampMs < startMs || q.TimestampMs > endMs {
			continue
		}
		_ = out.Push(q)
	}
	return out
}

// GetAvailableSymbols returns all symbols with persisted metadata.
func (s *Store) GetAvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, len(s.symbols))
	copy(symbols, s.symbols)
	return symbols
}

// GetDataRange returns the available data range for a symbol.
func (s *Store) GetDataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

// SaveQuoteFrame persists a frame to disk under its symbol/timeframe and
// refreshes the in-memory cache and metadata.
func (s *Store) SaveQuoteFrame(frame *types.QuoteFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bars := make([]jsonBar, frame.Len())
	for i, q := range frame.Bars() {
		bars[i] = jsonBar{TimestampMs: q.TimestampMs, Open: q.Open, High: q.High, Low: q.Low, Close: q.Close, Volume: q.Volume}
	}

	key := cacheKey(frame.Symbol.Code, frame.Timeframe)
	filename := filepath.Join(s.dataDir, key+".json")

	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.cache[key] = frame

	if frame.Len() > 0 {
		s.metadata[frame.Symbol.Code] = &SymbolMetadata{
			Symbol:    frame.Symbol.Code,
			StartDate: time.UnixMilli(frame.At(0).TimestampMs),
			EndDate:   time.UnixMilli(frame.At(frame.Len() - 1).TimestampMs),
			BarCount:  frame.Len(),
			Timeframe: frame.Timeframe.String(),
		}
		s.symbols = appendIfMissing(s.symbols, frame.Symbol.Code)
	}

	return s.saveMetadata()
}

func appendIfMissing(symbols []string, symbol string) []string {
	for _, s := range symbols {
		if s == symbol {
			return symbols
		}
	}
	return append(symbols, symbol)
}

// generateSampleFrame produces a deterministic-looking random walk so
// discovery/backtest requests against symbols with no persisted data still
// return something usable rather than an error.
func (s *Store) generateSampleFrame(symbol types.Symbol, tf types.Timeframe, start, end time.Time) *types.QuoteFrame {
	frame := types.NewQuoteFrame(symbol, tf, 0)

	price := basePriceFor(symbol.Code)
	stepMs := int64(tf.MinuteCount()) * 60_000
	if stepMs <= 0 {
		stepMs = 60_000
	}

	for ts := start.UnixMilli(); ts <= end.UnixMilli(); ts += stepMs {
		change := (s.rng.Float64() - 0.5) * 0.02 * price
		open := price
		price += change
		close := price
		high := math.Max(open, close) * (1 + s.rng.Float64()*0.005)
		low := math.Min(open, close) * (1 - s.rng.Float64()*0.005)
		volume := s.rng.Float64() * 1_000_000

		_ = frame.Push(types.Quote{
			Symbol: symbol, Timeframe: tf, TimestampMs: ts,
			Open: open, High: high, Low: low, Close: close, Volume: volume,
		})
	}

	return frame
}

func basePriceFor(symbol string) float64 {
	switch symbol {
	case "SOL/USDT", "SOLUSDT":
		return 100.0
	case "ETH/USDT", "ETHUSDT":
		return 2000.0
	case "BTC/USDT", "BTCUSDT":
		return 40000.0
	default:
		return 100.0
	}
}

func (s *Store) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	s.metadata = metadata

	s.symbols = make([]string, 0, len(metadata))
	for symbol := range metadata {
		s.symbols = append(s.symbols, symbol)
	}
	return nil
}

func (s *Store) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}

// ClearCache drops all cached frames.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*types.QuoteFrame)
}

// GetCacheSize returns the number of distinct symbol/timeframe frames held
// in memory.
func (s *Store) GetCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

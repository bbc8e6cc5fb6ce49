// Package data_test provides tests for the data store.
package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-forge/internal/data"
	"github.com/atlas-quant/strategy-forge/pkg/types"
	"go.uber.org/zap"
)

func TestDataStoreGeneratesSampleDataWhenMissing(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	end := time.Now()
	start := end.Add(-3 * time.Hour)

	frame, err := store.Load(context.Background(), "BTC/USDT", types.Hour1, start, end)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if frame.Len() == 0 {
		t.Fatal("expected generated sample bars, got none")
	}
}

func TestQuoteFrameStorageAndRetrieval(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	symbol := types.NewSymbol("TEST/USDT")
	tf := types.Hour1
	now := time.Now().Truncate(time.Hour)

	frame := types.NewQuoteFrame(symbol, tf, 0)
	for i, closePrice := range []float64{105, 110, 118} {
		bar := types.Quote{
			Symbol: symbol, Timeframe: tf,
			TimestampMs: now.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:        closePrice - 5, High: closePrice + 5, Low: closePrice - 10, Close: closePrice, Volume: 1000,
		}
		if err := frame.Push(bar); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	if err := store.SaveQuoteFrame(frame); err != nil {
		t.Fatalf("SaveQuoteFrame: %v", err)
	}

	symbols := store.GetAvailableSymbols()
	found := false
	for _, s := range symbols {
		if s == symbol.Code {
			found = true
		}
	}
	if !found {
		t.Errorf("symbol %s not found after saving", symbol.Code)
	}

	retrieved, err := store.Load(context.Background(), symbol.Code, tf, now.Add(-time.Hour), now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if retrieved.Len() != frame.Len() {
		t.Fatalf("retrieved %d bars, expected %d", retrieved.Len(), frame.Len())
	}
	for i := 0; i < frame.Len(); i++ {
		if retrieved.At(i).Close != frame.At(i).Close {
			t.Errorf("bar %d close mismatch: expected %v, got %v", i, frame.At(i).Close, retrieved.At(i).Close)
		}
	}
}

func TestLoadTimeRangeFiltering(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	symbol := types.NewSymbol("RANGE/USDT")
	tf := types.Hour1
	base := time.Now().Add(-10 * time.Hour).Truncate(time.Hour)

	frame := types.NewQuoteFrame(symbol, tf, 0)
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		_ = frame.Push(types.Quote{
			Symbol: symbol, Timeframe: tf, TimestampMs: ts.UnixMilli(),
			Open: 100 + float64(i), High: 105 + float64(i), Low: 95 + float64(i), Close: 102 + float64(i), Volume: 1000 * float64(i+1),
		})
	}
	if err := store.SaveQuoteFrame(frame); err != nil {
		t.Fatalf("SaveQuoteFrame: %v", err)
	}

	start := base.Add(3 * time.Hour)
	end := base.Add(7 * time.Hour)
	retrieved, err := store.Load(context.Background(), symbol.Code, tf, start, end)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if retrieved.Len() != 5 {
		t.Errorf("expected 5 bars in [hour3, hour7], got %d", retrieved.Len())
	}
	if retrieved.At(0).TimestampMs != start.UnixMilli() {
		t.Errorf("first bar timestamp mismatch: expected %v, got %v", start.UnixMilli(), retrieved.At(0).TimestampMs)
	}
}

func TestCacheIsClearable(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = store.Load(context.Background(), "BTC/USDT", types.Hour1, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if store.GetCacheSize() == 0 {
		t.Fatal("expected a cached frame after Load")
	}
	store.ClearCache()
	if store.GetCacheSize() != 0 {
		t.Error("expected cache to be empty after ClearCache")
	}
}

func TestDataPersistsAcrossStoreInstances(t *testing.T) {
	logger := zap.NewNop()
	dir := t.TempDir()

	symbol := types.NewSymbol("PERSIST/USDT")
	tf := types.Hour1
	now := time.Now().Truncate(time.Hour)

	store1, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	frame := types.NewQuoteFrame(symbol, tf, 0)
	_ = frame.Push(types.Quote{Symbol: symbol, Timeframe: tf, TimestampMs: now.UnixMilli(), Open: 120, High: 130, Low: 118, Close: 125, Volume: 5000})
	if err := store1.SaveQuoteFrame(frame); err != nil {
		t.Fatalf("SaveQuoteFrame: %v", err)
	}

	store2, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("NewStore (second instance): %v", err)
	}
	retrieved, err := store2.Load(context.Background(), symbol.Code, tf, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if retrieved.Len() == 0 {
		t.Fatal("no data persisted across store instances")
	}
	if retrieved.At(0).Close != 125 {
		t.Errorf("persisted close mismatch: got %v", retrieved.At(0).Close)
	}
}

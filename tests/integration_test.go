// Package integration_test exercises the HTTP/WebSocket surface end to end
// against a real data store, backtest engine, and discovery runner wired the
// same way cmd/server/main.go wires them.
package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/strategy-forge/internal/api"
	"github.com/atlas-quant/strategy-forge/internal/data"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func integrationServerConfig() *types.ServerConfig {
	return &types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		WebSocketPath: "/ws",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

func startIntegrationServer(t *testing.T) (*api.Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}

	server := api.NewServer(logger, integrationServerConfig(), dataStore)
	ts := httptest.NewServer(server.Router())
	return server, ts
}

func crossoverStrategyDefinition(tf types.Timeframe) *types.StrategyDefinition {
	return &types.StrategyDefinition{
		Metadata: types.StrategyMetadata{ID: "sma-crossover", Name: "SMA Crossover"},
		Parameters: []types.ParameterDescriptor{
			{Name: "fast_period", Default: 5, Min: 2, Max: 20, IsInteger: true, Mutable: true},
			{Name: "slow_period", Default: 20, Min: 10, Max: 50, IsInteger: true, Mutable: true},
		},
		Indicators: []types.IndicatorBinding{
			{Alias: "sma_fast", Timeframe: tf, Source: "sma", Params: map[string]any{"period": 5}},
			{Alias: "sma_slow", Timeframe: tf, Source: "sma", Params: map[string]any{"period": 20}},
		},
		Conditions: []types.ConditionBinding{
			{
				ID: "cross_up", Timeframe: tf, Operator: types.OpCrossesAbove,
				Input: types.ConditionInput{
					Kind:      types.InputDual,
					Primary:   types.DataSeriesSource{Kind: types.SourceIndicator, Alias: "sma_fast"},
					Secondary: types.DataSeriesSource{Kind: types.SourceIndicator, Alias: "sma_slow"},
				},
			},
			{
				ID: "cross_down", Timeframe: tf, Operator: types.OpCrossesBelow,
				Input: types.ConditionInput{
					Kind:      types.InputDual,
					Primary:   types.DataSeriesSource{Kind: types.SourceIndicator, Alias: "sma_fast"},
					Secondary: types.DataSeriesSource{Kind: types.SourceIndicator, Alias: "sma_slow"},
				},
			},
		},
		EntryRules: []types.StrategyRule{
			{ID: "enter_long", Logic: types.LogicAll, Conditions: []string{"cross_up"}, Signal: types.SignalEntry, Direction: types.DirectionLong, Timeframe: tf},
		},
		ExitRules: []types.StrategyRule{
			{ID: "exit_long", Logic: types.LogicAll, Conditions: []string{"cross_down"}, Signal: types.SignalExit, Direction: types.DirectionFlat, Timeframe: tf},
		},
		StopHandlers: []types.StopHandlerBinding{
			{ID: "sl", Handler: "StopLossPct", Timeframe: tf, Parameters: map[string]any{"percent": 5.0}, Direction: types.DirectionLong},
		},
		RequiredTimeframes: []types.Timeframe{tf},
	}
}

func integrationBacktestConfig(id, symbol string, tf types.Timeframe, start, end time.Time) types.BacktestConfig {
	return types.BacktestConfig{
		ID:             id,
		Strategy:       crossoverStrategyDefinition(tf),
		Symbols:        []string{symbol},
		StartDate:      start,
		EndDate:        end,
		BaseTimeframe:  tf,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
		RiskLimits: types.RiskLimits{
			MaxPositionSize:  decimal.NewFromFloat(0.5),
			MaxOpenPositions: 1,
		},
	}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func waitForBacktestStatus(t *testing.T, baseURL, id string, want string, timeout time.Duration) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/v1/backtest/" + id)
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			resp.Body.Close()
			t.Fatalf("decode status response: %v", err)
		}
		resp.Body.Close()
		last = result
		if result["status"] == want {
			return result
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("backtest %s never reached status %q, last seen: %v", id, want, last)
	return nil
}

// TestFullBacktestWorkflow drives a backtest end to end through the HTTP
// surface: submit, poll until completion, then inspect the final report.
func TestFullBacktestWorkflow(t *testing.T) {
	_, ts := startIntegrationServer(t)
	defer ts.Close()

	tf := types.Hour1
	end := time.Now()
	start := end.AddDate(0, 0, -30)
	config := integrationBacktestConfig("full-workflow-backtest", "BTC/USDT", tf, start, end)

	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", config)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from backtest run, got %d", resp.StatusCode)
	}
	var submitResult map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&submitResult); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	resp.Body.Close()

	id, ok := submitResult["id"].(string)
	if !ok || id == "" {
		t.Fatal("submit response missing backtest id")
	}

	final := waitForBacktestStatus(t, ts.URL, id, "completed", 10*time.Second)
	if final["result"] == nil {
		t.Fatal("completed backtest is missing its report")
	}
}

// TestWebSocketBacktest confirms a WebSocket subscriber receives progress and
// completion events for a backtest submitted over HTTP.
func TestWebSocketBacktest(t *testing.T) {
	_, ts := startIntegrationServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	tf := types.Hour1
	end := time.Now()
	start := end.AddDate(0, 0, -14)
	config := integrationBacktestConfig("ws-workflow-backtest", "ETH/USDT", tf, start, end)

	subMsg := api.Message{
		ID:      "sub-backtest",
		Type:    "request",
		Method:  "subscribe",
		Payload: map[string]interface{}{"channel": "backtest:" + config.ID},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var subAck api.Message
	if err := conn.ReadJSON(&subAck); err != nil {
		t.Fatalf("read subscribe ack: %v", err)
	}

	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", config)
	resp.Body.Close()

	gotComplete := false
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !gotComplete {
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		var evt api.Message
		if err := conn.ReadJSON(&evt); err != nil {
			continue
		}
		if evt.Method == "backtest:complete" {
			gotComplete = true
		}
	}
	if !gotComplete {
		t.Error("never received a backtest:complete event over the websocket")
	}
}

// TestConcurrentBacktests submits several backtests simultaneously and
// checks that each one independently reaches a terminal status.
func TestConcurrentBacktests(t *testing.T) {
	_, ts := startIntegrationServer(t)
	defer ts.Close()

	tf := types.Hour1
	end := time.Now()
	start := end.AddDate(0, 0, -10)
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "BNB/USDT"}

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		config := integrationBacktestConfig("concurrent-backtest-"+symbol, symbol, tf, start, end)
		wg.Add(1)
		go func(cfg types.BacktestConfig, idx int) {
			defer wg.Done()
			resp := postJSON(t, ts.URL+"/api/v1/backtest/run", cfg)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("backtest %d: expected 200, got %d", idx, resp.StatusCode)
				return
			}
			final := waitForBacktestStatus(t, ts.URL, cfg.ID, "completed", 15*time.Second)
			if final["status"] != "completed" {
				t.Errorf("backtest %d: expected completed, got %v", idx, final["status"])
			}
		}(config, i)
	}
	wg.Wait()
}

// TestLargeDataset runs a backtest spanning a wide date range to exercise
// the engine's throughput over a large generated sample frame.
func TestLargeDataset(t *testing.T) {
	_, ts := startIntegrationServer(t)
	defer ts.Close()

	tf := types.Minute15
	end := time.Now()
	start := end.AddDate(-1, 0, 0)
	config := integrationBacktestConfig("large-dataset-backtest", "BTC/USDT", tf, start, end)

	started := time.Now()
	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", config)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from backtest run, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	final := waitForBacktestStatus(t, ts.URL, config.ID, "completed", 60*time.Second)
	elapsed := time.Since(started)
	t.Logf("large dataset backtest completed in %s", elapsed)

	barsProcessed, _ := final["barsProcessed"].(float64)
	if barsProcessed == 0 {
		t.Error("expected a nonzero bars-processed count for a year of 15m bars")
	}
}

// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/strategy-forge/internal/api"
	"github.com/atlas-quant/strategy-forge/internal/data"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

func testServerConfig() *types.ServerConfig {
	return &types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		WebSocketPath: "/ws",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}

	server := api.NewServer(logger, testServerConfig(), dataStore)
	ts := httptest.NewServer(server.Router())

	return server, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got '%v'", result["status"])
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("symbols request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := result["symbols"]; !ok {
		t.Error("response missing symbols field")
	}
}

func TestHistoryEndpointGeneratesSampleData(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/data/history/BTC%2FUSDT?timeframe=1h")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	count, _ := result["count"].(float64)
	if count == 0 {
		t.Error("expected generated sample bars, got none")
	}
}

func TestHistoryEndpointRejectsBadTimeframe(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/data/history/BTC%2FUSDT?timeframe=not-a-timeframe")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
}

func sampleBacktestConfig() types.BacktestConfig {
	return types.BacktestConfig{
		ID:             "test-http-backtest",
		Strategy:       &types.StrategyDefinition{Metadata: types.StrategyMetadata{ID: "test-strategy"}},
		Symbols:        []string{"SOL/USDT"},
		StartDate:      time.Now().AddDate(0, -1, 0),
		EndDate:        time.Now(),
		BaseTimeframe:  types.Hour1,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
	}
}

func TestBacktestEndpoints(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	config := sampleBacktestConfig()
	body, _ := json.Marshal(config)

	resp, err := http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("backtest run request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	backtestID, ok := result["id"].(string)
	if !ok {
		t.Fatal("response missing backtest id")
	}

	time.Sleep(200 * time.Millisecond)

	resp, err = http.Get(ts.URL + "/api/v1/backtest/" + backtestID)
	if err != nil {
		t.Fatalf("backtest status request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

func TestBacktestCancel(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	config := sampleBacktestConfig()
	config.ID = "test-cancel-backtest"
	body, _ := json.Marshal(config)

	resp, err := http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("backtest run request failed: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/api/v1/backtest/"+config.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("backtest cancel request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket connection failed: %v (response: %v)", err, resp)
	}
	defer conn.Close()

	if err := conn.WriteJSON(api.Message{ID: "ping-1", Type: "request", Method: "ping"}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var response api.Message
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if response.ID != "ping-1" {
		t.Errorf("response id mismatch: expected 'ping-1', got '%s'", response.ID)
	}
	if response.Error != "" {
		t.Errorf("unexpected error in ping response: %s", response.Error)
	}
}

func TestWebSocketSubscription(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket connection failed: %v", err)
	}
	defer conn.Close()

	subMsg := api.Message{
		ID:      "sub-1",
		Type:    "request",
		Method:  "subscribe",
		Payload: map[string]interface{}{"channel": "backtest:test-123"},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var response api.Message
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if response.Error != "" {
		t.Errorf("subscribe failed: %s", response.Error)
	}
}

func TestConcurrentWebSocketConnections(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	numConnections := 5
	conns := make([]*websocket.Conn, numConnections)

	for i := 0; i < numConnections; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("connection %d failed: %v", i, err)
		}
		conns[i] = conn
	}
	defer func() {
		for _, conn := range conns {
			conn.Close()
		}
	}()

	for i, conn := range conns {
		msg := api.Message{ID: string(rune('0' + i)), Type: "request", Method: "ping"}
		if err := conn.WriteJSON(msg); err != nil {
			t.Errorf("connection %d: failed to send ping: %v", i, err)
		}
	}

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var response api.Message
		if err := conn.ReadJSON(&response); err != nil {
			t.Errorf("connection %d: failed to read response: %v", i, err)
		}
	}
}

func TestDiscoveryEndpoints(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	req := api.DiscoveryRequest{
		Symbol:        "BTC/USDT",
		BaseTimeframe: "1h",
		StartDate:     time.Now().AddDate(0, 0, -10),
		EndDate:       time.Now(),
	}
	body, _ := json.Marshal(req)

	resp, err := http.Post(ts.URL+"/api/v1/discovery/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("discovery run request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	id, ok := result["id"].(string)
	if !ok {
		t.Fatal("response missing discovery id")
	}

	resp, err = http.Get(ts.URL + "/api/v1/discovery/" + id)
	if err != nil {
		t.Fatalf("discovery status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

func TestServerShutdown(t *testing.T) {
	logger := zap.NewNop()

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create data store: %v", err)
	}

	config := testServerConfig()
	config.Port = 18081
	server := api.NewServer(logger, config, dataStore)

	go func() {
		server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

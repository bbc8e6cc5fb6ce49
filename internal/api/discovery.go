package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/strategy-forge/internal/backtester"
	"github.com/atlas-quant/strategy-forge/internal/discovery"
	"github.com/atlas-quant/strategy-forge/internal/optimization"
	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// DiscoveryRequest describes one island-model search submitted over the API.
// Only Symbol is required: a zero EndDate defaults to now, a zero StartDate
// to three months before EndDate, and every other zero-valued field falls
// back to the server's defaults.
type DiscoveryRequest struct {
	Symbol         string          `json:"symbol"`
	BaseTimeframe  string          `json:"baseTimeframe"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	Config         *types.DiscoveryConfig `json:"config,omitempty"`
}

// DiscoveryState tracks one in-flight or completed island-model run.
type DiscoveryState struct {
	ID        string
	Request   DiscoveryRequest
	Status    string // "running", "completed", "failed", "cancelled"
	Started   time.Time
	Islands   []*types.Population
	Err       string
	cancel    context.CancelFunc
}

// defaultIndicatorUniverse lists the indicators the candidate builder may
// draw from when a request doesn't narrow the search itself.
func defaultIndicatorUniverse() []discovery.AvailableIndicator {
	return []discovery.AvailableIndicator{
		{Source: "sma", DefaultParams: map[string]any{"period": 20.0}},
		{Source: "ema", DefaultParams: map[string]any{"period": 10.0}},
		{Source: "rsi", DefaultParams: map[string]any{"period": 14.0}},
		{Source: "bollinger_mid", DefaultParams: map[string]any{"period": 20.0}},
		{Source: "atr", IsVolatility: true, DefaultParams: map[string]any{"period": 14.0}},
	}
}

func defaultStopHandlerUniverse() []discovery.AvailableStopHandler {
	return []discovery.AvailableStopHandler{
		{Name: "StopLossPct", DefaultParams: map[string]any{"percent": 0.02}},
		{Name: "ATRTrail", DefaultParams: map[string]any{"period": 14.0, "coeff_atr": 2.0}},
		{Name: "TakeProfitPct", DefaultParams: map[string]any{"percent": 0.04}},
	}
}

// handleRunDiscovery starts a new island-model genetic search against the
// configured data store, building a fresh Engine/EvaluationRunner/IslandGA
// per request.
func (s *Server) handleRunDiscovery(w http.ResponseWriter, r *http.Request) {
	var req DiscoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	baseTF := types.Hour1
	if req.BaseTimeframe != "" {
		tf, err := types.ParseTimeframe(req.BaseTimeframe)
		if err != nil {
			http.Error(w, "invalid baseTimeframe: "+err.Error(), http.StatusBadRequest)
			return
		}
		baseTF = tf
	}
	if req.EndDate.IsZero() {
		req.EndDate = time.Now()
	}
	if req.StartDate.IsZero() {
		req.StartDate = req.EndDate.AddDate(0, -3, 0)
	}
	if req.InitialCapital.IsZero() {
		req.InitialCapital = decimal.NewFromInt(10000)
	}

	gaConfig := optimization.DefaultDiscoveryConfig()
	if req.Config != nil {
		gaConfig = *req.Config
	}

	slippage := backtester.CreateSlippageModel(types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)})
	engine := backtester.NewEngine(s.logger, s.dataStore, slippage)
	fitness := backtester.NewFitnessEvaluator(backtester.DefaultFitnessThresholds(), backtester.DefaultFitnessWeights())

	baseline := &types.BacktestConfig{
		ID:             uuid.New().String(),
		Symbols:        []string{req.Symbol},
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		BaseTimeframe:  baseTF,
		InitialCapital: req.InitialCapital,
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
		RiskLimits: types.RiskLimits{
			MaxPositionSize:  decimal.NewFromFloat(1.0),
			MaxOpenPositions: 1,
		},
	}

	runner := discovery.NewEvaluationRunner(engine, fitness, baseline)
	ga := optimization.NewIslandGA(
		s.logger, gaConfig, discovery.DefaultConfig(), runner,
		defaultIndicatorUniverse(), defaultStopHandlerUniverse(), nil, baseTF,
	)
	if s.pool != nil {
		ga = ga.WithPool(s.pool, 4)
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &DiscoveryState{
		ID:      baseline.ID,
		Request: req,
		Status:  "running",
		Started: time.Now(),
		cancel:  cancel,
	}

	s.mu.Lock()
	s.discoveries[state.ID] = state
	s.mu.Unlock()

	go func() {
		islands, err := ga.Run(ctx)

		s.mu.Lock()
		state.Islands = islands
		if err != nil {
			state.Status = "failed"
			state.Err = err.Error()
			s.logger.Error("discovery run failed", zap.String("id", state.ID), zap.Error(err))
		} else {
			state.Status = "completed"
		}
		s.mu.Unlock()

		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "discovery:complete",
			Payload:   map[string]interface{}{"id": state.ID, "status": state.Status},
			Timestamp: time.Now().UnixMilli(),
		})
	}()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	})
}

// handleGetDiscovery returns a discovery run's current state, summarizing
// each island's best individual rather than dumping full populations.
func (s *Server) handleGetDiscovery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.discoveries[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "discovery run not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Err != "" {
		response["error"] = state.Err
	}
	if state.Islands != nil {
		response["islands"] = summarizeIslands(state.Islands)
	}

	json.NewEncoder(w).Encode(response)
}

// handleCancelDiscovery cancels a running discovery search.
func (s *Server) handleCancelDiscovery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.discoveries[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "discovery run not found", http.StatusNotFound)
		return
	}
	if state.Status != "running" {
		http.Error(w, "discovery run not running", http.StatusBadRequest)
		return
	}

	state.cancel()

	json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": "cancelling"})
}

type islandSummary struct {
	IslandID            int                     `json:"islandId"`
	Generation          int                     `json:"generation"`
	StagnantGenerations int                     `json:"stagnantGenerations"`
	BestFitnessHistory  []float64               `json:"bestFitnessHistory"`
	Best                *types.GeneticIndividual `json:"best,omitempty"`
	PopulationSize      int                     `json:"populationSize"`
}

func summarizeIslands(islands []*types.Population) []islandSummary {
	out := make([]islandSummary, len(islands))
	for i, pop := range islands {
		sum := islandSummary{
			IslandID:            pop.IslandID,
			Generation:          pop.Generation,
			StagnantGenerations: pop.StagnantGenerations,
			BestFitnessHistory:  pop.BestFitnessHistory,
			PopulationSize:      len(pop.Individuals),
		}
		individuals := append([]*types.GeneticIndividual(nil), pop.Individuals...)
		sort.Slice(individuals, func(a, b int) bool {
			fa, fb := individuals[a].Fitness, individuals[b].Fitness
			if fa == nil || fb == nil {
				return fb == nil && fa != nil
			}
			return fa.Score > fb.Score
		})
		if len(individuals) > 0 {
			sum.Best = individuals[0]
		}
		out[i] = sum
	}
	return out
}

// Package modelrouter implements the Adaptive Model Router: feasibility
// filtering, multi-factor weighted scoring per optimization strategy,
// circuit breaking, and EMA-smoothed performance tracking.
//
// The scoring formula, weight vectors, and EMA constant follow the system
// this gateway was distilled from; the concurrency mechanics (per-model
// mutex, sliding candidate snapshot, background reset loops) follow this
// codebase's existing adaptive load balancer.
package modelrouter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apperrors"
	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

const emaAlpha = 0.1

// Config tunes the router's background maintenance and feasibility
// checks. Zero values fall back to the documented defaults.
type Config struct {
	PerformanceResetIdle time.Duration // default 1h
	CircuitResetIdle     time.Duration // default 10m
	MetricsSweepInterval time.Duration // default 60s
	CircuitSweepInterval time.Duration // default 5m
}

func (c Config) withDefaults() Config {
	if c.PerformanceResetIdle == 0 {
		c.PerformanceResetIdle = time.Hour
	}
	if c.CircuitResetIdle == 0 {
		c.CircuitResetIdle = 10 * time.Minute
	}
	if c.MetricsSweepInterval == 0 {
		c.MetricsSweepInterval = 60 * time.Second
	}
	if c.CircuitSweepInterval == 0 {
		c.CircuitSweepInterval = 5 * time.Minute
	}
	return c
}

// modelState bundles one model's descriptor and live state behind a
// single mutex, so metric updates are linearisable per model_key without
// a global lock.
type modelState struct {
	mu          sync.Mutex
	descriptor  models.ModelDescriptor
	perf        models.PerformanceMetrics
	load        models.LoadMetrics
	circuit     models.CircuitState
	provider    ports.ProviderPort
	discoveredAt time.Time
}

// Router is the Adaptive Model Router. It owns all performance, load, and
// circuit-breaker state for every registered model.
type Router struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	models map[string]*modelState
}

// New constructs a Router with no registered models.
func New(cfg Config, logger *zap.Logger) *Router {
	return &Router{
		cfg:    cfg.withDefaults(),
		logger: logger,
		models: make(map[string]*modelState),
	}
}

// Register adds or replaces a model's descriptor and provider handle. Live
// performance/load/circuit state is preserved across re-registration of an
// existing key so provider reconnects do not reset a model's history.
func (r *Router) Register(descriptor models.ModelDescriptor, provider ports.ProviderPort) {
	key := descriptor.Key()
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[key]; ok {
		existing.mu.Lock()
		existing.descriptor = descriptor
		existing.provider = provider
		existing.mu.Unlock()
		return
	}

	r.models[key] = &modelState{
		descriptor:   descriptor,
		provider:     provider,
		discoveredAt: time.Now(),
		load:         models.LoadMetrics{MaxConcurrent: 1000},
	}
}

// Start launches the background maintenance goroutines. They stop when
// ctx is cancelled.
func (r *Router) Start(ctx context.Context) {
	go r.metricsSweepLoop(ctx)
	go r.circuitSweepLoop(ctx)
}

func (r *Router) metricsSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.MetricsSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdlePerformance()
		}
	}
}

func (r *Router) circuitSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CircuitSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepStaleCircuits()
		}
	}
}

func (r *Router) sweepIdlePerformance() {
	r.mu.RLock()
	snapshot := make([]*modelState, 0, len(r.models))
	for _, st := range r.models {
		snapshot = append(snapshot, st)
	}
	r.mu.RUnlock()

	for _, st := range snapshot {
		st.mu.Lock()
		if !st.perf.LastUpdated.IsZero() && time.Since(st.perf.LastUpdated) > r.cfg.PerformanceResetIdle {
			st.perf = models.PerformanceMetrics{}
		}
		st.mu.Unlock()
	}
}

func (r *Router) sweepStaleCircuits() {
	r.mu.RLock()
	snapshot := make([]*modelState, 0, len(r.models))
	for _, st := range r.models {
		snapshot = append(snapshot, st)
	}
	r.mu.RUnlock()

	for _, st := range snapshot {
		st.mu.Lock()
		if st.circuit.Open && time.Since(st.circuit.TrippedAt) > r.cfg.CircuitResetIdle {
			st.circuit.Open = false
			if r.logger != nil {
				r.logger.Info("circuit closed after idle window", zap.String("model", st.descriptor.Key()))
			}
		}
		st.mu.Unlock()
	}
}

// candidate is a point-in-time snapshot of one model's state, taken under
// its own lock, used for feasibility filtering and scoring without
// holding any lock during the (pure) scoring computation.
type candidate struct {
	key        string
	descriptor models.ModelDescriptor
	perf       models.PerformanceMetrics
	load       models.LoadMetrics
	circuit    models.CircuitState
	provider   ports.ProviderPort
}

func (r *Router) snapshot() []candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]candidate, 0, len(r.models))
	for key, st := range r.models {
		st.mu.Lock()
		out = append(out, candidate{
			key:        key,
			descriptor: st.descriptor,
			perf:       st.perf,
			load:       st.load,
			circuit:    st.circuit,
			provider:   st.provider,
		})
		st.mu.Unlock()
	}
	// Stable snapshot order: sort by key so tie-breaking by "iteration
	// order" is deterministic instead of inheriting Go's randomized map
	// iteration.
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Selection is the outcome of SelectOptimal: the chosen model's key,
// descriptor, and provider handle.
type Selection struct {
	Key        string
	Descriptor models.ModelDescriptor
	Provider   ports.ProviderPort
}

// SelectOptimal picks the (provider,model) pair maximising the
// strategy-weighted score among feasible candidates.
func (r *Router) SelectOptimal(ctx context.Context, req *models.ChatRequest) (Selection, error) {
	candidates := r.snapshot()

	estimatedTokens := estimateRequestTokens(req)

	var best *candidate
	bestScore := -1.0
	for i := range candidates {
		c := &candidates[i]
		if !feasible(c, req) {
			continue
		}
		score := score(c, req.Strategy(), estimatedTokens)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	if best == nil {
		return Selection{}, apperrors.CircuitOpen("no eligible model for request", nil)
	}

	return Selection{Key: best.key, Descriptor: best.descriptor, Provider: best.provider}, nil
}

func feasible(c *candidate, req *models.ChatRequest) bool {
	if c.circuit.Open {
		return false
	}
	if c.load.LoadFactor() > 0.9 {
		return false
	}
	if req.MaxTokens != nil && *req.MaxTokens > c.descriptor.MaxTokens {
		return false
	}
	if estimatedContextTokens(req) > c.descriptor.ContextLength {
		return false
	}
	if len(req.Tools) > 0 && !c.descriptor.SupportsTools {
		return false
	}
	if req.Stream && !c.descriptor.SupportsStreaming {
		return false
	}
	if c.provider == nil {
		return false
	}
	return true
}

func estimatedContextTokens(req *models.ChatRequest) int {
	return len(req.Messages) * 100
}

// estimateRequestTokens approximates the total (prompt+completion) token
// count for a request, for the cost factor in score. Mirrors the
// estimation the teacher-distilling source performs (chars/4 for prompt,
// plus either max_tokens or a 500-token default for completion).
func estimateRequestTokens(req *models.ChatRequest) int {
	totalChars := 0
	for _, m := range req.Messages {
		totalChars += len(m.Content)
	}
	estimated := totalChars / 4
	if req.MaxTokens != nil {
		estimated += *req.MaxTokens
	} else {
		estimated += 500
	}
	return estimated
}

var strategyWeights = map[models.OptimizationStrategy][5]float64{
	models.StrategyCost:         {0.20, 0.10, 0.60, 0.05, 0.05},
	models.StrategyPerformance:  {0.30, 0.50, 0.10, 0.05, 0.05},
	models.StrategyAvailability: {0.20, 0.20, 0.20, 0.30, 0.10},
	models.StrategyBalanced:     {0.30, 0.25, 0.25, 0.15, 0.05},
}

func score(c *candidate, strategy models.OptimizationStrategy, estimatedTokens int) float64 {
	weights, ok := strategyWeights[strategy]
	if !ok {
		weights = strategyWeights[models.StrategyBalanced]
	}

	base := c.descriptor.CapabilityScore

	var perf float64
	if c.perf.Total == 0 {
		perf = 0.5
	} else {
		avgLatencySec := c.perf.EMALatencySec
		perf = 0.7*c.perf.SuccessRate() + 0.3*math.Max(0, 1-avgLatencySec/10)
	}

	cost := costFactor(c.descriptor, estimatedTokens)

	load := 1 - c.load.LoadFactor()

	avail := 1.0
	if c.circuit.Open {
		avail = 0
	}

	raw := weights[0]*base + weights[1]*perf + weights[2]*cost + weights[3]*load + weights[4]*avail
	return clamp01(raw)
}

// costFactor normalizes a candidate's estimated cost for this request into
// a 0..1 "cheaper is better" score, assuming $1.00 is the max reasonable
// cost for a single request.
func costFactor(descriptor models.ModelDescriptor, estimatedTokens int) float64 {
	pricePer1k, _ := descriptor.CostPer1kTokens.Float64()
	estimatedCostUSD := float64(estimatedTokens) * pricePer1k / 1000
	const maxReasonableCost = 1.0
	return math.Max(0, 1-math.Min(estimatedCostUSD, maxReasonableCost)/maxReasonableCost)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Execute dispatches to the selected model's provider, tracking
// concurrency and updating performance/circuit state on every path.
func (r *Router) Execute(ctx context.Context, sel Selection, req *models.ChatRequest) (*models.ChatResponse, error) {
	st := r.state(sel.Key)
	if st == nil {
		return nil, apperrors.Internal(fmt.Sprintf("model %s not registered", sel.Key), nil)
	}

	r.beginRequest(st)
	defer r.endRequest(st)

	start := time.Now()
	resp, err := sel.Provider.Complete(ctx, req, sel.Descriptor)
	duration := time.Since(start)

	if err != nil {
		r.recordFailure(st, duration)
		return nil, err
	}
	r.recordSuccess(st, duration, resp.Usage)
	return resp, nil
}

// ExecuteStream dispatches to the selected model's provider in streaming
// mode, updating concurrency/performance state identically to Execute.
func (r *Router) ExecuteStream(ctx context.Context, sel Selection, req *models.ChatRequest) (<-chan ports.ProviderStreamEvent, func(success bool, duration time.Duration), error) {
	st := r.state(sel.Key)
	if st == nil {
		return nil, nil, apperrors.Internal(fmt.Sprintf("model %s not registered", sel.Key), nil)
	}

	r.beginRequest(st)
	ch, err := sel.Provider.StreamComplete(ctx, req, sel.Descriptor)
	if err != nil {
		r.endRequest(st)
		r.recordFailure(st, 0)
		return nil, nil, err
	}

	finalize := func(success bool, duration time.Duration) {
		defer r.endRequest(st)
		if success {
			r.recordSuccess(st, duration, models.TokenUsage{})
		} else {
			r.recordFailure(st, duration)
		}
	}
	return ch, finalize, nil
}

func (r *Router) state(key string) *modelState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[key]
}

func (r *Router) beginRequest(st *modelState) {
	st.mu.Lock()
	st.load.CurrentConcurrent++
	st.load.LastRequestTime = time.Now()
	st.mu.Unlock()
}

func (r *Router) endRequest(st *modelState) {
	st.mu.Lock()
	if st.load.CurrentConcurrent > 0 {
		st.load.CurrentConcurrent--
	}
	st.mu.Unlock()
}

func (r *Router) recordSuccess(st *modelState, duration time.Duration, usage models.TokenUsage) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.perf.Total++
	st.perf.Success++
	updateLatencyEMA(&st.perf, duration)
	if usage.TotalTokens > 0 && duration > 0 {
		tokensPerSec := float64(usage.TotalTokens) / duration.Seconds()
		if st.perf.Total == 1 {
			st.perf.EMATokensPerSec = tokensPerSec
		} else {
			st.perf.EMATokensPerSec = emaAlpha*tokensPerSec + (1-emaAlpha)*st.perf.EMATokensPerSec
		}
	}
	st.perf.LastUpdated = time.Now()
	st.circuit.Open = false
}

func (r *Router) recordFailure(st *modelState, duration time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.perf.Total++
	st.perf.Failure++
	if duration > 0 {
		updateLatencyEMA(&st.perf, duration)
	}
	st.perf.LastUpdated = time.Now()

	if st.perf.FailureRate() > 0.5 && st.perf.Total >= 10 {
		if !st.circuit.Open {
			st.circuit.Open = true
			st.circuit.TrippedAt = time.Now()
		}
	}
}

func updateLatencyEMA(perf *models.PerformanceMetrics, duration time.Duration) {
	sample := duration.Seconds()
	if perf.Total == 1 {
		perf.EMALatencySec = sample
	} else {
		perf.EMALatencySec = emaAlpha*sample + (1-emaAlpha)*perf.EMALatencySec
	}
}

// Stats is the exported snapshot returned by GetModelStats, e.g. for an
// admin endpoint.
type Stats struct {
	Descriptor models.ModelDescriptor
	Perf       models.PerformanceMetrics
	Load       models.LoadMetrics
	Circuit    models.CircuitState
}

// GetModelStats returns a consistent-per-model snapshot of every
// registered model's state. Cross-model skew is possible since each
// model's fields are captured under its own lock, not a single global
// one.
func (r *Router) GetModelStats() map[string]Stats {
	candidates := r.snapshot()
	out := make(map[string]Stats, len(candidates))
	for _, c := range candidates {
		out[c.key] = Stats{Descriptor: c.descriptor, Perf: c.perf, Load: c.load, Circuit: c.circuit}
	}
	return out
}

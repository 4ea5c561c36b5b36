package graph

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for a model.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for the chat and embedding models the adapters default to.
// Prices change; override with SetCustomPricing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                 {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":            {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":                {InputPer1M: 2.00, OutputPer1M: 8.00},
	"text-embedding-3-small": {InputPer1M: 0.02},
	"text-embedding-3-large": {InputPer1M: 0.13},

	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-sonnet-4-20250514":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},

	"gemini-1.5-pro":     {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":   {InputPer1M: 0.075, OutputPer1M: 0.30},
	"text-embedding-004": {},
}

// LLMCall represents a single model invocation with token usage and cost.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// CostTracker accumulates token usage and cost of model calls.
//
// Model adapters report every call through RecordLLMCall, attributing it to
// the node found in the call's context (see NodeIDFromContext). Models
// missing from the pricing table are recorded with zero cost.
//
// Safe for concurrent use; fan-out branches record in parallel.
type CostTracker struct {
	RunID    string
	Currency string

	mu           sync.RWMutex
	pricing      map[string]ModelPricing
	calls        []LLMCall
	totalCost    float64
	modelCosts   map[string]float64
	nodeCosts    map[string]float64
	inputTokens  int64
	outputTokens int64
	enabled      bool
}

// NewCostTracker creates a tracker seeded with the default pricing table.
func NewCostTracker(runID, currency string) *CostTracker {
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		pricing:    maps.Clone(defaultModelPricing),
		modelCosts: make(map[string]float64),
		nodeCosts:  make(map[string]float64),
		enabled:    true,
	}
}

// RecordLLMCall records one model invocation and updates the totals.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) error {
	if inputTokens < 0 || outputTokens < 0 {
		return fmt.Errorf("negative token count for %s: in=%d out=%d", model, inputTokens, outputTokens)
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !ct.enabled {
		return nil
	}

	pricing := ct.pricing[model]
	cost := float64(inputTokens)/1_000_000.0*pricing.InputPer1M +
		float64(outputTokens)/1_000_000.0*pricing.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})
	ct.totalCost += cost
	ct.modelCosts[model] += cost
	ct.nodeCosts[nodeID] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)
	return nil
}

// GetTotalCost returns the cumulative cost across all recorded calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// GetCostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return maps.Clone(ct.modelCosts)
}

// GetCostByNode returns a copy of the per-node cost breakdown.
func (ct *CostTracker) GetCostByNode() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return maps.Clone(ct.nodeCosts)
}

// GetCallHistory returns all recorded calls in order.
func (ct *CostTracker) GetCallHistory() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]LLMCall(nil), ct.calls...)
}

// GetTokenUsage returns total input and output token counts.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// SetCustomPricing overrides the price of one model for this tracker.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable temporarily disables cost tracking.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable re-enables cost tracking after Disable().
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{RunID: %s, Calls: %d, TotalCost: %.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID, len(ct.calls), ct.totalCost, ct.Currency, ct.inputTokens, ct.outputTokens)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// generator.go - Synthetic usage events for the demo source.

package server

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/usagepulse/internal/model"
)

// ============================================================================
// GENERATOR CONSTANTS
// ============================================================================

var (
	// Customers are the synthetic customer ids.
	Customers = []string{"Customer A", "Customer B", "Customer C", "Customer D", "Customer E"}

	// Tenants are the synthetic tenant ids.
	Tenants = []string{"Tenant 1", "Tenant 2", "Tenant 3"}

	// Models drive the per-token price of a generated call.
	Models = []string{"gpt-4", "gpt-3.5-turbo", "claude-3-opus", "gemini-pro"}
)

const (
	// MaxBatch is the largest number of events produced per tick.
	MaxBatch = 5

	// SpikeThreshold: a uniform draw above this produces a spike.
	SpikeThreshold = 0.95

	premiumCostPerToken  = 0.00003
	standardCostPerToken = 0.000001
)

// CostPerToken returns the synthetic price for a model.
func CostPerToken(model string) float64 {
	if strings.Contains(model, "gpt-4") {
		return premiumCostPerToken
	}
	return standardCostPerToken
}

// ============================================================================
// GENERATOR
// ============================================================================

// Generator produces random single-call usage events with occasional spikes.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator. A zero seed uses the current time.
func NewGenerator(seed int64, now func() time.Time) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: now,
	}
}

// Next produces one event stamped with the current time.
func (g *Generator) Next() model.MetricEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextLocked(g.now())
}

// Batch produces between 1 and MaxBatch events sharing the tick time.
func (g *Generator) Batch() []model.MetricEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := g.rng.Intn(MaxBatch) + 1
	out := make([]model.MetricEvent, n)
	for i := range out {
		out[i] = g.nextLocked(now)
	}
	return out
}

func (g *Generator) nextLocked(now time.Time) model.MetricEvent {
	customer := Customers[g.rng.Intn(len(Customers))]
	tenant := Tenants[g.rng.Intn(len(Tenants))]
	llm := Models[g.rng.Intn(len(Models))]

	spike := g.rng.Float64() > SpikeThreshold
	multiplier := 1.0
	if spike {
		multiplier = 5 + g.rng.Float64()*5
	}

	tokens := int64(math.Floor((g.rng.Float64()*1000 + 50) * multiplier))
	latency := math.Floor(g.rng.Float64()*500 + 50)
	if spike {
		latency *= 2
	}

	return model.MetricEvent{
		Timestamp:  now.UTC().Truncate(time.Millisecond),
		TenantID:   tenant,
		CustomerID: customer,
		Metrics: model.Metrics{
			TotalCalls:   1,
			TotalTokens:  tokens,
			TotalCost:    float64(tokens) * CostPerToken(llm),
			AvgLatencyMs: latency,
		},
	}
}

// Float64 draws from the generator's source; used for injected faults.
func (g *Generator) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

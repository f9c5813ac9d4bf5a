// Package privacy applies a calibrated Laplace noise mechanism to frequency
// counts so aggregate statistics can leave the sanitization boundary with a
// quantified privacy budget.
package privacy

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// epsilonFloor bounds the noise scale: scale = sensitivity / max(epsilon,
// epsilonFloor), so a misconfigured epsilon near zero cannot blow up the
// division.
const epsilonFloor = 1e-3

// countSensitivity is the L1 sensitivity of a frequency count: one record
// changes any count by at most 1.
const countSensitivity = 1.0

// Config holds the differential privacy parameters.
type Config struct {
	// Epsilon is the privacy budget. Smaller means more noise and stronger
	// privacy. Must be > 0.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`
	// Delta is the failure probability bound. Informational here; the pure
	// Laplace mechanism does not consume it.
	Delta float64 `yaml:"delta" json:"delta"`
	// WindowSeconds is the aggregation window used by WindowReporter.
	WindowSeconds int `yaml:"aggregation_window_seconds" json:"aggregation_window_seconds"`
	// Enabled toggles the mechanism. When false, counts pass through exactly.
	Enabled bool `yaml:"enable_dp" json:"enable_dp"`
}

// DefaultConfig returns the standard privacy parameters.
func DefaultConfig() Config {
	return Config{Epsilon: 1.0, Delta: 1e-5, WindowSeconds: 300, Enabled: true}
}

// Aggregator adds calibrated Laplace noise to integer count maps and derived
// ratios. Safe for concurrent use.
type Aggregator struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRandSource replaces the default time-seeded source. Tests inject a
// fixed-seed source to make the sampler deterministic.
func WithRandSource(rng *rand.Rand) Option {
	return func(a *Aggregator) { a.rng = rng }
}

// NewAggregator creates an Aggregator with the given config.
func NewAggregator(cfg Config, opts ...Option) *Aggregator {
	a := &Aggregator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AggregateCounts applies Laplace noise to each count. With the mechanism
// disabled it returns an exact copy. Noised counts are rounded to the nearest
// integer and clamped at zero so frequencies never go negative.
func (a *Aggregator) AggregateCounts(counts map[string]int64) map[string]int64 {
	noisy := make(map[string]int64, len(counts))
	if !a.cfg.Enabled {
		for k, v := range counts {
			noisy[k] = v
		}
		return noisy
	}

	scale := countSensitivity / math.Max(a.cfg.Epsilon, epsilonFloor)
	a.mu.Lock()
	for k, v := range counts {
		perturbed := int64(math.Round(float64(v) + laplace(a.rng, scale)))
		if perturbed < 0 {
			perturbed = 0
		}
		noisy[k] = perturbed
	}
	a.mu.Unlock()

	noisedEntries(len(counts))
	return noisy
}

// AggregateHistogram adds noise to histogram buckets. Buckets are frequency
// counts, so the mechanism is identical to AggregateCounts.
func (a *Aggregator) AggregateHistogram(buckets map[string]int64) map[string]int64 {
	return a.AggregateCounts(buckets)
}

// PrivatizeRatio noises the numerator and denominator independently through
// the same mechanism and divides. A zero noised denominator is substituted
// with 1 to avoid division by zero.
func (a *Aggregator) PrivatizeRatio(numerator, denominator int64) float64 {
	noisy := a.AggregateCounts(map[string]int64{"num": numerator, "den": denominator})
	den := noisy["den"]
	if den == 0 {
		den = 1
	}
	return float64(noisy["num"]) / float64(den)
}

// BudgetTerm describes one privacy parameter for audit/reporting collaborators.
type BudgetTerm struct {
	Description string  `json:"description"`
	Value       float64 `json:"value"`
}

// Explain exposes the current privacy budget in human-readable form.
func (a *Aggregator) Explain() map[string]BudgetTerm {
	return map[string]BudgetTerm{
		"epsilon": {Description: "privacy budget (lower is stronger privacy)", Value: a.cfg.Epsilon},
		"delta":   {Description: "probability of failure guarantee", Value: a.cfg.Delta},
	}
}

// String renders the budget for log lines, e.g. "ε=1.00, δ=1.0e-05 (enabled)".
func (a *Aggregator) String() string {
	state := "disabled"
	if a.cfg.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("ε=%.2f, δ=%.1e (%s)", a.cfg.Epsilon, a.cfg.Delta, state)
}

package agent

import (
	"math"
)

// ReliableThreshold separates reliable answers from degraded ones.
const ReliableThreshold = 0.5

const (
	confidenceBase           = 0.5
	sqlSuccessBonus          = 0.25
	repairPenalty            = 0.10
	generatorWeight          = 0.10
	evidenceCap              = 0.20
	citationBonus            = 0.05
	lossyPenalty             = 0.10
	fallbackPenalty          = 0.15
	repairExhaustedCap       = 0.20
	emptyRetrievalCap        = 0.25
	typeMismatchCap          = 0.40
	generationFailureCap     = 0.10
	overallTimeoutCap        = 0.05
	evidenceChunksConsidered = 3
)

// Signals are the observations the confidence score is computed from.
type Signals struct {
	Route Route

	SQLEntered          bool
	SQLSucceeded        bool
	Repairs             int
	RepairExhausted     bool
	GeneratorConfidence float64
	GenerationFailed    bool

	ChunkScores []float64
	Citations   int

	Coercion          Coercion
	SynthesisFallback bool
	TimedOut          bool
}

// Score computes a deterministic confidence in [0, 1].
func Score(s Signals) float64 {
	c := confidenceBase

	if s.SQLEntered {
		if s.SQLSucceeded {
			c += sqlSuccessBonus
			c += generatorWeight * (clamp01(s.GeneratorConfidence) - 0.5)
		}
		c -= repairPenalty * float64(s.Repairs)
	}

	if n := len(s.ChunkScores); n > 0 {
		if n > evidenceChunksConsidered {
			n = evidenceChunksConsidered
		}
		var sum float64
		for _, score := range s.ChunkScores[:n] {
			sum += score
		}
		c += math.Min(evidenceCap, sum/float64(n))
	}

	if s.Citations > 0 {
		c += citationBonus
	}
	if s.Coercion == CoercionLossy {
		c -= lossyPenalty
	}
	if s.SynthesisFallback {
		c -= fallbackPenalty
	}

	if s.RepairExhausted {
		c = math.Min(c, repairExhaustedCap)
	}
	if s.Route == RouteRAG && len(s.ChunkScores) == 0 {
		c = math.Min(c, emptyRetrievalCap)
	}
	if s.Coercion == CoercionMismatch {
		c = math.Min(c, typeMismatchCap)
	}
	if s.GenerationFailed {
		c = math.Min(c, generationFailureCap)
	}
	if s.TimedOut {
		c = math.Min(c, overallTimeoutCap)
	}

	return math.Round(clamp01(c)*1000) / 1000
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Package indicator implements the IndicatorCache external collaborator:
// a memoized computation of derived series (moving averages, RSI, etc.)
// keyed by fingerprint, modeled as a tagged variant rather than a
// registry of polymorphic instances (Design Notes, "Dynamic dispatch
// over calculator variants").
package indicator

// Kind is the tagged variant of supported indicators. Indicator math
// itself is a Non-goal of this module; Kind exists only so the cache
// can fingerprint and dispatch to an injected Calculator.
type Kind string

const (
	SMA  Kind = "SMA"
	EMA  Kind = "EMA"
	RSI  Kind = "RSI"
	SD   Kind = "SD"
	MACD Kind = "MACD"
	BB   Kind = "BB"
	ATR  Kind = "ATR"
)

// Series is a computed indicator series aligned to dataset indices.
type Series []float64

// Params are the kind-specific parameters (e.g. {"period": 14}) that,
// together with Kind, DatasetID, and LastProcessedIndex, form a cache
// fingerprint.
type Params map[string]any

// Calculator computes a Series for kind against the given dataset
// window. The embedding application supplies calculators; this module
// ships none, per Non-goals ("indicator math").
type Calculator func(kind Kind, params Params, upToIndex int) (Series, error)

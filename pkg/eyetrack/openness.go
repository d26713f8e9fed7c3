package eyetrack

// Hybrid strategy ceilings per confidence level. Tracked is never capped.
const (
	hybridCeilingCompensated = 0.75
	hybridCeilingVisible     = 0.5
	hybridCeilingInvalid     = 0.25
)

// Decomposition is the per-eye openness result for one cycle.
//
// When Hold is set the caller must leave the eye's openness and all six
// derived weights untouched for this cycle; the other fields are zero.
type Decomposition struct {
	Openness float64 `json:"openness"`
	Squeeze  float64 `json:"squeeze"`
	Widen    float64 `json:"widen"`
	Hold     bool    `json:"hold"`
}

// SplitBands divides a raw 0-1 lid value into exactly one of three bands:
// squeeze below SqueezeThreshold, widen above WidenThreshold, and a linear
// openness band between them. Squeeze and widen are never both non-zero.
//
// A SqueezeThreshold of 0 or WidenThreshold of 1 disables that band.
func SplitBands(raw float64, cfg Config) Decomposition {
	switch {
	case cfg.SqueezeThreshold > 0 && raw <= cfg.SqueezeThreshold:
		return Decomposition{Openness: 0, Squeeze: 1 - raw/cfg.SqueezeThreshold}
	case cfg.WidenThreshold < 1 && raw >= cfg.WidenThreshold:
		return Decomposition{Openness: 1, Widen: (raw - cfg.WidenThreshold) / (1 - cfg.WidenThreshold)}
	default:
		return Decomposition{Openness: (raw - cfg.SqueezeThreshold) / cfg.OpennessRange()}
	}
}

// LimitOpening holds the update when degraded tracking would open the lid
// by more than maxStep since the last applied value. Closing is never
// limited.
func LimitOpening(d Decomposition, current, maxStep float64, degraded bool) Decomposition {
	if degraded && d.Openness > current+maxStep {
		return Decomposition{Hold: true}
	}
	return d
}

// Quantize maps confidence to openness in steps of 1/3.
func Quantize(c Confidence) Decomposition {
	return Decomposition{Openness: float64(c) / 3}
}

// Binarize opens the lid fully when confidence is at least Compensated.
func Binarize(c Confidence) Decomposition {
	if c >= Compensated {
		return Decomposition{Openness: 1}
	}
	return Decomposition{}
}

// CapByConfidence clamps openness to a ceiling that depends on confidence,
// dropping any widen weight when the clamp applies. Squeeze is kept.
func CapByConfidence(d Decomposition, c Confidence) Decomposition {
	var ceiling float64
	switch c {
	case Compensated:
		ceiling = hybridCeilingCompensated
	case Visible:
		ceiling = hybridCeilingVisible
	case Invalid:
		ceiling = hybridCeilingInvalid
	default:
		return d
	}
	if d.Openness > ceiling {
		d.Openness = ceiling
		d.Widen = 0
	}
	return d
}

// Degraded reports whether an eye's reading is too unreliable to let the
// lid open freely: the status is Visible or worse, or the eye's debounce
// window is still draining.
func Degraded(c Confidence, timeoutCycles uint32) bool {
	return c <= Visible || timeoutCycles != 0
}

// Decompose computes the openness triple for one eye under cfg.Strategy.
// current is the openness applied on the previous cycle. cfg must be
// normalized.
func Decompose(current, raw float64, c Confidence, timeoutCycles uint32, cfg Config) Decomposition {
	switch cfg.Strategy {
	case Bool:
		return Binarize(c)
	case Stepped:
		return Quantize(c)
	case RestrictedSpeed:
		return LimitOpening(SplitBands(raw, cfg), current, cfg.MaxOpenSpeed, Degraded(c, timeoutCycles))
	case Hybrid:
		return CapByConfidence(SplitBands(raw, cfg), c)
	default:
		return SplitBands(raw, cfg)
	}
}

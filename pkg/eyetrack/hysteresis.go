package eyetrack

// EyeState is the per-eye state carried from one cycle to the next.
type EyeState struct {
	// TimeoutCycles counts down the qualifying cycles still required
	// before tracking resumes after a confidence drop.
	TimeoutCycles uint32 `json:"timeout_cycles"`

	// Tracking is this cycle's verdict.
	Tracking bool `json:"tracking"`

	// ReferenceGaze is the gaze written on the last cycle in which both
	// eyes were tracking. It anchors single-eye extrapolation.
	ReferenceGaze Vector2 `json:"reference_gaze"`

	LastGaze     Vector2 `json:"last_gaze"`
	LastOpenness float64 `json:"last_openness"`
}

// Observe runs one step of the tracking debounce and returns the verdict.
//
// A confidence drop is recognized immediately and resets the countdown to
// StabilizingCycles; the eye is then held untracked until that many
// qualifying cycles have been drained.
func (s *EyeState) Observe(c Confidence, cfg Config) bool {
	if c >= cfg.MinTracked() {
		if s.TimeoutCycles == 0 {
			s.Tracking = true
		} else {
			s.TimeoutCycles--
			s.Tracking = false
		}
	} else {
		s.TimeoutCycles = cfg.StabilizingCycles
		s.Tracking = false
	}
	return s.Tracking
}

// Settling reports whether the debounce window is still draining.
func (s EyeState) Settling() bool {
	return s.TimeoutCycles != 0
}

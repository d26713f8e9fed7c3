package eyetrack

// TuningParams holds the conditioning parameters that can be adjusted at
// runtime through the tuning API. Nil fields are left unchanged.
type TuningParams struct {
	// Lid bands
	SqueezeThreshold *float64 `json:"squeeze_threshold,omitempty"`
	WidenThreshold   *float64 `json:"widen_threshold,omitempty"`

	// RestrictedSpeed
	MaxOpenSpeed *float64 `json:"max_open_speed,omitempty"`

	// Debounce
	StabilizingCycles *uint32 `json:"stabilizing_cycles,omitempty"`
	PickyTracking     *bool   `json:"picky_tracking,omitempty"`

	Strategy                  *string `json:"strategy,omitempty"`
	UntrackedEyeFollowTracked *bool   `json:"untracked_eye_follow_tracked,omitempty"`
}

// TuningFromConfig returns params describing every field of cfg.
func TuningFromConfig(cfg Config) TuningParams {
	strategy := cfg.Strategy.String()
	return TuningParams{
		SqueezeThreshold:          &cfg.SqueezeThreshold,
		WidenThreshold:            &cfg.WidenThreshold,
		MaxOpenSpeed:              &cfg.MaxOpenSpeed,
		StabilizingCycles:         &cfg.StabilizingCycles,
		PickyTracking:             &cfg.PickyTracking,
		Strategy:                  &strategy,
		UntrackedEyeFollowTracked: &cfg.UntrackedEyeFollowTracked,
	}
}

// Apply returns base with the set fields overridden. The result is
// validated as a whole, so thresholds may be moved past each other in a
// single update as long as the final pair is ordered.
func (p TuningParams) Apply(base Config) (Config, error) {
	cfg := base
	if p.SqueezeThreshold != nil {
		cfg.SqueezeThreshold = *p.SqueezeThreshold
	}
	if p.WidenThreshold != nil {
		cfg.WidenThreshold = *p.WidenThreshold
	}
	if p.MaxOpenSpeed != nil {
		cfg.MaxOpenSpeed = *p.MaxOpenSpeed
	}
	if p.StabilizingCycles != nil {
		cfg.StabilizingCycles = *p.StabilizingCycles
	}
	if p.PickyTracking != nil {
		cfg.PickyTracking = *p.PickyTracking
	}
	if p.UntrackedEyeFollowTracked != nil {
		cfg.UntrackedEyeFollowTracked = *p.UntrackedEyeFollowTracked
	}
	if p.Strategy != nil {
		s, err := ParseStrategy(*p.Strategy)
		if err != nil {
			return base, &ValidationError{"strategy", *p.Strategy, err.Error()}
		}
		cfg.Strategy = s
	}
	n, err := cfg.Normalize()
	if err != nil {
		return base, err
	}
	return n, nil
}

// Empty reports whether no field is set.
func (p TuningParams) Empty() bool {
	return p == TuningParams{}
}

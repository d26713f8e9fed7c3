package eyetrack

import (
	"fmt"
	"strings"
)

// Default tunables, matching the values the headset module has shipped with.
const (
	DefaultSqueezeThreshold = 0.15
	DefaultWidenThreshold   = 0.90
	DefaultMaxOpenSpeed     = 0.1
	DefaultStrategy         = RestrictedSpeed
)

// Strategy selects how raw lid openness is turned into expression weights.
type Strategy int

const (
	// Bool snaps the lid fully open or closed from the eye status alone.
	Bool Strategy = iota
	// Stepped quantizes the eye status into four openness steps.
	Stepped
	// RestrictedSpeed splits the raw value into bands but caps how fast the
	// lid may open while tracking is unreliable.
	RestrictedSpeed
	// Raw splits the raw value into bands with no further filtering.
	Raw
	// Hybrid splits the raw value into bands and caps the ceiling by status.
	Hybrid
)

var strategyNames = map[Strategy]string{
	Bool:            "Bool",
	Stepped:         "Stepped",
	RestrictedSpeed: "RestrictedSpeed",
	Raw:             "RawFloat",
	Hybrid:          "Hybrid",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps a persisted strategy name to a Strategy. Matching is
// case-insensitive and "Raw" is accepted as an alias of "RawFloat".
func ParseStrategy(name string) (Strategy, error) {
	n := strings.TrimSpace(name)
	if strings.EqualFold(n, "raw") {
		return Raw, nil
	}
	for s, canonical := range strategyNames {
		if strings.EqualFold(n, canonical) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

func (s Strategy) MarshalText() ([]byte, error) {
	name, ok := strategyNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return []byte(name), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Config holds the conditioning tunables. Obtain one from DefaultConfig or
// Normalize; a Config that has not been normalized has no openness range
// and must not be handed to Decompose.
type Config struct {
	SqueezeThreshold  float64  `json:"squeeze_threshold"`
	WidenThreshold    float64  `json:"widen_threshold"`
	MaxOpenSpeed      float64  `json:"max_open_speed"` // max openness increase per cycle while degraded
	StabilizingCycles uint32   `json:"stabilizing_cycles"`
	Strategy          Strategy `json:"strategy"`

	// PickyTracking requires Tracked rather than Compensated before an eye
	// counts as tracking.
	PickyTracking bool `json:"picky_tracking"`

	// UntrackedEyeFollowTracked extrapolates a lost eye's gaze from the
	// other eye's movement since both were last tracked.
	UntrackedEyeFollowTracked bool `json:"untracked_eye_follow_tracked"`

	opennessRange float64
}

// DefaultConfig returns the shipped defaults, already normalized.
func DefaultConfig() Config {
	cfg := Config{
		SqueezeThreshold:          DefaultSqueezeThreshold,
		WidenThreshold:            DefaultWidenThreshold,
		MaxOpenSpeed:              DefaultMaxOpenSpeed,
		Strategy:                  DefaultStrategy,
		UntrackedEyeFollowTracked: true,
	}
	cfg.opennessRange = cfg.WidenThreshold - cfg.SqueezeThreshold
	return cfg
}

// Validate checks every field without modifying c. Ranges are written so
// that NaN fails them.
func (c Config) Validate() error {
	if !(c.SqueezeThreshold >= 0 && c.SqueezeThreshold < 1) {
		return &ValidationError{"squeeze_threshold", c.SqueezeThreshold, "must be in [0,1)"}
	}
	if !(c.WidenThreshold > 0 && c.WidenThreshold <= 1) {
		return &ValidationError{"widen_threshold", c.WidenThreshold, "must be in (0,1]"}
	}
	if !(c.SqueezeThreshold < c.WidenThreshold) {
		return &ValidationError{"squeeze_threshold", c.SqueezeThreshold,
			fmt.Sprintf("must be below widen_threshold %v", c.WidenThreshold)}
	}
	if !(c.MaxOpenSpeed >= 0 && c.MaxOpenSpeed <= 1) {
		return &ValidationError{"max_open_speed", c.MaxOpenSpeed, "must be in [0,1]"}
	}
	if _, ok := strategyNames[c.Strategy]; !ok {
		return &ValidationError{"strategy", int(c.Strategy), "unknown strategy"}
	}
	return nil
}

// Normalize validates c and returns a copy with the openness range cached.
func (c Config) Normalize() (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.opennessRange = c.WidenThreshold - c.SqueezeThreshold
	return c, nil
}

// OpennessRange is WidenThreshold - SqueezeThreshold, cached by Normalize.
func (c Config) OpennessRange() float64 {
	return c.opennessRange
}

// MinTracked is the lowest confidence at which an eye counts as tracking.
func (c Config) MinTracked() Confidence {
	if c.PickyTracking {
		return Tracked
	}
	return Compensated
}

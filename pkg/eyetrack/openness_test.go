package eyetrack

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func rawConfig(s Strategy) Config {
	cfg := DefaultConfig()
	cfg.Strategy = s
	return cfg
}

func TestSplitBands_Scenarios(t *testing.T) {
	cfg := rawConfig(Raw)

	tests := []struct {
		name    string
		raw     float64
		open    float64
		squeeze float64
		widen   float64
	}{
		{"deep squeeze", 0.05, 0, 1 - 0.05/0.15, 0},
		{"fully closed", 0, 0, 1, 0},
		{"mid openness", 0.5, (0.5 - 0.15) / 0.75, 0, 0},
		{"widen", 0.95, 1, 0, 0.5},
		{"fully wide", 1, 1, 0, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := SplitBands(tc.raw, cfg)
			if d.Hold {
				t.Fatal("SplitBands must never hold")
			}
			if !near(d.Openness, tc.open) || !near(d.Squeeze, tc.squeeze) || !near(d.Widen, tc.widen) {
				t.Errorf("raw=%v: got (%v, %v, %v), want (%v, %v, %v)",
					tc.raw, d.Openness, d.Squeeze, d.Widen, tc.open, tc.squeeze, tc.widen)
			}
		})
	}
}

func TestSplitBands_ContinuousAtThresholds(t *testing.T) {
	cfg := rawConfig(Raw)
	const step = 1e-7

	// At the squeeze threshold the squeeze weight reaches 0 and openness
	// leaves 0 from the other side.
	at := SplitBands(cfg.SqueezeThreshold, cfg)
	above := SplitBands(cfg.SqueezeThreshold+step, cfg)
	if at.Squeeze != 0 || at.Openness != 0 {
		t.Errorf("at squeeze threshold: got %+v", at)
	}
	if above.Openness > 1e-5 || above.Squeeze != 0 {
		t.Errorf("just above squeeze threshold: got %+v", above)
	}

	at = SplitBands(cfg.WidenThreshold, cfg)
	below := SplitBands(cfg.WidenThreshold-step, cfg)
	if at.Widen != 0 || at.Openness != 1 {
		t.Errorf("at widen threshold: got %+v", at)
	}
	if math.Abs(below.Openness-1) > 1e-5 || below.Widen != 0 {
		t.Errorf("just below widen threshold: got %+v", below)
	}
}

func TestSplitBands_SqueezeAndWidenExclusive(t *testing.T) {
	configs := []Config{DefaultConfig()}
	for _, th := range [][2]float64{{0, 1}, {0, 0.5}, {0.5, 1}, {0.3, 0.31}} {
		cfg := DefaultConfig()
		cfg.SqueezeThreshold, cfg.WidenThreshold = th[0], th[1]
		n, err := cfg.Normalize()
		if err != nil {
			t.Fatalf("normalize %v: %v", th, err)
		}
		configs = append(configs, n)
	}

	for _, cfg := range configs {
		for i := 0; i <= 1000; i++ {
			raw := float64(i) / 1000
			d := SplitBands(raw, cfg)
			if d.Squeeze != 0 && d.Widen != 0 {
				t.Fatalf("thresholds (%v, %v) raw=%v: squeeze=%v widen=%v both non-zero",
					cfg.SqueezeThreshold, cfg.WidenThreshold, raw, d.Squeeze, d.Widen)
			}
			if d.Openness < 0 || d.Openness > 1 {
				t.Fatalf("raw=%v: openness %v out of [0,1]", raw, d.Openness)
			}
		}
	}
}

func TestSplitBands_DisabledBands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SqueezeThreshold, cfg.WidenThreshold = 0, 1
	cfg, _ = cfg.Normalize()

	d := SplitBands(0, cfg)
	if d.Squeeze != 0 || d.Openness != 0 {
		t.Errorf("squeeze band disabled, raw=0: got %+v", d)
	}
	d = SplitBands(1, cfg)
	if d.Widen != 0 || d.Openness != 1 {
		t.Errorf("widen band disabled, raw=1: got %+v", d)
	}
}

func TestDecompose_Bool(t *testing.T) {
	cfg := rawConfig(Bool)
	want := map[Confidence]float64{Invalid: 0, Visible: 0, Compensated: 1, Tracked: 1}

	for c, open := range want {
		for _, raw := range []float64{0, 0.05, 0.5, 0.95} {
			d := Decompose(0.3, raw, c, 0, cfg)
			if d.Openness != open || d.Squeeze != 0 || d.Widen != 0 || d.Hold {
				t.Errorf("%v raw=%v: got %+v, want openness %v", c, raw, d, open)
			}
		}
	}
}

func TestDecompose_Stepped(t *testing.T) {
	cfg := rawConfig(Stepped)
	prev := -1.0
	for c := Invalid; c <= Tracked; c++ {
		d := Decompose(0, 0.5, c, 0, cfg)
		if !near(d.Openness, float64(c)/3) {
			t.Errorf("%v: openness %v, want %v", c, d.Openness, float64(c)/3)
		}
		if d.Openness <= prev {
			t.Errorf("%v: openness %v not above previous level %v", c, d.Openness, prev)
		}
		if d.Squeeze != 0 || d.Widen != 0 {
			t.Errorf("%v: stepped must not emit squeeze/widen, got %+v", c, d)
		}
		prev = d.Openness
	}
}

func TestDecompose_RestrictedSpeed(t *testing.T) {
	cfg := rawConfig(RestrictedSpeed)
	cfg.MaxOpenSpeed = 0.1
	const current = 0.3

	// raw that decomposes to exactly openness o
	rawFor := func(o float64) float64 { return o*cfg.OpennessRange() + cfg.SqueezeThreshold }

	tests := []struct {
		name    string
		conf    Confidence
		timeout uint32
		open    float64
		hold    bool
	}{
		{"degraded jump is held", Visible, 0, 0.6, true},
		{"invalid jump is held", Invalid, 0, 0.45, true},
		{"degraded small opening applies", Visible, 0, 0.35, false},
		{"degraded closing applies", Invalid, 0, 0.1, false},
		{"settling eye is degraded", Tracked, 2, 0.9, true},
		{"reliable jump applies", Compensated, 0, 0.9, false},
		{"tracked jump applies", Tracked, 0, 0.9, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Decompose(current, rawFor(tc.open), tc.conf, tc.timeout, cfg)
			if d.Hold != tc.hold {
				t.Fatalf("hold=%v, want %v (%+v)", d.Hold, tc.hold, d)
			}
			if !tc.hold && !near(d.Openness, tc.open) {
				t.Errorf("openness %v, want %v", d.Openness, tc.open)
			}
		})
	}
}

func TestDecompose_RestrictedSpeed_Boundary(t *testing.T) {
	cfg := rawConfig(RestrictedSpeed)
	cfg.MaxOpenSpeed = 0.1

	// Any raw whose openness stays at or below current+max updates.
	current := 0.3
	limit := current + cfg.MaxOpenSpeed
	for i := 0; i <= 100; i++ {
		raw := float64(i) / 100
		bands := SplitBands(raw, cfg)
		d := Decompose(current, raw, Visible, 0, cfg)
		if bands.Openness > limit {
			if !d.Hold {
				t.Errorf("raw=%v openness=%v: expected hold", raw, bands.Openness)
			}
		} else if d.Hold || d != bands {
			t.Errorf("raw=%v openness=%v: expected update, got %+v", raw, bands.Openness, d)
		}
	}
}

func TestDecompose_RestrictedSpeed_ZeroSpeedFreezesOpening(t *testing.T) {
	cfg := rawConfig(RestrictedSpeed)
	cfg.MaxOpenSpeed = 0

	if d := Decompose(0.2, 0.8, Invalid, 0, cfg); !d.Hold {
		t.Errorf("opening with zero speed should hold, got %+v", d)
	}
	if d := Decompose(0.2, 0.05, Invalid, 0, cfg); d.Hold {
		t.Errorf("closing with zero speed should apply, got %+v", d)
	}
}

func TestDecompose_Hybrid(t *testing.T) {
	cfg := rawConfig(Hybrid)

	tests := []struct {
		conf  Confidence
		raw   float64
		open  float64
		widen float64
	}{
		{Tracked, 0.95, 1, 0.5},
		{Compensated, 0.95, 0.75, 0},
		{Visible, 0.95, 0.5, 0},
		{Invalid, 0.95, 0.25, 0},
		{Visible, 0.3, 0.2, 0},
		{Compensated, 0.5, (0.5 - 0.15) / 0.75, 0},
	}

	for _, tc := range tests {
		d := Decompose(0, tc.raw, tc.conf, 0, cfg)
		if !near(d.Openness, tc.open) || !near(d.Widen, tc.widen) {
			t.Errorf("%v raw=%v: got %+v, want openness=%v widen=%v", tc.conf, tc.raw, d, tc.open, tc.widen)
		}
	}

	// Squeeze survives the clamp.
	d := Decompose(0, 0.05, Invalid, 0, cfg)
	if d.Openness != 0 || !near(d.Squeeze, 1-0.05/0.15) {
		t.Errorf("hybrid squeeze: got %+v", d)
	}
}

func TestDecompose_RawIgnoresConfidence(t *testing.T) {
	cfg := rawConfig(Raw)
	for c := Invalid; c <= Tracked; c++ {
		d := Decompose(0, 0.95, c, 5, cfg)
		if d.Hold || d.Openness != 1 || !near(d.Widen, 0.5) {
			t.Errorf("%v: got %+v", c, d)
		}
	}
}

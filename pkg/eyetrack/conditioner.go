package eyetrack

import "sync/atomic"

// Verdicts holds both eyes' tracking verdicts and decompositions for the
// most recent cycle.
type Verdicts struct {
	Left      bool          `json:"left_tracking"`
	Right     bool          `json:"right_tracking"`
	LeftLids  Decomposition `json:"left_lids"`
	RightLids Decomposition `json:"right_lids"`

	// Extrapolated names the eye whose gaze was derived from the other
	// eye this cycle, or is empty.
	Extrapolated string `json:"extrapolated,omitempty"`
}

// Conditioner turns Samples into Expressions, one cycle per Process call.
//
// All state is owned by the goroutine calling Process. Reconfigure may be
// called from any goroutine; the new Config takes effect at the start of
// the next cycle, never part-way through one.
type Conditioner struct {
	cfg     Config
	pending atomic.Pointer[Config]

	eyes [2]EyeState
	out  Expressions
	last Verdicts

	cycles uint64
}

// NewConditioner normalizes cfg and returns a conditioner with zeroed state.
func NewConditioner(cfg Config) (*Conditioner, error) {
	n, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	return &Conditioner{cfg: n}, nil
}

// Reconfigure validates cfg and stages it for the next cycle. An invalid
// Config is rejected and the active one is kept.
func (c *Conditioner) Reconfigure(cfg Config) error {
	n, err := cfg.Normalize()
	if err != nil {
		return err
	}
	c.pending.Store(&n)
	return nil
}

// Config returns the Config staged for the next cycle, or the active one
// if nothing is staged.
func (c *Conditioner) Config() Config {
	if p := c.pending.Load(); p != nil {
		return *p
	}
	return c.cfg
}

// Process runs one conditioning cycle and returns the updated output.
func (c *Conditioner) Process(s Sample) Expressions {
	if p := c.pending.Swap(nil); p != nil {
		c.cfg = *p
	}
	c.cycles++

	left := c.eyes[Left].Observe(s.Left.Confidence, c.cfg)
	right := c.eyes[Right].Observe(s.Right.Confidence, c.cfg)
	c.last = Verdicts{Left: left, Right: right}

	c.resolveGaze(s, left, right)

	for _, e := range [...]Eye{Left, Right} {
		st := &c.eyes[e]
		es := s.Eye(e)
		d := Decompose(st.LastOpenness, es.Openness, es.Confidence, st.TimeoutCycles, c.cfg)
		if c.out.Apply(e, d) {
			st.LastOpenness = d.Openness
		}
		if e == Left {
			c.last.LeftLids = d
		} else {
			c.last.RightLids = d
		}
	}

	return c.out
}

func (c *Conditioner) resolveGaze(s Sample, left, right bool) {
	switch {
	case left && right:
		for _, e := range [...]Eye{Left, Right} {
			c.writeDirect(e, s.Eye(e))
			c.eyes[e].ReferenceGaze = c.eyes[e].LastGaze
		}
	case left:
		c.writeDirect(Left, s.Left)
		c.follow(Right, Left)
	case right:
		c.writeDirect(Right, s.Right)
		c.follow(Left, Right)
	}
}

func (c *Conditioner) writeDirect(e Eye, es EyeSample) {
	out := c.out.Eye(e)
	out.Gaze = es.Gaze
	out.PupilDiameter = es.PupilDiameter
	c.eyes[e].LastGaze = es.Gaze
}

// follow moves the untracked eye by the tracked eye's displacement since
// both were last tracked, and borrows its pupil diameter.
func (c *Conditioner) follow(untracked, tracked Eye) {
	if !c.cfg.UntrackedEyeFollowTracked {
		return
	}
	t := &c.eyes[tracked]
	u := &c.eyes[untracked]
	gaze := t.LastGaze.Sub(t.ReferenceGaze).Add(u.ReferenceGaze)

	out := c.out.Eye(untracked)
	out.Gaze = gaze
	out.PupilDiameter = c.out.Eye(tracked).PupilDiameter
	u.LastGaze = gaze

	c.last.Extrapolated = untracked.String()
}

// Output returns the most recent output without running a cycle.
func (c *Conditioner) Output() Expressions {
	return c.out
}

// State returns a copy of one eye's conditioning state.
func (c *Conditioner) State(e Eye) EyeState {
	return c.eyes[e]
}

// Verdicts returns the verdicts of the most recent cycle.
func (c *Conditioner) Verdicts() Verdicts {
	return c.last
}

// Cycles returns how many cycles have been processed.
func (c *Conditioner) Cycles() uint64 {
	return c.cycles
}

// Reset clears all per-eye state and output, keeping the configuration.
func (c *Conditioner) Reset() {
	c.eyes = [2]EyeState{}
	c.out = Expressions{}
	c.last = Verdicts{}
	c.cycles = 0
}

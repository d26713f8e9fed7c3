// Package eyetrack conditions raw eye-tracking samples into avatar
// expression weights.
//
// Each cycle a Sample (both eyes, as read from the headset SDK) is fed to
// a Conditioner, which debounces per-eye tracking confidence, resolves
// gaze (extrapolating a lost eye from the tracked one when enabled) and
// splits the raw lid openness into openness, squeeze and widen weights
// using the configured Strategy.
//
// The package does no I/O and never blocks. A Conditioner is owned by a
// single goroutine; only Reconfigure may be called from elsewhere.
package eyetrack

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Confidence is the SDK's per-eye tracking status. Higher is more trustworthy.
type Confidence int

const (
	Invalid Confidence = iota
	Visible
	Compensated
	Tracked
)

var confidenceNames = [...]string{"invalid", "visible", "compensated", "tracked"}

func (c Confidence) String() string {
	if c < Invalid || c > Tracked {
		return "Confidence(" + strconv.Itoa(int(c)) + ")"
	}
	return confidenceNames[c]
}

// Valid reports whether c is one of the four known levels.
func (c Confidence) Valid() bool {
	return c >= Invalid && c <= Tracked
}

// ParseConfidence accepts a level name (case-insensitive) or its digit.
func ParseConfidence(s string) (Confidence, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range confidenceNames {
		if s == name || s == strconv.Itoa(i) {
			return Confidence(i), nil
		}
	}
	return Invalid, fmt.Errorf("unknown confidence %q", s)
}

func (c Confidence) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid confidence %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(b []byte) error {
	v, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Vector2 is a 2D gaze direction (x right, y up).
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vector2) Add(o Vector2) Vector2 { return Vector2{v.X + o.X, v.Y + o.Y} }
func (v Vector2) Sub(o Vector2) Vector2 { return Vector2{v.X - o.X, v.Y - o.Y} }

// EyeSample is one eye's reading for a single cycle.
type EyeSample struct {
	Gaze          Vector2    `json:"gaze"`
	Openness      float64    `json:"openness"` // raw lid openness, 0-1
	PupilDiameter float64    `json:"pupil_mm"`
	Confidence    Confidence `json:"confidence"`
}

// Sample is a complete hardware read for both eyes. It is passed by value
// and must not be modified after it has been handed to a Conditioner.
type Sample struct {
	Frame       int64     `json:"frame"`
	CaptureTime time.Time `json:"capture_time"`
	Left        EyeSample `json:"left"`
	Right       EyeSample `json:"right"`
}

// Eye selects the left or right eye.
type Eye int

const (
	Left Eye = iota
	Right
)

func (e Eye) String() string {
	if e == Right {
		return "right"
	}
	return "left"
}

// Eye returns the reading for the given eye.
func (s Sample) Eye(e Eye) EyeSample {
	if e == Right {
		return s.Right
	}
	return s.Left
}

package eyetrack

import (
	"encoding/json"
	"fmt"
)

// Shape indexes one of the expression weights driven by the lids.
type Shape int

const (
	EyeWideLeft Shape = iota
	EyeWideRight
	EyeSquintLeft
	EyeSquintRight
	BrowInnerUpLeft
	BrowInnerUpRight
	BrowOuterUpLeft
	BrowOuterUpRight
	BrowPinchLeft
	BrowPinchRight
	BrowLowererLeft
	BrowLowererRight

	ShapeCount
)

var shapeNames = [ShapeCount]string{
	"EyeWideLeft", "EyeWideRight",
	"EyeSquintLeft", "EyeSquintRight",
	"BrowInnerUpLeft", "BrowInnerUpRight",
	"BrowOuterUpLeft", "BrowOuterUpRight",
	"BrowPinchLeft", "BrowPinchRight",
	"BrowLowererLeft", "BrowLowererRight",
}

func (s Shape) String() string {
	if s < 0 || s >= ShapeCount {
		return fmt.Sprintf("Shape(%d)", int(s))
	}
	return shapeNames[s]
}

// Widen weights are mirrored onto the eye and both upper brow shapes,
// squeeze weights onto the squint and both lowering brow shapes.
var (
	widenShapes = [2][3]Shape{
		Left:  {EyeWideLeft, BrowInnerUpLeft, BrowOuterUpLeft},
		Right: {EyeWideRight, BrowInnerUpRight, BrowOuterUpRight},
	}
	squeezeShapes = [2][3]Shape{
		Left:  {EyeSquintLeft, BrowPinchLeft, BrowLowererLeft},
		Right: {EyeSquintRight, BrowPinchRight, BrowLowererRight},
	}
)

// EyeExpression is the per-eye output.
type EyeExpression struct {
	Openness      float64 `json:"openness"`
	Gaze          Vector2 `json:"gaze"`
	PupilDiameter float64 `json:"pupil_mm"`
}

// Expressions is the output set delivered to the avatar each cycle.
// It is a plain value; copies never alias the conditioner's state.
type Expressions struct {
	Left   EyeExpression       `json:"left"`
	Right  EyeExpression       `json:"right"`
	Shapes [ShapeCount]float64 `json:"-"`
}

// Eye returns a pointer to the given eye's output.
func (x *Expressions) Eye(e Eye) *EyeExpression {
	if e == Right {
		return &x.Right
	}
	return &x.Left
}

// Weight returns a single shape weight.
func (x Expressions) Weight(s Shape) float64 {
	return x.Shapes[s]
}

// Apply writes a decomposition into the eye's openness and its six
// mirrored weights. A held decomposition leaves all seven fields as they
// were and Apply reports false.
func (x *Expressions) Apply(e Eye, d Decomposition) bool {
	if d.Hold {
		return false
	}
	x.Eye(e).Openness = d.Openness
	for _, s := range widenShapes[e] {
		x.Shapes[s] = d.Widen
	}
	for _, s := range squeezeShapes[e] {
		x.Shapes[s] = d.Squeeze
	}
	return true
}

type expressionsJSON struct {
	Left   EyeExpression      `json:"left"`
	Right  EyeExpression      `json:"right"`
	Shapes map[string]float64 `json:"shapes"`
}

// MarshalJSON renders Shapes as a name to weight map.
func (x Expressions) MarshalJSON() ([]byte, error) {
	out := expressionsJSON{Left: x.Left, Right: x.Right, Shapes: make(map[string]float64, ShapeCount)}
	for i, w := range x.Shapes {
		out.Shapes[shapeNames[i]] = w
	}
	return json.Marshal(out)
}

func (x *Expressions) UnmarshalJSON(b []byte) error {
	var in expressionsJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	x.Left, x.Right = in.Left, in.Right
	x.Shapes = [ShapeCount]float64{}
	for i, name := range shapeNames {
		x.Shapes[i] = in.Shapes[name]
	}
	return nil
}

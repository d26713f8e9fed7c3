package source

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// wireEye is one eye of a tracker frame. Forward is the unit gaze ray in
// head space; only its x and y components drive the expression output.
type wireEye struct {
	Origin   [3]float64          `json:"origin"`
	Forward  [3]float64          `json:"forward"`
	Openness float64             `json:"openness"`
	PupilMM  float64             `json:"pupil_mm"`
	Status   eyetrack.Confidence `json:"status"`
}

// wireFrame is the JSON-lines record shared by the serial, bridge and
// replay sources.
type wireFrame struct {
	Frame         int64   `json:"frame"`
	CaptureTimeNS int64   `json:"capture_time_ns"`
	Left          wireEye `json:"left"`
	Right         wireEye `json:"right"`
}

// DecodeFrame parses one JSON frame into a Sample.
func DecodeFrame(b []byte) (eyetrack.Sample, error) {
	var f wireFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return eyetrack.Sample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	left, err := f.Left.sample()
	if err != nil {
		return eyetrack.Sample{}, fmt.Errorf("%w: left eye: %v", ErrMalformed, err)
	}
	right, err := f.Right.sample()
	if err != nil {
		return eyetrack.Sample{}, fmt.Errorf("%w: right eye: %v", ErrMalformed, err)
	}

	s := eyetrack.Sample{Frame: f.Frame, Left: left, Right: right}
	if f.CaptureTimeNS != 0 {
		s.CaptureTime = time.Unix(0, f.CaptureTimeNS)
	}
	return s, nil
}

// EncodeFrame renders s in the wire format. The forward ray is rebuilt
// as a unit vector looking down -z.
func EncodeFrame(s eyetrack.Sample) ([]byte, error) {
	f := wireFrame{
		Frame: s.Frame,
		Left:  encodeEye(s.Left),
		Right: encodeEye(s.Right),
	}
	if !s.CaptureTime.IsZero() {
		f.CaptureTimeNS = s.CaptureTime.UnixNano()
	}
	return json.Marshal(f)
}

func (e wireEye) sample() (eyetrack.EyeSample, error) {
	if !e.Status.Valid() {
		return eyetrack.EyeSample{}, fmt.Errorf("status %d out of range", e.Status)
	}
	if math.IsNaN(e.Openness) || e.Openness < 0 || e.Openness > 1 {
		return eyetrack.EyeSample{}, fmt.Errorf("openness %v outside [0,1]", e.Openness)
	}
	for _, v := range []float64{e.Forward[0], e.Forward[1], e.PupilMM} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eyetrack.EyeSample{}, fmt.Errorf("non-finite value %v", v)
		}
	}
	return eyetrack.EyeSample{
		Gaze:          eyetrack.Vector2{X: e.Forward[0], Y: e.Forward[1]},
		Openness:      e.Openness,
		PupilDiameter: e.PupilMM,
		Confidence:    e.Status,
	}, nil
}

func encodeEye(e eyetrack.EyeSample) wireEye {
	z := 1 - e.Gaze.X*e.Gaze.X - e.Gaze.Y*e.Gaze.Y
	if z < 0 {
		z = 0
	}
	return wireEye{
		Forward:  [3]float64{e.Gaze.X, e.Gaze.Y, -math.Sqrt(z)},
		Openness: e.Openness,
		PupilMM:  e.PupilDiameter,
		Status:   e.Confidence,
	}
}

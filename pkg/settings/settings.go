// Package settings loads and saves the persisted conditioning tunables.
//
// The file is YAML. Each field is validated on its own: a bad value is
// reported and replaced by its default, so one typo never discards the
// rest of the file.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// Read intervals for the polling loop.
const (
	NormalInterval     = 10 * time.Millisecond
	DoubleTimeInterval = 5 * time.Millisecond
)

// Settings is the validated content of a settings file.
type Settings struct {
	// DoubleTime polls the SDK at 200Hz instead of 100Hz.
	DoubleTime bool
	Config     eyetrack.Config
}

// Default returns the settings written to a fresh file.
func Default() Settings {
	return Settings{Config: eyetrack.DefaultConfig()}
}

// Interval is the polling interval implied by DoubleTime.
func (s Settings) Interval() time.Duration {
	if s.DoubleTime {
		return DoubleTimeInterval
	}
	return NormalInterval
}

// file holds the keys present in a document. A nil field was absent or
// could not be decoded.
type file struct {
	DoubleTime                *bool
	StabilizingCycles         *int64
	EyeLidStrategy            *string
	SqueezeThreshold          *float64
	WidenThreshold            *float64
	MaxOpenSpeed              *float64
	PickyTracking             *bool
	UntrackedEyeFollowTracked *bool
}

// set decodes value into the field named by key. The field is only
// assigned when decoding succeeds.
func (f *file) set(key string, value *yaml.Node) (known bool, err error) {
	switch key {
	case "double_time":
		return true, decodeInto(value, &f.DoubleTime)
	case "stabilizing_cycles":
		return true, decodeInto(value, &f.StabilizingCycles)
	case "eye_lid_strategy":
		return true, decodeInto(value, &f.EyeLidStrategy)
	case "squeeze_threshold":
		return true, decodeInto(value, &f.SqueezeThreshold)
	case "widen_threshold":
		return true, decodeInto(value, &f.WidenThreshold)
	case "max_open_speed":
		return true, decodeInto(value, &f.MaxOpenSpeed)
	case "picky_tracking":
		return true, decodeInto(value, &f.PickyTracking)
	case "untracked_eye_follow_tracked":
		return true, decodeInto(value, &f.UntrackedEyeFollowTracked)
	}
	return false, nil
}

func decodeInto[T any](n *yaml.Node, dst **T) error {
	if n.ShortTag() == "!!null" {
		return errors.New("no value given")
	}
	var v T
	if err := n.Decode(&v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

// unit reports whether v lies in [0,1]. NaN does not.
func unit(v float64) bool {
	return v >= 0 && v <= 1
}

// Parse decodes a settings document. Recoverable problems are returned as
// warnings alongside usable settings; err is only set when the document
// cannot be read at all, in which case the defaults are returned.
func Parse(data []byte) (Settings, []string, error) {
	s := Default()
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Default(), nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	var f file
	if len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return Default(), nil, fmt.Errorf("failed to parse settings: line %d: expected a mapping of keys", root.Line)
		}
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, value := root.Content[i], root.Content[i+1]
			known, err := f.set(key.Value, value)
			switch {
			case !known:
				warn("unknown key %s found with value %s", key.Value, value.Value)
			case err != nil:
				warn("line %d: %s: %v", key.Line, key.Value, err)
			}
		}
	}

	cfg := &s.Config
	if f.DoubleTime != nil {
		s.DoubleTime = *f.DoubleTime
	}
	if f.StabilizingCycles != nil {
		if n := *f.StabilizingCycles; n < 0 || n > int64(^uint32(0)) {
			warn("%d is not a valid value for stabilizing_cycles", n)
		} else {
			cfg.StabilizingCycles = uint32(n)
		}
	}
	if f.EyeLidStrategy != nil {
		if strategy, err := eyetrack.ParseStrategy(*f.EyeLidStrategy); err != nil {
			warn("%s is not a valid eye_lid_strategy", *f.EyeLidStrategy)
		} else {
			cfg.Strategy = strategy
		}
	}
	if f.PickyTracking != nil {
		cfg.PickyTracking = *f.PickyTracking
	}
	if f.UntrackedEyeFollowTracked != nil {
		cfg.UntrackedEyeFollowTracked = *f.UntrackedEyeFollowTracked
	}
	if f.MaxOpenSpeed != nil {
		if v := *f.MaxOpenSpeed; !unit(v) {
			warn("max_open_speed may not be <0 or >1, got %v", v)
		} else {
			cfg.MaxOpenSpeed = v
		}
	}

	squeeze, widen := eyetrack.DefaultSqueezeThreshold, eyetrack.DefaultWidenThreshold
	if f.SqueezeThreshold != nil {
		if v := *f.SqueezeThreshold; !unit(v) {
			warn("squeeze_threshold may not be <0 or >1, got %v", v)
		} else {
			squeeze = v
		}
	}
	if f.WidenThreshold != nil {
		if v := *f.WidenThreshold; !unit(v) {
			warn("widen_threshold may not be <0 or >1, got %v", v)
		} else {
			widen = v
		}
	}
	if squeeze < widen {
		cfg.SqueezeThreshold, cfg.WidenThreshold = squeeze, widen
	} else {
		warn("squeeze_threshold %v must be below widen_threshold %v; using defaults", squeeze, widen)
	}

	n, err := cfg.Normalize()
	if err != nil {
		return Default(), warnings, fmt.Errorf("settings rejected: %w", err)
	}
	s.Config = n
	return s, warnings, nil
}

// Load reads and parses the settings file at path.
func Load(path string) (Settings, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return Parse(data)
}

// Marshal renders s as a commented YAML document.
func Marshal(s Settings) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value any, comment string) error {
		var v yaml.Node
		if err := v.Encode(value); err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key, HeadComment: comment}, &v)
		return nil
	}

	cfg := s.Config
	fields := []struct {
		key     string
		value   any
		comment string
	}{
		{"double_time", s.DoubleTime,
			"# Poll the headset SDK at 200Hz (5ms) instead of 100Hz (10ms)."},
		{"stabilizing_cycles", cfg.StabilizingCycles,
			"# Consecutive cycles an eye must report Compensated or better (Tracked when\n" +
				"# picky_tracking is set) before its gaze is followed again.\n" +
				"# High values can visibly freeze gaze under unstable tracking."},
		{"picky_tracking", cfg.PickyTracking,
			"# Require Tracked rather than Compensated status for an eye to count as tracked."},
		{"untracked_eye_follow_tracked", cfg.UntrackedEyeFollowTracked,
			"# Move a lost eye along with the tracked one instead of freezing it."},
		{"eye_lid_strategy", cfg.Strategy.String(),
			"# How lid openness is computed: Bool, Stepped, RawFloat, RestrictedSpeed or Hybrid.\n" +
				"# Bool => fully open or closed from eye status\n" +
				"# Stepped => open, 1/3 closed, 2/3 closed or closed from eye status\n" +
				"# RawFloat => SDK openness split by the thresholds, no filtering\n" +
				"# RestrictedSpeed => like RawFloat, but opening speed is capped by max_open_speed\n" +
				"#   while the eye status is unreliable\n" +
				"# Hybrid => like RawFloat, capped at 3/4, 1/2 or 1/4 open by eye status"},
		{"squeeze_threshold", cfg.SqueezeThreshold,
			"# Raw openness at or below squeeze_threshold drives squint; at or above\n" +
				"# widen_threshold drives widen. 0 and 1 disable the respective band.\n" +
				"# squeeze_threshold must stay below widen_threshold."},
		{"widen_threshold", cfg.WidenThreshold, ""},
		{"max_open_speed", cfg.MaxOpenSpeed,
			"# RestrictedSpeed only: largest openness increase per cycle while unreliable.\n" +
				"# 0 keeps the lids from opening at all until tracking recovers."},
	}
	for _, f := range fields {
		if err := add(f.key, f.value, f.comment); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes s to path, creating parent directories as needed.
func Save(path string, s Settings) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// LoadOrCreate loads path, first writing the defaults if it does not exist.
func LoadOrCreate(path string) (Settings, []string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s := Default()
		if err := Save(path, s); err != nil {
			return s, nil, err
		}
		return s, nil, nil
	}
	return Load(path)
}

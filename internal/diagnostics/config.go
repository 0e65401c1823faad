package diagnostics

import (
	"errors"
	"time"
)

// Weights of the quality components. They need not sum to one.
type Weights struct {
	Freeze     float64 `toml:"freeze" json:"freeze"`
	Pixelation float64 `toml:"pixelation" json:"pixelation"`
	Sharpness  float64 `toml:"sharpness" json:"sharpness"`
	Contrast   float64 `toml:"contrast" json:"contrast"`
	Errors     float64 `toml:"errors" json:"errors"`
}

// Config tunes the detectors.
type Config struct {
	// NoiseThreshold is the luma difference a pixel must exceed to count as changed.
	NoiseThreshold int
	// FreezeThreshold is the changed-pixel count (full-frame scale) under
	// which a frame is quiet.
	FreezeThreshold int
	// FreezeDebounceFrames quiet frames in a row make the picture frozen.
	FreezeDebounceFrames int
	// DiffStep subsamples the previous-frame copy in both directions.
	DiffStep int

	// MotionThreshold is the mean absolute luma difference per pixel under
	// which a frame is still.
	MotionThreshold float64
	// StoppedFrames still frames in a row make the picture stopped.
	StoppedFrames int

	PixelationBlockSize      int
	FlatBlockStdDev          float64
	PixelationRatioThreshold float64

	SharpnessScale float64
	ContrastScale  float64
	Weights        Weights
	HistorySize    int
	// NeutralQuality is reported when no component can be computed.
	NeutralQuality float64
	// MaxGap between frames after which the previous frame is not compared.
	MaxGap time.Duration
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		NoiseThreshold:           10,
		FreezeThreshold:          50,
		FreezeDebounceFrames:     3,
		DiffStep:                 2,
		MotionThreshold:          1.0,
		StoppedFrames:            10,
		PixelationBlockSize:      8,
		FlatBlockStdDev:          5,
		PixelationRatioThreshold: 0.3,
		SharpnessScale:           100,
		ContrastScale:            128,
		Weights: Weights{
			Freeze:     0.25,
			Pixelation: 0.2,
			Sharpness:  0.2,
			Contrast:   0.2,
			Errors:     0.15,
		},
		HistorySize:    10,
		NeutralQuality: 0.5,
		MaxGap:         5 * time.Second,
	}
}

// Validate reports settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.NoiseThreshold < 0 || c.NoiseThreshold > 255 {
		errs = append(errs, errors.New("noise threshold must be in [0,255]"))
	}
	if c.FreezeThreshold < 1 {
		errs = append(errs, errors.New("freeze threshold must be at least 1"))
	}
	if c.FreezeDebounceFrames < 1 {
		errs = append(errs, errors.New("freeze debounce must be at least 1 frame"))
	}
	if c.DiffStep < 1 {
		errs = append(errs, errors.New("diff step must be at least 1"))
	}
	if c.StoppedFrames < 1 {
		errs = append(errs, errors.New("stopped frames must be at least 1"))
	}
	if c.PixelationBlockSize < 2 {
		errs = append(errs, errors.New("pixelation block size must be at least 2"))
	}
	if c.PixelationRatioThreshold < 0 || c.PixelationRatioThreshold > 1 {
		errs = append(errs, errors.New("pixelation ratio threshold must be in [0,1]"))
	}
	if c.SharpnessScale <= 0 || c.ContrastScale <= 0 {
		errs = append(errs, errors.New("sharpness and contrast scales must be positive"))
	}
	if c.Weights.Freeze < 0 || c.Weights.Pixelation < 0 || c.Weights.Sharpness < 0 || c.Weights.Contrast < 0 || c.Weights.Errors < 0 {
		errs = append(errs, errors.New("weights must not be negative"))
	}
	if c.HistorySize < 1 {
		errs = append(errs, errors.New("history size must be at least 1"))
	}
	if c.NeutralQuality < 0 || c.NeutralQuality > 1 {
		errs = append(errs, errors.New("neutral quality must be in [0,1]"))
	}
	return errors.Join(errs...)
}

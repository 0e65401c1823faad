package diagnostics

import (
	"errors"
	"fmt"
	"time"
)

// Result is the outcome of analyzing one frame.
type Result struct {
	Seq   uint64 `json:"seq"`
	Epoch uint64 `json:"epoch"`

	Frozen        bool    `json:"frozen"`
	FrozenCount   int     `json:"frozen_count"`
	Stopped       bool    `json:"stopped"`
	ChangedPixels int     `json:"changed_pixels"`
	MeanAbsDiff   float64 `json:"mean_abs_diff"`
	// DiffValid is false when there was no comparable previous frame.
	DiffValid bool `json:"diff_valid"`

	Pixelated      bool    `json:"pixelated"`
	FlatBlockRatio float64 `json:"flat_block_ratio"`
	Sharpness      float64 `json:"sharpness"`
	Contrast       float64 `json:"contrast"`
	Quality        float64 `json:"quality"`

	// Stale marks a result carried over after a frame could not be analyzed.
	Stale      bool      `json:"stale"`
	ComputedAt time.Time `json:"computed_at"`
}

// Stats summarizes an engine's lifetime.
type Stats struct {
	FramesAnalyzed  uint64  `json:"frames_analyzed"`
	FrozenEpisodes  uint64  `json:"frozen_episodes"`
	StoppedEpisodes uint64  `json:"stopped_episodes"`
	PixelatedFrames uint64  `json:"pixelated_frames"`
	Errors          uint64  `json:"errors"`
	Latest          *Result `json:"latest,omitempty"`
}

// ErrMalformedFrame is matched by every *Error.
var ErrMalformedFrame = errors.New("malformed frame")

// Error reports a frame the engine could not analyze.
type Error struct {
	Seq    uint64
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("diagnostics: frame %d: %s", e.Seq, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrMalformedFrame
}

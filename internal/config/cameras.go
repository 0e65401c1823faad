package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/camwatch/internal/ffmpeg"
	"github.com/smazurov/camwatch/internal/monitor"
)

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// BackoffEntry is the [backoff] sub-table of a camera.
type BackoffEntry struct {
	Initial    *Duration `toml:"initial"`
	Max        *Duration `toml:"max"`
	Multiplier *float64  `toml:"multiplier"`
	Jitter     *float64  `toml:"jitter"`
}

// WeightsEntry is the [weights] sub-table of a camera.
type WeightsEntry struct {
	Freeze     *float64 `toml:"freeze"`
	Pixelation *float64 `toml:"pixelation"`
	Sharpness  *float64 `toml:"sharpness"`
	Contrast   *float64 `toml:"contrast"`
	Errors     *float64 `toml:"errors"`
}

// CameraEntry holds the keys of one camera table. Unset keys inherit from
// [defaults] and then from the built-in defaults.
type CameraEntry struct {
	Name    *string `toml:"name"`
	URL     *string `toml:"url"`
	Enabled *bool   `toml:"enabled"`

	BufferCapacityBytes    *int          `toml:"buffer_capacity_bytes"`
	ConnectTimeout         *Duration     `toml:"connect_timeout"`
	ReadTimeout            *Duration     `toml:"read_timeout"`
	FrameMaxAge            *Duration     `toml:"frame_max_age"`
	MonitoringHz           *float64      `toml:"monitoring_hz"`
	VideoHz                *float64      `toml:"video_hz"`
	MaxConsecutiveFailures *int          `toml:"max_consecutive_failures"`
	Backoff                *BackoffEntry `toml:"backoff"`

	FreezeThreshold          *int          `toml:"freeze_threshold"`
	FreezeDebounceFrames     *int          `toml:"freeze_debounce_frames"`
	NoiseThreshold           *int          `toml:"noise_threshold"`
	MotionThreshold          *float64      `toml:"motion_threshold"`
	StoppedFrames            *int          `toml:"stopped_frames"`
	PixelationBlockSize      *int          `toml:"pixelation_block_size"`
	PixelationRatioThreshold *float64      `toml:"pixelation_ratio_threshold"`
	FlatBlockStdDev          *float64      `toml:"flat_block_stddev"`
	HistorySize              *int          `toml:"history_size"`
	Weights                  *WeightsEntry `toml:"weights"`

	QualityFloor         *float64  `toml:"quality_floor"`
	NotificationCooldown *Duration `toml:"notification_cooldown"`
	AnalysisQueue        *int      `toml:"analysis_queue"`

	DecodeWidth   *int                `toml:"decode_width"`
	DecodeHeight  *int                `toml:"decode_height"`
	DecodeFPS     *int                `toml:"decode_fps"`
	Transport     *string             `toml:"transport"`
	FFmpegBinary  *string             `toml:"ffmpeg_binary"`
	FFmpegOptions []ffmpeg.OptionType `toml:"ffmpeg_options"`
}

// CamerasFile is the on-disk layout of cameras.toml.
type CamerasFile struct {
	Defaults CameraEntry            `toml:"defaults"`
	Cameras  map[string]CameraEntry `toml:"cameras"`
}

// LoadCameras reads a cameras file and returns the enabled cameras sorted
// by id, every one validated. A missing file yields no cameras.
func LoadCameras(path string) ([]monitor.CameraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cameras file: %w", err)
	}
	return ParseCameras(data)
}

// ParseCameras decodes cameras.toml content.
func ParseCameras(data []byte) ([]monitor.CameraConfig, error) {
	var file CamerasFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("parse cameras file: %s", strict.String())
		}
		return nil, fmt.Errorf("parse cameras file: %w", err)
	}

	ids := make([]string, 0, len(file.Cameras))
	for id := range file.Cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		cameras []monitor.CameraConfig
		errs    []error
	)
	for _, id := range ids {
		entry := file.Cameras[id]
		cfg := monitor.DefaultCameraConfig(id, "")
		file.Defaults.apply(&cfg)
		entry.apply(&cfg)

		if !enabled(file.Defaults, entry) {
			continue
		}
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := ffmpeg.ValidateOptions(cfg.Decoder.Options); err != nil {
			errs = append(errs, fmt.Errorf("camera %q: %w", id, err))
			continue
		}
		cameras = append(cameras, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cameras, nil
}

func enabled(defaults, entry CameraEntry) bool {
	if entry.Enabled != nil {
		return *entry.Enabled
	}
	if defaults.Enabled != nil {
		return *defaults.Enabled
	}
	return true
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

// apply overlays the keys present in e onto cfg.
func (e CameraEntry) apply(cfg *monitor.CameraConfig) {
	set(&cfg.Name, e.Name)
	set(&cfg.Stream.URL, e.URL)

	s := &cfg.Stream
	set(&s.BufferCapacity, e.BufferCapacityBytes)
	setDuration(&s.ConnectTimeout, e.ConnectTimeout)
	setDuration(&s.ReadTimeout, e.ReadTimeout)
	setDuration(&s.FrameMaxAge, e.FrameMaxAge)
	set(&s.MonitoringHz, e.MonitoringHz)
	set(&s.VideoHz, e.VideoHz)
	set(&s.MaxConsecutiveFailures, e.MaxConsecutiveFailures)
	if b := e.Backoff; b != nil {
		setDuration(&s.Backoff.Initial, b.Initial)
		setDuration(&s.Backoff.Max, b.Max)
		set(&s.Backoff.Multiplier, b.Multiplier)
		set(&s.Backoff.Jitter, b.Jitter)
	}

	d := &cfg.Diagnostics
	set(&d.FreezeThreshold, e.FreezeThreshold)
	set(&d.FreezeDebounceFrames, e.FreezeDebounceFrames)
	set(&d.NoiseThreshold, e.NoiseThreshold)
	set(&d.MotionThreshold, e.MotionThreshold)
	set(&d.StoppedFrames, e.StoppedFrames)
	set(&d.PixelationBlockSize, e.PixelationBlockSize)
	set(&d.PixelationRatioThreshold, e.PixelationRatioThreshold)
	set(&d.FlatBlockStdDev, e.FlatBlockStdDev)
	set(&d.HistorySize, e.HistorySize)
	if w := e.Weights; w != nil {
		set(&d.Weights.Freeze, w.Freeze)
		set(&d.Weights.Pixelation, w.Pixelation)
		set(&d.Weights.Sharpness, w.Sharpness)
		set(&d.Weights.Contrast, w.Contrast)
		set(&d.Weights.Errors, w.Errors)
	}

	set(&cfg.QualityFloor, e.QualityFloor)
	setDuration(&cfg.NotificationCooldown, e.NotificationCooldown)
	set(&cfg.AnalysisQueue, e.AnalysisQueue)

	dc := &cfg.Decoder
	set(&dc.Width, e.DecodeWidth)
	set(&dc.Height, e.DecodeHeight)
	set(&dc.FPS, e.DecodeFPS)
	set(&dc.Transport, e.Transport)
	set(&dc.Binary, e.FFmpegBinary)
	if e.FFmpegOptions != nil {
		dc.Options = slices.Clone(e.FFmpegOptions)
	}
}

package ffmpeg

import (
	"fmt"
	"slices"
)

// OptionType is a named ffmpeg input behavior flag.
type OptionType string

// Input option flags.
const (
	OptionGeneratePTS    OptionType = "genpts"
	OptionIgnoreDTS      OptionType = "igndts"
	OptionDiscardCorrupt OptionType = "discard_corrupt"
	OptionIgnoreErrors   OptionType = "ignore_err"
	OptionLowLatency     OptionType = "low_latency"
	OptionWallclock      OptionType = "wallclock_ts"
)

// OptionCategory groups options for display.
type OptionCategory string

const (
	CategoryTiming      OptionCategory = "Timing"
	CategoryErrorHandle OptionCategory = "Error Handling"
	CategoryPerformance OptionCategory = "Performance"
)

// Option describes an input flag.
type Option struct {
	Key           OptionType     `json:"key"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Category      OptionCategory `json:"category"`
	AppDefault    bool           `json:"app_default"`
	ConflictsWith []OptionType   `json:"conflicts_with,omitempty"`
}

// AllOptions lists every supported input flag.
var AllOptions = []Option{
	{
		Key:           OptionGeneratePTS,
		Name:          "Generate PTS",
		Description:   "Generate missing presentation timestamps",
		Category:      CategoryTiming,
		ConflictsWith: []OptionType{OptionWallclock},
	},
	{
		Key:         OptionIgnoreDTS,
		Name:        "Ignore DTS",
		Description: "Ignore decode timestamps from broken muxers",
		Category:    CategoryTiming,
	},
	{
		Key:         OptionDiscardCorrupt,
		Name:        "Discard Corrupt",
		Description: "Drop packets flagged corrupt instead of decoding garbage",
		Category:    CategoryErrorHandle,
		AppDefault:  true,
	},
	{
		Key:         OptionIgnoreErrors,
		Name:        "Ignore Errors",
		Description: "Keep decoding after stream errors",
		Category:    CategoryErrorHandle,
	},
	{
		Key:         OptionLowLatency,
		Name:        "Low Latency",
		Description: "Disable input buffering so frames reflect the live picture",
		Category:    CategoryPerformance,
		AppDefault:  true,
	},
	{
		Key:           OptionWallclock,
		Name:          "Wallclock Timestamps",
		Description:   "Stamp packets with arrival time",
		Category:      CategoryTiming,
		ConflictsWith: []OptionType{OptionGeneratePTS},
	},
}

// GetOptionByKey returns the option with key, or nil.
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// GetDefaultOptions returns the options enabled when a camera sets none.
func GetDefaultOptions() []OptionType {
	var defaults []OptionType
	for _, opt := range AllOptions {
		if opt.AppDefault {
			defaults = append(defaults, opt.Key)
		}
	}
	return defaults
}

// ValidateOptions rejects unknown keys and conflicting pairs.
func ValidateOptions(selected []OptionType) error {
	for _, key := range selected {
		opt := GetOptionByKey(key)
		if opt == nil {
			return fmt.Errorf("unknown ffmpeg option %q", key)
		}
		for _, conflict := range opt.ConflictsWith {
			if slices.Contains(selected, conflict) {
				return fmt.Errorf("ffmpeg option %q conflicts with %q", key, conflict)
			}
		}
	}
	return nil
}

// inputArgs translates options into ffmpeg input arguments. fflags values are
// merged into a single -fflags argument.
func inputArgs(options []OptionType) []string {
	var args []string
	fflags := ""

	for _, opt := range options {
		switch opt {
		case OptionGeneratePTS:
			fflags += "+genpts"
		case OptionIgnoreDTS:
			fflags += "+igndts"
		case OptionDiscardCorrupt:
			fflags += "+discardcorrupt"
		case OptionLowLatency:
			fflags += "+nobuffer"
			args = append(args, "-flags", "low_delay")
		case OptionIgnoreErrors:
			args = append(args, "-err_detect", "ignore_err")
		case OptionWallclock:
			args = append(args, "-use_wallclock_as_timestamps", "1")
		}
	}

	if fflags != "" {
		args = append([]string{"-fflags", fflags}, args...)
	}
	return args
}

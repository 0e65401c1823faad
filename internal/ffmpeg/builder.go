package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Base returns the ffmpeg binary with standard flags.
func Base(binary string) []string {
	if binary == "" {
		binary = "ffmpeg"
	}
	return []string{binary, "-hide_banner", "-nostdin"}
}

// BuildDecodeArgs builds the argv for a decoder that reads an RTSP stream and
// writes raw 8-bit gray frames of Width x Height to stdout.
func BuildDecodeArgs(p *DecodeParams) ([]string, error) {
	if p.URL == "" {
		return nil, errors.New("decode url is required")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid decode size %dx%d", p.Width, p.Height)
	}
	if err := ValidateOptions(p.Options); err != nil {
		return nil, err
	}

	args := Base(p.Binary)

	level := p.LogLevel
	if level == "" {
		level = "warning"
	}
	// level+ prefixes every line with [level] for ParseLogLevel
	args = append(args, "-loglevel", "level+"+level)

	if strings.HasPrefix(p.URL, "rtsp://") || strings.HasPrefix(p.URL, "rtsps://") {
		transport := p.Transport
		if transport == "" {
			transport = "tcp"
		}
		args = append(args, "-rtsp_transport", transport)
		if p.OpenTimeout > 0 {
			args = append(args, "-timeout", strconv.Itoa(p.OpenTimeout))
		}
	}

	args = append(args, inputArgs(p.Options)...)
	args = append(args, p.ExtraInput...)
	args = append(args, "-i", p.URL)

	// Video only, scaled to the analysis size
	filters := []string{fmt.Sprintf("scale=%d:%d", p.Width, p.Height)}
	if p.FPS > 0 {
		filters = append([]string{fmt.Sprintf("fps=%d", p.FPS)}, filters...)
	}
	args = append(args,
		"-an", "-sn", "-dn",
		"-vf", strings.Join(filters, ","),
		"-pix_fmt", "gray",
		"-f", "rawvideo",
		"pipe:1",
	)

	return args, nil
}

// FrameSize returns the byte size of one raw gray frame.
func FrameSize(width, height int) int {
	return width * height
}

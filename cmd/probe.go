package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/camwatch/internal/diagnostics"
	"github.com/smazurov/camwatch/internal/frames"
	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/media"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	Timeout   time.Duration
	Frames    int
	Width     int
	Height    int
	Transport string
	FFmpeg    string
	JSON      bool
}

// ProbeReport is the outcome of a probe run.
type ProbeReport struct {
	URL         string              `json:"url"`
	VideoCodecs []string            `json:"video_codecs,omitempty"`
	AudioCodecs []string            `json:"audio_codecs,omitempty"`
	Latency     time.Duration       `json:"latency_ns,omitempty"`
	Error       string              `json:"error,omitempty"`
	ErrorKind   string              `json:"error_kind,omitempty"`
	Frames      int                 `json:"frames"`
	FPS         float64             `json:"fps,omitempty"`
	Diagnostics *diagnostics.Result `json:"diagnostics,omitempty"`
	Stats       *diagnostics.Stats  `json:"stats,omitempty"`
}

type prober func(ctx context.Context, url string, timeout time.Duration) (*media.ProbeResult, error)

// CreateProbeCmd creates the probe command. It checks reachability and
// credentials with an RTSP DESCRIBE, then optionally decodes a few frames
// and runs them through the diagnostics engine.
func CreateProbeCmd() *cobra.Command {
	opts := probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe <rtsp-url>",
		Short: "Check a camera stream and judge its picture",
		Long: `Connects to the stream, reports the advertised codecs and round trip, ` +
			`then decodes --frames pictures and prints freeze, pixelation and quality diagnostics. ` +
			`Exits non-zero when the camera cannot be reached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialer := media.NewFFmpegDialer("probe", media.DecoderConfig{
				Binary:    opts.FFmpeg,
				Width:     opts.Width,
				Height:    opts.Height,
				Transport: opts.Transport,
				SkipProbe: true,
			}, logging.GetLogger("media"))

			report := runProbe(ctx, args[0], opts, media.Probe, dialer)
			if err := writeReport(cmd.OutOrStdout(), report, opts.JSON); err != nil {
				return err
			}
			if report.Error != "" {
				cmd.SilenceUsage = true
				return errors.New(report.Error)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Connect and read timeout")
	cmd.Flags().IntVarP(&opts.Frames, "frames", "n", 20, "Frames to decode and analyze, 0 to only probe")
	cmd.Flags().IntVar(&opts.Width, "width", 320, "Decode width")
	cmd.Flags().IntVar(&opts.Height, "height", 180, "Decode height")
	cmd.Flags().StringVar(&opts.Transport, "transport", "tcp", "RTSP transport (tcp or udp)")
	cmd.Flags().StringVar(&opts.FFmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the report as JSON")

	return cmd
}

func runProbe(ctx context.Context, url string, opts probeOptions, probe prober, dialer media.Dialer) ProbeReport {
	report := ProbeReport{URL: media.RedactURL(url)}

	result, err := probe(ctx, url, opts.Timeout)
	if err != nil {
		report.fail(err)
		return report
	}
	report.VideoCodecs = result.VideoCodecs
	report.AudioCodecs = result.AudioCodecs
	report.Latency = result.Latency
	if !result.HasVideo() {
		report.Error = "stream advertises no video track"
		return report
	}
	if opts.Frames <= 0 {
		return report
	}

	session, err := dialer.Dial(ctx, url, opts.Timeout)
	if err != nil {
		report.fail(err)
		return report
	}
	defer session.Close()

	engine := diagnostics.NewEngine(diagnostics.DefaultConfig())
	var first, last time.Time
	for range opts.Frames {
		readCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		img, readErr := session.ReadFrame(readCtx)
		cancel()
		if readErr != nil {
			if media.IsDecodeError(readErr) {
				continue
			}
			report.fail(readErr)
			break
		}
		report.Frames++
		if report.Frames == 1 {
			first = img.Timestamp
		}
		last = img.Timestamp

		res, _ := engine.Analyze(&frames.Frame{
			Seq:       uint64(report.Frames),
			Epoch:     1,
			Timestamp: img.Timestamp,
			Width:     img.Width,
			Height:    img.Height,
			Pix:       img.Pix,
		})
		report.Diagnostics = &res
	}

	if span := last.Sub(first).Seconds(); report.Frames > 1 && span > 0 {
		report.FPS = float64(report.Frames-1) / span
	}
	stats := engine.Stats()
	report.Stats = &stats
	return report
}

func (r *ProbeReport) fail(err error) {
	r.Error = err.Error()
	var ce *media.ConnectError
	if errors.As(err, &ce) {
		r.ErrorKind = string(ce.Kind)
	}
}

func writeReport(w io.Writer, r ProbeReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "URL:        %s\n", r.URL)
	if r.Error != "" && r.VideoCodecs == nil {
		fmt.Fprintf(w, "Status:     unreachable (%s)\n", r.ErrorKind)
		fmt.Fprintf(w, "Error:      %s\n", r.Error)
		return nil
	}
	fmt.Fprintf(w, "Video:      %v\n", r.VideoCodecs)
	if len(r.AudioCodecs) > 0 {
		fmt.Fprintf(w, "Audio:      %v\n", r.AudioCodecs)
	}
	fmt.Fprintf(w, "Latency:    %s\n", r.Latency.Round(time.Millisecond))
	if r.Frames > 0 {
		fmt.Fprintf(w, "Frames:     %d (%.1f fps)\n", r.Frames, r.FPS)
	}
	if d := r.Diagnostics; d != nil {
		fmt.Fprintf(w, "Quality:    %.2f\n", d.Quality)
		fmt.Fprintf(w, "Frozen:     %t\n", d.Frozen)
		fmt.Fprintf(w, "Pixelated:  %t (flat blocks %.0f%%)\n", d.Pixelated, d.FlatBlockRatio*100)
		fmt.Fprintf(w, "Sharpness:  %.1f\n", d.Sharpness)
		fmt.Fprintf(w, "Contrast:   %.1f\n", d.Contrast)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", r.Error)
	}
	return nil
}

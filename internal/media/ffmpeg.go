package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camwatch/internal/ffmpeg"
	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/process"
)

// DecoderConfig configures the ffmpeg-backed dialer.
type DecoderConfig struct {
	Binary    string
	Width     int
	Height    int
	FPS       int
	Transport string
	Options   []ffmpeg.OptionType
	// ExtraInput is a raw argument string placed before -i.
	ExtraInput string
	LogLevel   string
	// SkipProbe disables the go2rtc DESCRIBE probe before launching ffmpeg.
	SkipProbe bool
}

// FFmpegDialer opens sessions by probing the RTSP endpoint and then decoding
// it with an ffmpeg subprocess.
type FFmpegDialer struct {
	id     string
	config DecoderConfig
	logger logging.Logger
	probe  func(ctx context.Context, url string, timeout time.Duration) (*ProbeResult, error)
}

// NewFFmpegDialer creates a dialer. id tags the decoder process in logs.
func NewFFmpegDialer(id string, config DecoderConfig, logger logging.Logger) *FFmpegDialer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FFmpegDialer{id: id, config: config, logger: logger, probe: Probe}
}

// Dial implements Dialer. It returns once the decoder produced its first
// picture, so a nil error means frames are flowing.
func (d *FFmpegDialer) Dial(ctx context.Context, url string, timeout time.Duration) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !d.config.SkipProbe && isRTSP(url) {
		result, err := d.probe(dialCtx, url, timeout)
		if err != nil {
			return nil, err
		}
		if !result.HasVideo() {
			return nil, NewConnectError(KindUnreachable, url, errors.New("no video track advertised"))
		}
		d.logger.Debug("RTSP probe ok", "id", d.id, "video", result.VideoCodecs, "latency", result.Latency)
	}

	args, err := d.buildArgs(url, timeout)
	if err != nil {
		return nil, NewConnectError(KindUnreachable, url, err)
	}

	proc := process.NewProcess(d.id, args, d.logger)
	proc.SetTimeouts(2*time.Second, 2*time.Second)
	decodeErrors := &atomic.Int64{}
	ffmpegLogger := logging.GetLogger("ffmpeg")
	proc.SetLogParser(ffmpegLogger, func(line string) (string, string) {
		level, msg := ffmpeg.ParseLogLevel(line)
		if isDecodeFailure(level, msg) {
			decodeErrors.Add(1)
		}
		return level, msg
	})

	stdout, err := proc.Start()
	if err != nil {
		return nil, NewConnectError(KindUnreachable, url, err)
	}

	s := newStreamSession(stdout, d.config.Width, d.config.Height, proc, decodeErrors)
	go s.readLoop()

	if err := s.awaitFirst(dialCtx); err != nil {
		_ = s.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewConnectError(KindTimeout, url, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, NewConnectError(KindUnreachable, url, err)
		}
		reason := ffmpeg.LastError(proc.Stderr())
		if reason == "" {
			return nil, NewConnectError(KindUnreachable, url, err)
		}
		return nil, NewConnectError(ClassifyMessage(reason), url, errors.New(reason))
	}
	return s, nil
}

func (d *FFmpegDialer) buildArgs(url string, timeout time.Duration) ([]string, error) {
	extra, err := process.ParseCommand(d.config.ExtraInput)
	if err != nil {
		return nil, fmt.Errorf("extra input args: %w", err)
	}
	options := d.config.Options
	if options == nil {
		options = ffmpeg.GetDefaultOptions()
	}
	return ffmpeg.BuildDecodeArgs(&ffmpeg.DecodeParams{
		Binary:      d.config.Binary,
		URL:         url,
		Transport:   d.config.Transport,
		OpenTimeout: int(timeout / time.Microsecond),
		Options:     options,
		ExtraInput:  extra,
		LogLevel:    d.config.LogLevel,
		Width:       d.config.Width,
		Height:      d.config.Height,
		FPS:         d.config.FPS,
	})
}

func isRTSP(url string) bool {
	return strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://")
}

// isDecodeFailure matches ffmpeg error lines emitted when a picture could not
// be reconstructed.
func isDecodeFailure(level, msg string) bool {
	if level != "error" {
		return false
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "error while decoding") ||
		strings.Contains(msg, "concealing") ||
		strings.Contains(msg, "corrupt") ||
		strings.Contains(msg, "invalid data")
}

// stopper is the part of a decoder process a session needs.
type stopper interface {
	Stop() int
	Stderr() []string
}

// streamSession reads fixed-size raw frames from a decoder's stdout in the
// background and hands out the newest one on demand.
type streamSession struct {
	reader       io.ReadCloser
	width        int
	height       int
	proc         stopper
	decodeErrors *atomic.Int64

	mu            sync.Mutex
	latest        Image
	latestSeq     uint64
	deliveredSeq  uint64
	seenDecodeErr int64
	err           error
	notify        chan struct{}
	closeOnce     sync.Once
}

func newStreamSession(reader io.ReadCloser, width, height int, proc stopper, decodeErrors *atomic.Int64) *streamSession {
	if decodeErrors == nil {
		decodeErrors = &atomic.Int64{}
	}
	return &streamSession{
		reader:       reader,
		width:        width,
		height:       height,
		proc:         proc,
		decodeErrors: decodeErrors,
		notify:       make(chan struct{}),
	}
}

// readLoop runs until the reader fails or is closed.
func (s *streamSession) readLoop() {
	size := ffmpeg.FrameSize(s.width, s.height)
	for {
		pix := make([]byte, size)
		if _, err := io.ReadFull(s.reader, pix); err != nil {
			s.finish(err)
			return
		}

		s.mu.Lock()
		s.latest = Image{Width: s.width, Height: s.height, Pix: pix, Timestamp: time.Now()}
		s.latestSeq++
		close(s.notify)
		s.notify = make(chan struct{})
		s.mu.Unlock()
	}
}

func (s *streamSession) finish(readErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		err := fmt.Errorf("%w: %v", ErrStreamEnded, readErr)
		if s.proc != nil {
			if reason := ffmpeg.LastError(s.proc.Stderr()); reason != "" {
				err = fmt.Errorf("%w: %s", ErrStreamEnded, reason)
			}
		}
		s.err = err
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

// awaitFirst blocks until one frame was decoded, without delivering it.
func (s *streamSession) awaitFirst(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.latestSeq > 0 {
			s.mu.Unlock()
			return nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return err
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadFrame implements Session.
func (s *streamSession) ReadFrame(ctx context.Context) (Image, error) {
	for {
		s.mu.Lock()
		if s.latestSeq > s.deliveredSeq {
			s.deliveredSeq = s.latestSeq
			img := s.latest
			decodeErrs := s.decodeErrors.Load()
			failed := decodeErrs - s.seenDecodeErr
			s.seenDecodeErr = decodeErrs
			s.mu.Unlock()

			if failed > 0 {
				return Image{}, &DecodeError{Count: int(failed), Reason: "decoder reported corrupt picture"}
			}
			return img, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return Image{}, err
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Image{}, ctx.Err()
		}
	}
}

// Close stops the decoder and unblocks readers. Safe to call repeatedly.
func (s *streamSession) Close() error {
	s.closeOnce.Do(func() {
		if s.proc != nil {
			s.proc.Stop()
		}
		_ = s.reader.Close()

		s.mu.Lock()
		if s.err == nil {
			s.err = ErrSessionClosed
		}
		close(s.notify)
		s.notify = make(chan struct{})
		s.mu.Unlock()
	})
	return nil
}

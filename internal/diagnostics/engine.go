package diagnostics

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/smazurov/camwatch/internal/frames"
	"github.com/smazurov/camwatch/internal/logging"
)

// Option configures an Engine.
type Option func(*Engine)

// WithErrorRate supplies the stream error rate folded into quality.
func WithErrorRate(fn func() float64) Option {
	return func(e *Engine) { e.errorRate = fn }
}

// WithLogger overrides the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides time.Now for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine analyzes the frames of one camera. It keeps only derived history:
// a subsampled copy of the previous frame and recent quality values.
type Engine struct {
	cfg       Config
	errorRate func() float64
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex

	prev      []byte
	prevW     int
	prevH     int
	prevEpoch uint64
	prevSeq   uint64
	prevAt    time.Time
	hasPrev   bool

	quietRun int
	stillRun int
	history  []float64
	next     int

	latest    Result
	hasLatest bool
	stats     Stats
}

// NewEngine creates an engine. Invalid settings fall back to defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: logging.GetLogger("diagnostics"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := cfg.Validate(); err != nil {
		e.logger.Warn("Invalid diagnostics config, using defaults", "error", err)
		e.cfg = DefaultConfig()
	}
	e.history = make([]float64, 0, e.cfg.HistorySize)
	e.latest = e.neutralResult()
	return e
}

// neutralResult stands in for the latest result until a frame was analyzed.
func (e *Engine) neutralResult() Result {
	return Result{Quality: e.cfg.NeutralQuality, ComputedAt: e.now()}
}

// Config returns the settings in effect.
func (e *Engine) Config() Config {
	return e.cfg
}

// Analyze runs every detector on f. A malformed frame returns *Error along
// with the previous result marked stale.
func (e *Engine) Analyze(f *frames.Frame) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(f); err != nil {
		e.stats.Errors++
		e.latest.Stale = true
		e.logger.Debug("Skipping frame", "error", err)
		return e.latest, err
	}

	if e.hasPrev && e.discontinuous(f) {
		e.resetHistory()
	}

	res := Result{
		Seq:        f.Seq,
		Epoch:      f.Epoch,
		ComputedAt: e.now(),
	}

	cur := subsample(f.Pix, f.Width, f.Height, e.cfg.DiffStep)
	if e.hasPrev {
		e.compare(&res, cur)
	}

	res.FlatBlockRatio = flatBlockRatio(f.Pix, f.Width, f.Height, e.cfg.PixelationBlockSize, e.cfg.FlatBlockStdDev)
	res.Pixelated = res.FlatBlockRatio > e.cfg.PixelationRatioThreshold
	res.Sharpness = laplacianVariance(f.Pix, f.Width, f.Height)
	res.Contrast = percentileSpread(f.Pix)
	res.Quality = e.quality(&res)

	e.stats.FramesAnalyzed++
	if res.Pixelated {
		e.stats.PixelatedFrames++
	}
	if res.Frozen && !e.latest.Frozen {
		e.stats.FrozenEpisodes++
	}
	if res.Stopped && !e.latest.Stopped {
		e.stats.StoppedEpisodes++
	}

	e.prev = cur
	e.prevW, e.prevH = f.Width, f.Height
	e.prevEpoch, e.prevSeq = f.Epoch, f.Seq
	e.prevAt = f.Timestamp
	e.hasPrev = true
	e.latest = res
	e.hasLatest = true
	return res, nil
}

func (e *Engine) validate(f *frames.Frame) error {
	switch {
	case f == nil:
		return &Error{Reason: "nil frame"}
	case f.Width <= 0 || f.Height <= 0:
		return &Error{Seq: f.Seq, Reason: "zero dimensions"}
	case len(f.Pix) != f.Width*f.Height:
		return &Error{Seq: f.Seq, Reason: "pixel data does not match dimensions"}
	case f.Width < e.cfg.PixelationBlockSize || f.Height < e.cfg.PixelationBlockSize:
		return &Error{Seq: f.Seq, Reason: "smaller than one pixelation block"}
	}
	return nil
}

// discontinuous reports whether f cannot be compared with the stored frame.
func (e *Engine) discontinuous(f *frames.Frame) bool {
	if f.Epoch != e.prevEpoch || f.Seq <= e.prevSeq {
		return true
	}
	if f.Width != e.prevW || f.Height != e.prevH {
		return true
	}
	return e.cfg.MaxGap > 0 && f.Timestamp.Sub(e.prevAt) > e.cfg.MaxGap
}

func (e *Engine) compare(res *Result, cur []byte) {
	changed, total := difference(cur, e.prev, e.cfg.NoiseThreshold)
	scale := e.cfg.DiffStep * e.cfg.DiffStep

	res.DiffValid = true
	res.ChangedPixels = changed * scale
	res.MeanAbsDiff = float64(total) / float64(len(cur))

	if res.ChangedPixels < e.cfg.FreezeThreshold {
		e.quietRun++
	} else {
		e.quietRun = 0
	}
	res.FrozenCount = e.quietRun
	res.Frozen = e.quietRun >= e.cfg.FreezeDebounceFrames

	if res.MeanAbsDiff < e.cfg.MotionThreshold {
		e.stillRun++
	} else {
		e.stillRun = 0
	}
	res.Stopped = e.stillRun >= e.cfg.StoppedFrames
}

// quality scores the frame from the components available and averages it
// with the recent history.
func (e *Engine) quality(res *Result) float64 {
	w := e.cfg.Weights
	var sum, weight float64
	add := func(wt, v float64) {
		if wt <= 0 || math.IsNaN(v) {
			return
		}
		sum += wt * v
		weight += wt
	}

	if res.DiffValid {
		add(w.Freeze, boolScore(!res.Frozen))
	}
	add(w.Pixelation, boolScore(!res.Pixelated))
	add(w.Sharpness, math.Min(res.Sharpness/e.cfg.SharpnessScale, 1))
	add(w.Contrast, math.Min(res.Contrast/e.cfg.ContrastScale, 1))
	if e.errorRate != nil {
		add(w.Errors, 1-clamp01(e.errorRate()))
	}

	if weight == 0 {
		return e.cfg.NeutralQuality
	}
	frame := clamp01(sum / weight)
	if math.IsNaN(frame) {
		return e.cfg.NeutralQuality
	}

	if len(e.history) < e.cfg.HistorySize {
		e.history = append(e.history, frame)
	} else {
		e.history[e.next] = frame
		e.next = (e.next + 1) % e.cfg.HistorySize
	}

	var total float64
	for _, q := range e.history {
		total += q
	}
	avg := clamp01(total / float64(len(e.history)))
	if math.IsNaN(avg) {
		return e.cfg.NeutralQuality
	}
	return avg
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func (e *Engine) resetHistory() {
	e.prev = nil
	e.hasPrev = false
	e.quietRun = 0
	e.stillRun = 0
	e.history = e.history[:0]
	e.next = 0
}

// Latest returns the most recent result. Before the first analyzed frame it
// is a neutral-quality placeholder and ok is false.
func (e *Engine) Latest() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest, e.hasLatest
}

// Stats returns lifetime counters and the latest result.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	if e.hasLatest {
		latest := e.latest
		s.Latest = &latest
	}
	return s
}

// Reset drops all history and counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetHistory()
	e.latest = e.neutralResult()
	e.hasLatest = false
	e.stats = Stats{}
}

// LogValue renders the latest result compactly.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("seq", r.Seq),
		slog.Bool("frozen", r.Frozen),
		slog.Bool("pixelated", r.Pixelated),
		slog.Bool("stopped", r.Stopped),
		slog.Float64("quality", r.Quality),
	)
}

// Package audio turns untrusted client sample buffers into the standardized
// frames forwarded to voice room members.
package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// Reason explains why Process returned no frame.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonSilence         Reason = "silence"
	ReasonProcessingError Reason = "processing_error"
)

const quantScale = 32767.0

var (
	ErrNonFinite = errors.New("non-finite sample")
	ErrDType     = errors.New("unsupported dtype")
	ErrRate      = errors.New("sample rate out of range")
)

// Metadata describes the sender's buffer. Zero values mean the standard format.
type Metadata struct {
	SampleRate int
	Channels   int
	DType      string
}

// Frame is a processed chunk, always mono float32 at the standard rate.
type Frame struct {
	Samples       []float32
	SampleRate    int
	Channels      int
	DType         string
	InputSize     int
	WasNormalized bool
	WasResampled  bool
	WasEnhanced   bool
}

type Processor struct {
	cfg      Config
	quality  Resampler
	fallback Resampler
	stats    statsCollector
}

func NewProcessor(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{cfg: cfg, fallback: Linear{}}
	if cfg.Resampler == ResamplerSinc {
		p.quality = Sinc{Taps: cfg.SincTaps}
	}
	return p, nil
}

func (p *Processor) Config() Config { return p.cfg }

func (p *Processor) Stats() Stats { return p.stats.snapshot() }

// ResetStats zeroes the running counters.
func (p *Processor) ResetStats() { p.stats.reset() }

// Process runs the pipeline over one chunk. It returns either a frame or the
// reason the chunk must not be forwarded. It never panics.
func (p *Processor) Process(raw []float64, meta Metadata) (frame *Frame, reason Reason) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "audio").Interface("panic", r).Msg("audio pipeline panic")
			p.stats.recordError()
			frame, reason = nil, ReasonProcessingError
		}
	}()

	meta = p.withDefaults(meta)
	p.stats.observeChunk(len(raw))

	if meta.SampleRate < p.cfg.MinSampleRate || meta.SampleRate > p.cfg.MaxSampleRate {
		log.Debug().Str("module", "audio").Err(ErrRate).Int("rate", meta.SampleRate).Msg("rejecting chunk")
		p.stats.recordError()
		return nil, ReasonProcessingError
	}

	samples, err := p.shape(raw, meta)
	if err != nil {
		log.Debug().Str("module", "audio").Err(err).Msg("rejecting chunk")
		p.stats.recordError()
		return nil, ReasonProcessingError
	}

	f := &Frame{
		SampleRate: p.cfg.StandardRate,
		Channels:   1,
		DType:      DTypeFloat32,
		InputSize:  len(raw),
	}
	f.WasNormalized = normalize(samples)

	if rms(samples) < p.cfg.SilenceThreshold {
		p.stats.recordSilence()
		return nil, ReasonSilence
	}

	if meta.SampleRate != p.cfg.StandardRate {
		// Only the input that fits one MaxChunk frame at the standard rate is resampled.
		if limit := p.inputLimit(meta.SampleRate); len(samples) > limit {
			samples = samples[:limit]
		}
		samples, err = p.resample(samples, meta.SampleRate)
		if err != nil {
			log.Warn().Str("module", "audio").Err(err).Int("rate", meta.SampleRate).Msg("resample failed")
			p.stats.recordError()
			return nil, ReasonProcessingError
		}
		if len(samples) > p.cfg.MaxChunk {
			samples = samples[:p.cfg.MaxChunk]
		}
		f.WasResampled = true
	}

	if p.cfg.Enhance {
		samples = enhance(samples, p.cfg.NoiseFloor)
		f.WasEnhanced = true
	}

	f.Samples = quantize(samples, p.cfg.QuantizationFloor)
	p.stats.record(f)
	return f, ReasonNone
}

func (p *Processor) withDefaults(meta Metadata) Metadata {
	if meta.SampleRate <= 0 {
		meta.SampleRate = p.cfg.StandardRate
	}
	if meta.Channels <= 0 {
		meta.Channels = 1
	}
	if meta.DType == "" {
		meta.DType = DTypeFloat32
	}
	return meta
}

// shape decodes the buffer to mono float64, then truncates to MaxChunk or
// zero-pads to MinChunk.
func (p *Processor) shape(raw []float64, meta Metadata) ([]float64, error) {
	var scale float64
	switch meta.DType {
	case DTypeFloat32, DTypeFloat64:
		scale = 1
	case DTypeInt16:
		scale = 1 / 32768.0
	default:
		return nil, fmt.Errorf("%w: %q", ErrDType, meta.DType)
	}

	frames := len(raw) / meta.Channels
	if frames > p.cfg.MaxChunk {
		frames = p.cfg.MaxChunk
	}
	size := frames
	if size < p.cfg.MinChunk {
		size = p.cfg.MinChunk
	}
	out := make([]float64, size)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < meta.Channels; c++ {
			v := raw[i*meta.Channels+c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w at %d", ErrNonFinite, i*meta.Channels+c)
			}
			sum += v
		}
		out[i] = sum / float64(meta.Channels) * scale
	}
	return out, nil
}

// inputLimit is the number of input frames at rate that resample to MaxChunk.
func (p *Processor) inputLimit(rate int) int {
	n := (int64(p.cfg.MaxChunk)*int64(rate) + int64(p.cfg.StandardRate) - 1) / int64(p.cfg.StandardRate)
	if n < 1 {
		return 1
	}
	return int(n)
}

func (p *Processor) resample(in []float64, from int) ([]float64, error) {
	if p.quality != nil {
		out, err := p.quality.Resample(in, from, p.cfg.StandardRate)
		if err == nil {
			return out, nil
		}
		log.Debug().Str("module", "audio").Err(err).Msg("quality resampler unavailable, falling back to linear")
	}
	return p.fallback.Resample(in, from, p.cfg.StandardRate)
}

// normalize peak-normalizes in place when the buffer clips.
func normalize(s []float64) bool {
	peak := 0.0
	for _, v := range s {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak <= 1 {
		return false
	}
	for i := range s {
		s[i] /= peak
	}
	return true
}

func rms(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(s)))
}

// enhance zeroes samples under the noise floor, then applies a 3-tap moving average.
func enhance(s []float64, floor float64) []float64 {
	gated := make([]float64, len(s))
	for i, v := range s {
		if math.Abs(v) >= floor {
			gated[i] = v
		}
	}
	out := make([]float64, len(gated))
	for i := range gated {
		sum, n := gated[i], 1.0
		if i > 0 {
			sum += gated[i-1]
			n++
		}
		if i < len(gated)-1 {
			sum += gated[i+1]
			n++
		}
		out[i] = sum / n
	}
	return out
}

func quantize(s []float64, floor float64) []float32 {
	out := make([]float32, len(s))
	for i, v := range s {
		q := math.Round(v*quantScale) / quantScale
		if math.Abs(q) < floor {
			q = 0
		}
		out[i] = float32(math.Max(-1, math.Min(1, q)))
	}
	return out
}

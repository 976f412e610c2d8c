package audio_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dkeye/voicechat/internal/audio"
)

func newProcessor(t *testing.T, mutate func(*audio.Config)) *audio.Processor {
	t.Helper()
	cfg := audio.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := audio.NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func sine(n int, amp, freq, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func maxAbs(s []float32) float64 {
	m := 0.0
	for _, v := range s {
		m = math.Max(m, math.Abs(float64(v)))
	}
	return m
}

func TestProcessSilence(t *testing.T) {
	t.Parallel()

	type tcase struct {
		samples []float64
		meta    audio.Metadata
	}

	tcases := map[string]tcase{
		"zeros_standard_rate": {
			samples: make([]float64, 960),
			meta:    audio.Metadata{SampleRate: 48000},
		},
		"zeros_low_rate": {
			samples: make([]float64, 960),
			meta:    audio.Metadata{SampleRate: 16000},
		},
		"faint_noise_odd_rate": {
			samples: sine(960, 0.001, 440, 44100),
			meta:    audio.Metadata{SampleRate: 44100},
		},
		"zeros_stereo": {
			samples: make([]float64, 1920),
			meta:    audio.Metadata{SampleRate: 48000, Channels: 2},
		},
		"faint_int16": {
			samples: sine(960, 10, 440, 48000),
			meta:    audio.Metadata{DType: audio.DTypeInt16},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := newProcessor(t, nil)
			frame, reason := p.Process(tc.samples, tc.meta)
			if frame != nil {
				t.Fatalf("expected no frame, got %d samples", len(frame.Samples))
			}
			if reason != audio.ReasonSilence {
				t.Fatalf("reason = %q, want %q", reason, audio.ReasonSilence)
			}
			if got := p.Stats().Silenced; got != 1 {
				t.Errorf("silenced = %d, want 1", got)
			}
		})
	}
}

func TestProcessNormalizesClipping(t *testing.T) {
	t.Parallel()
	p := newProcessor(t, nil)

	in := sine(960, 2.0, 440, 48000)
	frame, reason := p.Process(in, audio.Metadata{SampleRate: 48000})
	if reason != audio.ReasonNone {
		t.Fatalf("reason = %q", reason)
	}
	if !frame.WasNormalized {
		t.Error("WasNormalized = false, want true")
	}
	if m := maxAbs(frame.Samples); m > 1.0 {
		t.Errorf("max abs sample = %v, want <= 1.0", m)
	}
	if frame.WasResampled {
		t.Error("WasResampled = true for standard-rate input")
	}
}

func TestProcessPadsShortChunk(t *testing.T) {
	t.Parallel()
	p := newProcessor(t, nil)

	in := make([]float64, 50)
	for i := range in {
		in[i] = 0.9
	}
	frame, reason := p.Process(in, audio.Metadata{})
	if reason != audio.ReasonNone {
		t.Fatalf("reason = %q", reason)
	}
	if len(frame.Samples) != 480 {
		t.Fatalf("len = %d, want 480", len(frame.Samples))
	}
	if frame.InputSize != 50 {
		t.Errorf("InputSize = %d, want 50", frame.InputSize)
	}
	if frame.Samples[10] == 0 {
		t.Error("signal region was zeroed")
	}
	for i, v := range frame.Samples[52:] {
		if v != 0 {
			t.Fatalf("padding sample %d = %v, want 0", i+52, v)
		}
	}
}

func TestProcessTruncatesLongChunk(t *testing.T) {
	t.Parallel()
	p := newProcessor(t, nil)

	frame, reason := p.Process(sine(10000, 0.5, 440, 48000), audio.Metadata{})
	if reason != audio.ReasonNone {
		t.Fatalf("reason = %q", reason)
	}
	if len(frame.Samples) != p.Config().MaxChunk {
		t.Errorf("len = %d, want %d", len(frame.Samples), p.Config().MaxChunk)
	}
}

func TestProcessResamples(t *testing.T) {
	t.Parallel()

	type tcase struct {
		resampler string
		rate      int
		wantLen   int
	}

	tcases := map[string]tcase{
		"sinc_upsample":   {resampler: audio.ResamplerSinc, rate: 24000, wantLen: 1920},
		"sinc_downsample": {resampler: audio.ResamplerSinc, rate: 96000, wantLen: 480},
		"linear_upsample": {resampler: audio.ResamplerLinear, rate: 16000, wantLen: 2880},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := newProcessor(t, func(c *audio.Config) { c.Resampler = tc.resampler })
			frame, reason := p.Process(sine(960, 0.5, 220, float64(tc.rate)), audio.Metadata{SampleRate: tc.rate})
			if reason != audio.ReasonNone {
				t.Fatalf("reason = %q", reason)
			}
			want := audio.Frame{SampleRate: 48000, Channels: 1, DType: audio.DTypeFloat32, WasResampled: true, WasEnhanced: true, InputSize: 960}
			got := *frame
			got.Samples = nil
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
			if len(frame.Samples) != tc.wantLen {
				t.Errorf("len = %d, want %d", len(frame.Samples), tc.wantLen)
			}
		})
	}
}

func TestProcessBoundsSenderRate(t *testing.T) {
	t.Parallel()

	type tcase struct {
		rate       int
		samples    int
		wantReason audio.Reason
	}

	tcases := map[string]tcase{
		"below_min":      {rate: 100, samples: 4800, wantReason: audio.ReasonProcessingError},
		"above_max":      {rate: 384000, samples: 4800, wantReason: audio.ReasonProcessingError},
		"min_rate":       {rate: 8000, samples: 4800, wantReason: audio.ReasonNone},
		"odd_low_rate":   {rate: 11025, samples: 4800, wantReason: audio.ReasonNone},
		"max_rate":       {rate: 192000, samples: 10000, wantReason: audio.ReasonNone},
		"oversized_slow": {rate: 8000, samples: 20000, wantReason: audio.ReasonNone},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := newProcessor(t, nil)
			frame, reason := p.Process(sine(tc.samples, 0.5, 220, float64(tc.rate)), audio.Metadata{SampleRate: tc.rate})
			if reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", reason, tc.wantReason)
			}
			if tc.wantReason != audio.ReasonNone {
				if frame != nil {
					t.Errorf("frame = %+v, want nil", frame)
				}
				return
			}
			if n := len(frame.Samples); n == 0 || n > p.Config().MaxChunk {
				t.Errorf("len = %d, want 1..%d", n, p.Config().MaxChunk)
			}
		})
	}
}

func TestProcessQuantizes(t *testing.T) {
	t.Parallel()
	p := newProcessor(t, func(c *audio.Config) { c.Enhance = false })

	frame, reason := p.Process(sine(480, 0.3, 440, 48000), audio.Metadata{})
	if reason != audio.ReasonNone {
		t.Fatalf("reason = %q", reason)
	}
	floor := p.Config().QuantizationFloor
	for i, v := range frame.Samples {
		steps := float64(v) * 32767
		if math.Abs(steps-math.Round(steps)) > 1e-2 {
			t.Fatalf("sample %d = %v is off the 16-bit grid", i, v)
		}
		if v != 0 && math.Abs(float64(v)) < floor*(1-1e-6) {
			t.Fatalf("sample %d = %v survived the residue floor", i, v)
		}
	}
}

func TestProcessDownmixesStereo(t *testing.T) {
	t.Parallel()
	p := newProcessor(t, func(c *audio.Config) { c.Enhance = false })

	in := make([]float64, 960*2)
	for i := 0; i < 960; i++ {
		in[2*i] = 0.5
		in[2*i+1] = 0.1
	}
	frame, reason := p.Process(in, audio.Metadata{Channels: 2})
	if reason != audio.ReasonNone {
		t.Fatalf("reason = %q", reason)
	}
	if len(frame.Samples) != 960 {
		t.Fatalf("len = %d, want 960", len(frame.Samples))
	}
	if got := float64(frame.Samples[100]); math.Abs(got-0.3) > 1e-4 {
		t.Errorf("downmixed sample = %v, want 0.3", got)
	}
}

func TestProcessErrors(t *testing.T) {
	t.Parallel()

	type tcase struct {
		samples []float64
		meta    audio.Metadata
	}

	tcases := map[string]tcase{
		"nan":          {samples: []float64{0.5, math.NaN(), 0.5}},
		"inf":          {samples: []float64{math.Inf(1)}},
		"unknown_type": {samples: []float64{0.5}, meta: audio.Metadata{DType: "uint8"}},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := newProcessor(t, nil)
			frame, reason := p.Process(tc.samples, tc.meta)
			if frame != nil || reason != audio.ReasonProcessingError {
				t.Fatalf("got (%v, %q), want (nil, %q)", frame, reason, audio.ReasonProcessingError)
			}
			if got := p.Stats().Errored; got != 1 {
				t.Errorf("errored = %d, want 1", got)
			}
		})
	}
}

func TestStatsAndReset(t *testing.T) {
	t.Parallel()
	p := newProcessor(t, nil)

	p.Process(sine(960, 2.0, 440, 24000), audio.Metadata{SampleRate: 24000})
	p.Process(make([]float64, 960), audio.Metadata{})
	p.Process([]float64{math.NaN()}, audio.Metadata{})

	want := audio.Stats{
		Processed:  1,
		Silenced:   1,
		Resampled:  1,
		Normalized: 1,
		Enhanced:   1,
		Errored:    1,
	}
	got := p.Stats()
	if got.AvgChunkSize <= 0 {
		t.Errorf("AvgChunkSize = %v, want > 0", got.AvgChunkSize)
	}
	got.AvgChunkSize = 0
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	p.ResetStats()
	if diff := cmp.Diff(audio.Stats{}, p.Stats()); diff != "" {
		t.Errorf("stats after reset (-want +got):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tcases := map[string]func(*audio.Config){
		"zero_rate":      func(c *audio.Config) { c.StandardRate = 0 },
		"inverted_chunk": func(c *audio.Config) { c.MaxChunk = c.MinChunk - 1 },
		"bad_resampler":  func(c *audio.Config) { c.Resampler = "cubic" },
		"no_taps":        func(c *audio.Config) { c.SincTaps = 0 },
		"no_min_rate":    func(c *audio.Config) { c.MinSampleRate = 0 },
		"inverted_rates": func(c *audio.Config) { c.MaxSampleRate = c.MinSampleRate - 1 },
		"standard_above": func(c *audio.Config) { c.MaxSampleRate = c.StandardRate - 1 },
	}

	for name, mutate := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := audio.DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

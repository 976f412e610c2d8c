package audio

import (
	"errors"
	"fmt"
)

const (
	ResamplerSinc   = "sinc"
	ResamplerLinear = "linear"

	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
	DTypeInt16   = "int16"
)

// Config holds the pipeline constants of one deployment.
type Config struct {
	StandardRate      int     `mapstructure:"standard_rate" json:"standard_rate"`
	MinChunk          int     `mapstructure:"min_chunk" json:"min_chunk"`
	MaxChunk          int     `mapstructure:"max_chunk" json:"max_chunk"`
	MinSampleRate     int     `mapstructure:"min_sample_rate" json:"min_sample_rate"`
	MaxSampleRate     int     `mapstructure:"max_sample_rate" json:"max_sample_rate"`
	SilenceThreshold  float64 `mapstructure:"silence_threshold" json:"silence_threshold"`
	NoiseFloor        float64 `mapstructure:"noise_floor" json:"noise_floor"`
	QuantizationFloor float64 `mapstructure:"quantization_floor" json:"quantization_floor"`
	Enhance           bool    `mapstructure:"enhance" json:"enhance"`
	Resampler         string  `mapstructure:"resampler" json:"resampler"`
	SincTaps          int     `mapstructure:"sinc_taps" json:"sinc_taps"`
}

func DefaultConfig() Config {
	return Config{
		StandardRate:      48000,
		MinChunk:          480,
		MaxChunk:          4800,
		MinSampleRate:     8000,
		MaxSampleRate:     192000,
		SilenceThreshold:  0.01,
		NoiseFloor:        0.001,
		QuantizationFloor: 2.0 / quantScale,
		Enhance:           true,
		Resampler:         ResamplerSinc,
		SincTaps:          8,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.StandardRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: standard_rate must be positive, got %d", c.StandardRate))
	}
	if c.MinChunk <= 0 {
		errs = append(errs, fmt.Errorf("audio: min_chunk must be positive, got %d", c.MinChunk))
	}
	if c.MaxChunk < c.MinChunk {
		errs = append(errs, fmt.Errorf("audio: max_chunk %d is below min_chunk %d", c.MaxChunk, c.MinChunk))
	}
	if c.MinSampleRate <= 0 || c.MaxSampleRate < c.MinSampleRate {
		errs = append(errs, fmt.Errorf("audio: sample rate bounds [%d, %d] are invalid", c.MinSampleRate, c.MaxSampleRate))
	}
	if c.StandardRate < c.MinSampleRate || c.StandardRate > c.MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio: standard_rate %d is outside the accepted sender rates", c.StandardRate))
	}
	if c.SilenceThreshold < 0 || c.NoiseFloor < 0 || c.QuantizationFloor < 0 {
		errs = append(errs, errors.New("audio: thresholds must not be negative"))
	}
	switch c.Resampler {
	case ResamplerSinc:
		if c.SincTaps <= 0 {
			errs = append(errs, fmt.Errorf("audio: sinc_taps must be positive, got %d", c.SincTaps))
		}
	case ResamplerLinear:
	default:
		errs = append(errs, fmt.Errorf("audio: unknown resampler %q", c.Resampler))
	}
	return errors.Join(errs...)
}

package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrBadRate    = errors.New("sample rate must be positive")
	ErrShortInput = errors.New("input shorter than filter support")
)

// Resampler converts a mono buffer between sample rates.
type Resampler interface {
	Resample(in []float64, from, to int) ([]float64, error)
}

func outputLen(n, from, to int) int {
	l := int(math.Round(float64(n) * float64(to) / float64(from)))
	if l < 1 {
		l = 1
	}
	return l
}

// Linear interpolates between the two nearest input samples.
type Linear struct{}

func (Linear) Resample(in []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, ErrBadRate
	}
	if len(in) == 0 {
		return nil, nil
	}
	n := len(in)
	out := make([]float64, outputLen(n, from, to))
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		i0 := int(pos)
		if i0 >= n-1 {
			out[i] = in[n-1]
			continue
		}
		frac := pos - float64(i0)
		out[i] = in[i0]*(1-frac) + in[i0+1]*frac
	}
	return out, nil
}

// Sinc is a Lanczos-windowed sinc resampler. Taps is the lobe count on each side.
type Sinc struct {
	Taps int
}

func (s Sinc) Resample(in []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, ErrBadRate
	}
	if s.Taps <= 0 {
		return nil, fmt.Errorf("sinc: taps must be positive, got %d", s.Taps)
	}
	n := len(in)
	if n < 2*s.Taps {
		return nil, ErrShortInput
	}

	ratio := float64(to) / float64(from)
	// Widen the kernel when downsampling so it doubles as the anti-alias filter.
	cutoff := math.Min(1, ratio)
	a := float64(s.Taps)
	support := a / cutoff

	out := make([]float64, outputLen(n, from, to))
	for i := range out {
		center := float64(i) / ratio
		lo := int(math.Floor(center-support)) + 1
		hi := int(math.Floor(center + support))
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		var sum, wsum float64
		for k := lo; k <= hi; k++ {
			w := lanczos((center-float64(k))*cutoff, a)
			sum += in[k] * w
			wsum += w
		}
		if wsum != 0 {
			out[i] = sum / wsum
		}
	}
	return out, nil
}

func lanczos(x, a float64) float64 {
	if x == 0 {
		return 1
	}
	if math.Abs(x) >= a {
		return 0
	}
	return sinc(x) * sinc(x/a)
}

func sinc(x float64) float64 {
	px := math.Pi * x
	return math.Sin(px) / px
}

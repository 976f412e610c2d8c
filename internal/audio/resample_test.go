package audio_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/dkeye/voicechat/internal/audio"
)

func TestLinearResample(t *testing.T) {
	t.Parallel()

	out, err := audio.Linear{}.Resample([]float64{0, 1, 2, 3}, 1, 2)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	want := []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}
	if diff := cmp.Diff(want, out, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSincPreservesDC(t *testing.T) {
	t.Parallel()

	in := make([]float64, 480)
	for i := range in {
		in[i] = 0.25
	}
	for _, rates := range [][2]int{{16000, 48000}, {44100, 48000}, {96000, 48000}} {
		out, err := audio.Sinc{Taps: 8}.Resample(in, rates[0], rates[1])
		if err != nil {
			t.Fatalf("Resample %v: %v", rates, err)
		}
		for i, v := range out {
			if math.Abs(v-0.25) > 1e-9 {
				t.Fatalf("%v: sample %d = %v, want 0.25", rates, i, v)
			}
		}
	}
}

func TestResampleErrors(t *testing.T) {
	t.Parallel()

	if _, err := (audio.Sinc{Taps: 8}).Resample(make([]float64, 4), 16000, 48000); !errors.Is(err, audio.ErrShortInput) {
		t.Errorf("short input err = %v, want ErrShortInput", err)
	}
	if _, err := (audio.Linear{}).Resample(make([]float64, 4), 0, 48000); !errors.Is(err, audio.ErrBadRate) {
		t.Errorf("bad rate err = %v, want ErrBadRate", err)
	}
}

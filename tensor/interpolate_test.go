package tensor

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestInterpolateNearest(t *testing.T) {
	x, err := NewTensor([]int{1, 1, 2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)

	y, err := Interpolate(x, ResizeOptions{ScaleFactor: 2, Mode: Nearest})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4}, y.GetShape())
	assert.Equal(t, []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, y.GetData())
}

func TestInterpolateBilinear(t *testing.T) {
	t.Run("align corners", func(t *testing.T) {
		x, err := NewTensor([]int{1, 1, 2, 2}, []float64{0, 1, 2, 3})
		require.NoError(t, err)

		y, err := Interpolate(x, ResizeOptions{Size: [2]int{3, 3}, Mode: Bilinear, AlignCorners: true})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{
			0, 0.5, 1,
			1, 1.5, 2,
			2, 2.5, 3,
		}, y.GetData(), 1e-12)
	})

	t.Run("half pixel", func(t *testing.T) {
		x, err := NewTensor([]int{1, 1, 1, 2}, []float64{0, 1})
		require.NoError(t, err)

		y, err := Interpolate(x, ResizeOptions{Size: [2]int{1, 4}, Mode: Bilinear})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0, 0.25, 0.75, 1}, y.GetData(), 1e-12)
	})

	t.Run("downsample keeps planes apart", func(t *testing.T) {
		x := arange(t, 2, 3, 4, 4)
		y, err := Interpolate(x, ResizeOptions{ScaleFactor: 0.5, Mode: Bilinear})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 2, 2}, y.GetShape())
		// every output of plane k lies within plane k's value range
		for plane := 0; plane < 6; plane++ {
			lo, hi := float64(plane*16), float64(plane*16+15)
			for _, v := range y.GetData()[plane*4 : plane*4+4] {
				assert.GreaterOrEqual(t, v, lo)
				assert.LessOrEqual(t, v, hi)
			}
		}
	})
}

func TestInterpolateErrors(t *testing.T) {
	x := arange(t, 1, 1, 2, 2)

	cases := map[string]ResizeOptions{
		"both size and scale": {Size: [2]int{4, 4}, ScaleFactor: 2},
		"neither":             {},
		"nearest with align":  {Size: [2]int{4, 4}, AlignCorners: true},
		"empty output":        {ScaleFactor: 0.1},
		"unknown mode":        {Size: [2]int{4, 4}, Mode: ResizeMode(7)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Interpolate(x, opts)
			assert.Error(t, err)
		})
	}

	_, err := Interpolate(arange(t, 2, 2), ResizeOptions{ScaleFactor: 2})
	assert.Error(t, err)
}

func TestInterpolateAlignmentWarning(t *testing.T) {
	logs := captureLogs(t)

	aligned := arange(t, 1, 1, 2, 2)
	_, err := Interpolate(aligned, ResizeOptions{Size: [2]int{5, 5}, Mode: Bilinear, AlignCorners: true, Warn: true})
	require.NoError(t, err)
	assert.Empty(t, logs.String())

	misaligned := arange(t, 1, 1, 3, 3)
	_, err = Interpolate(misaligned, ResizeOptions{Size: [2]int{4, 4}, Mode: Bilinear, AlignCorners: true, Warn: true})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "better aligned")

	logs.Reset()
	_, err = Interpolate(misaligned, ResizeOptions{Size: [2]int{4, 4}, Mode: Bilinear, AlignCorners: true})
	require.NoError(t, err)
	assert.Empty(t, logs.String())
}

func TestResizeModeString(t *testing.T) {
	assert.Equal(t, "nearest", Nearest.String())
	assert.Equal(t, "bilinear", Bilinear.String())
	assert.Equal(t, "ResizeMode(9)", ResizeMode(9).String())
}

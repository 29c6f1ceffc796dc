package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-mixer/tensor"
)

// directConv is the textbook definition of a strided, zero padded 2D convolution.
func directConv(x, w, b *tensor.Tensor, stride, padding int) []float64 {
	xs, ws := x.GetShape(), w.GetShape()
	batch, cin, h, wd := xs[0], xs[1], xs[2], xs[3]
	cout, k := ws[0], ws[2]
	oh := (h+2*padding-k)/stride + 1
	ow := (wd+2*padding-k)/stride + 1

	out := make([]float64, 0, batch*cout*oh*ow)
	for n := 0; n < batch; n++ {
		for o := 0; o < cout; o++ {
			for i := 0; i < oh; i++ {
				for j := 0; j < ow; j++ {
					v := b.At(o)
					for c := 0; c < cin; c++ {
						for ki := 0; ki < k; ki++ {
							for kj := 0; kj < k; kj++ {
								r, s := i*stride+ki-padding, j*stride+kj-padding
								if r < 0 || r >= h || s < 0 || s >= wd {
									continue
								}
								v += x.At(n, c, r, s) * w.At(o, c, ki, kj)
							}
						}
					}
					out = append(out, v)
				}
			}
		}
	}
	return out
}

func TestConv2D(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	_, err := NewConv2D(3, 2, 3, 0, 1, rng)
	assert.Error(t, err)

	conv, err := NewConv2D(3, 2, 3, 2, 1, rng)
	require.NoError(t, err)
	x := randInput(t, rng, 2, 3, 5, 4)
	y, err := conv.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3, 2}, y.GetShape())
	assert.InDeltaSlice(t, directConv(x, conv.Weight, conv.Bias, 2, 1), y.GetData(), 1e-12)

	_, err = conv.Forward(randInput(t, rng, 2, 4, 5, 4))
	assert.Error(t, err)

	small, err := NewConv2D(2, 2, 2, 1, 1, rng)
	require.NoError(t, err)
	checkLayerGradients(t, small, randInput(t, rng, 1, 2, 3, 3), 1e-5)
}

func TestConvTranspose2D(t *testing.T) {
	rng := rand.New(rand.NewSource(12))

	conv, err := NewConv2D(3, 2, 3, 2, 1, rng)
	require.NoError(t, err)
	convT, err := NewConvTranspose2D(2, 3, 3, 2, 1, rng)
	require.NoError(t, err)

	// with shared weights and no bias the transposed convolution is the adjoint
	convT.Weight = conv.Weight
	for _, b := range []*tensor.Tensor{conv.Bias, convT.Bias} {
		for i := range b.GetData() {
			b.GetData()[i] = 0
		}
	}

	x := randInput(t, rng, 2, 3, 5, 5)
	y := randInput(t, rng, 2, 2, 3, 3)
	cx, err := conv.Forward(x)
	require.NoError(t, err)
	ty, err := convT.Forward(y)
	require.NoError(t, err)
	require.Equal(t, x.GetShape(), ty.GetShape())

	var lhs, rhs float64
	for i, v := range cx.GetData() {
		lhs += v * y.GetData()[i]
	}
	for i, v := range x.GetData() {
		rhs += v * ty.GetData()[i]
	}
	assert.InDelta(t, lhs, rhs, 1e-9)

	_, err = convT.Forward(randInput(t, rng, 2, 3, 3, 3))
	assert.Error(t, err)

	small, err := NewConvTranspose2D(2, 2, 2, 2, 0, rng)
	require.NoError(t, err)
	checkLayerGradients(t, small, randInput(t, rng, 1, 2, 2, 2), 1e-5)
}

func TestUpsampleConv(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	up, err := NewUpsampleConv(4, 2, 4, 2, rng)
	require.NoError(t, err)
	assert.Equal(t, "ConvTranspose2D", up.Name())

	y, err := up.Forward(randInput(t, rng, 1, 4, 8, 6))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 16, 12}, y.GetShape())
}

func TestBatchNorm2D(t *testing.T) {
	rng := rand.New(rand.NewSource(14))

	_, err := NewBatchNorm2D(0)
	assert.Error(t, err)

	bn, err := NewBatchNorm2D(2)
	require.NoError(t, err)

	x := randInput(t, rng, 3, 2, 2, 2)
	for i := range x.GetData() {
		x.GetData()[i] = 2*x.GetData()[i] + 5
	}
	y, err := bn.Forward(x)
	require.NoError(t, err)

	var batchMean [2]float64
	var outMean [2]float64
	for i, v := range y.GetData() {
		ch := (i / 4) % 2
		batchMean[ch] += x.GetData()[i] / 12
		outMean[ch] += v / 12
	}
	assert.InDelta(t, 0, outMean[0], 1e-9)
	assert.InDelta(t, 0, outMean[1], 1e-9)

	mean, variance := bn.RunningStats()
	assert.InDelta(t, 0.1*batchMean[0], mean[0], 1e-12)
	assert.InDelta(t, 0.1*batchMean[1], mean[1], 1e-12)
	assert.Greater(t, variance[0], 0.9)

	// eval mode normalizes with the running statistics
	bn.SetTraining(false)
	y, err = bn.Forward(x)
	require.NoError(t, err)
	want := (x.At(1, 1, 0, 1) - mean[1]) / math.Sqrt(variance[1]+normEps)
	assert.InDelta(t, want, y.At(1, 1, 0, 1), 1e-12)
	checkLayerGradients(t, bn, randInput(t, rng, 2, 2, 2, 2), 1e-5)

	bn.SetTraining(true)
	_, err = bn.Forward(randInput(t, rng, 1, 2, 1, 1))
	assert.Error(t, err)
	_, err = bn.Forward(randInput(t, rng, 2, 3, 2, 2))
	assert.Error(t, err)

	train, err := NewBatchNorm2D(2)
	require.NoError(t, err)
	for _, p := range train.Parameters() {
		for i := range p.GetData() {
			p.GetData()[i] += 0.5 * rng.NormFloat64()
		}
	}
	checkLayerGradients(t, train, randInput(t, rng, 2, 2, 2, 2), 1e-5)
}

func TestChannelProjection(t *testing.T) {
	rng := rand.New(rand.NewSource(15))

	x := randInput(t, rng, 2, 3, 2, 2)
	tokens, err := NewFlattenSpatial().Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3}, tokens.GetShape())
	assert.Equal(t, x.At(1, 2, 1, 0), tokens.At(1, 2, 2))

	back, err := TokensToMap(tokens, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, x.GetData(), back.GetData())

	_, err = TokensToMap(tokens, 3, 2)
	assert.Error(t, err)

	proj, err := NewChannelProjection(3, 5, rng)
	require.NoError(t, err)
	y, err := proj.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 5}, y.GetShape())
	assert.Len(t, proj.Layers(), 2)
	assert.Len(t, proj.Parameters(), 2)
}

func TestLinearFuse(t *testing.T) {
	rng := rand.New(rand.NewSource(16))
	a := randInput(t, rng, 2, 3, 4, 4)
	b := randInput(t, rng, 2, 5, 4, 4)
	cat, err := tensor.Concat([]*tensor.Tensor{a, b}, 1)
	require.NoError(t, err)

	fuse, err := NewLinearFuse(8, 4, rng)
	require.NoError(t, err)
	assert.Equal(t, "LinearFuse", fuse.Name())
	assert.Len(t, fuse.Parameters(), 4)

	y, err := fuse.Forward(cat)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 4, 4}, y.GetShape())

	fuse.SetTraining(false)
	y1, err := fuse.Forward(cat)
	require.NoError(t, err)
	y2, err := fuse.Forward(cat)
	require.NoError(t, err)
	assert.Equal(t, y1.GetData(), y2.GetData())
}

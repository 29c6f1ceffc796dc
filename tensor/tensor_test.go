package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arange(t *testing.T, shape ...int) *Tensor {
	t.Helper()
	x, err := Zeros(shape...)
	require.NoError(t, err)
	for i := range x.data {
		x.data[i] = float64(i)
	}
	return x
}

func TestNewTensor(t *testing.T) {
	_, err := NewTensor([]int{2, 0}, nil)
	assert.Error(t, err)

	_, err = NewTensor([]int{2, 2}, []float64{1, 2, 3})
	assert.Error(t, err)

	src := []float64{1, 2, 3, 4}
	x, err := NewTensor([]int{2, 2}, src)
	require.NoError(t, err)
	src[0] = 100
	assert.Equal(t, 1.0, x.At(0, 0), "NewTensor must copy its data")
}

func TestReshape(t *testing.T) {
	x := arange(t, 2, 3, 4)

	y, err := Reshape(x, []int{2, -1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, y.GetShape())
	assert.Equal(t, x.GetData(), y.GetData())

	_, err = Reshape(x, []int{5, -1})
	assert.Error(t, err)

	_, err = Reshape(x, []int{-1, -1})
	assert.Error(t, err)

	_, err = Reshape(x, []int{4, 4})
	assert.Error(t, err)
}

func TestAddTensorBroadcast(t *testing.T) {
	x, err := Zeros(2, 3, 2)
	require.NoError(t, err)
	bias, err := NewTensor([]int{3}, []float64{1, 2, 3})
	require.NoError(t, err)

	y, err := AddTensorBroadcast(x, bias, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 2, 2, 3, 3, 1, 1, 2, 2, 3, 3}, y.GetData())

	last, err := NewTensor([]int{2}, []float64{10, 20})
	require.NoError(t, err)
	y, err = AddTensorBroadcast(x, last, -1)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 10, 20, 10, 20, 10, 20, 10, 20, 10, 20}, y.GetData())

	_, err = AddTensorBroadcast(x, bias, 2)
	assert.Error(t, err)
}

func TestMatMulTensor(t *testing.T) {
	a, err := NewTensor([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := NewTensor([]int{3, 2}, []float64{7, 8, 9, 10, 11, 12})
	require.NoError(t, err)

	c, err := MatMulTensor(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, c.GetShape())
	assert.Equal(t, []float64{58, 64, 139, 154}, c.GetData())

	_, err = MatMulTensor(a, a)
	assert.Error(t, err)
}

func TestTranspose(t *testing.T) {
	x := arange(t, 2, 2, 3)
	y, err := Transpose(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, y.GetShape())
	for b := 0; b < 2; b++ {
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				assert.Equal(t, x.At(b, i, j), y.At(b, j, i))
			}
		}
	}

	_, err = Transpose(arange(t, 3))
	assert.Error(t, err)
}

func TestPermute(t *testing.T) {
	x := arange(t, 2, 3, 4)
	y, err := Permute(x, []int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 3}, y.GetShape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				assert.Equal(t, x.At(i, j, k), y.At(k, i, j))
			}
		}
	}

	for _, dims := range [][]int{{0, 1}, {0, 0, 1}, {0, 1, 3}} {
		_, err := Permute(x, dims)
		assert.Error(t, err, "dims %v", dims)
	}
}

func TestConcat(t *testing.T) {
	a := arange(t, 1, 2, 2)
	b := ScaleTensor(arange(t, 1, 1, 2), -1)

	c, err := Concat([]*Tensor{a, b}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, c.GetShape())
	assert.Equal(t, []float64{0, 1, 2, 3, 0, -1}, c.GetData())

	_, err = Concat([]*Tensor{a, arange(t, 1, 2, 3)}, 1)
	assert.Error(t, err)
}

func TestPatchify(t *testing.T) {
	const b, c, h, w, p = 2, 3, 4, 6, 2
	x := arange(t, b, c, h, w)

	tokens, err := Patchify(x, p)
	require.NoError(t, err)
	gh, gw := h/p, w/p
	require.Equal(t, []int{b, gh * gw, p * p * c}, tokens.GetShape())

	// token i*gw+j holds patch (i, j), features ordered (p1, p2, c)
	for n := 0; n < b; n++ {
		for i := 0; i < gh; i++ {
			for j := 0; j < gw; j++ {
				for p1 := 0; p1 < p; p1++ {
					for p2 := 0; p2 < p; p2++ {
						for ch := 0; ch < c; ch++ {
							want := x.At(n, ch, i*p+p1, j*p+p2)
							got := tokens.At(n, i*gw+j, (p1*p+p2)*c+ch)
							require.Equal(t, want, got)
						}
					}
				}
			}
		}
	}

	back, err := Unpatchify(tokens, p, gh, gw)
	require.NoError(t, err)
	assert.Equal(t, x.GetShape(), back.GetShape())
	assert.Equal(t, x.GetData(), back.GetData())
}

func TestPatchifyErrors(t *testing.T) {
	_, err := Patchify(arange(t, 1, 1, 4, 5), 2)
	assert.Error(t, err)

	_, err = Patchify(arange(t, 4, 4), 2)
	assert.Error(t, err)

	_, err = Unpatchify(arange(t, 1, 4, 8), 2, 3, 1)
	assert.Error(t, err)

	_, err = Unpatchify(arange(t, 1, 4, 6), 2, 2, 2)
	assert.Error(t, err)
}

func TestIm2ColAdjoint(t *testing.T) {
	x := arange(t, 2, 2, 5, 4)
	cols, err := Im2Col(x, 3, 3, 2, 1)
	require.NoError(t, err)

	y, err := Zeros(cols.GetShape()...)
	require.NoError(t, err)
	for i := range y.data {
		y.data[i] = float64(i%7) - 3
	}
	img, err := Col2Im(y, x.GetShape(), 3, 3, 2, 1)
	require.NoError(t, err)

	// <Im2Col(x), y> == <x, Col2Im(y)>
	var lhs, rhs float64
	for i := range cols.data {
		lhs += cols.data[i] * y.data[i]
	}
	for i := range x.data {
		rhs += x.data[i] * img.data[i]
	}
	assert.InDelta(t, lhs, rhs, 1e-9)

	_, err = Col2Im(y, []int{2, 3, 5, 4}, 3, 3, 2, 1)
	assert.Error(t, err)
}

func TestSumAndScale(t *testing.T) {
	x := arange(t, 2, 2)
	assert.Equal(t, []float64{6}, SumTensor(x).GetData())
	assert.Equal(t, []float64{0, 2, 4, 6}, ScaleTensor(x, 2).GetData())
}

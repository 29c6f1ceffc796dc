package nn

import (
	"math/rand"
	"time"

	"go-mixer/tensor"
)

// Layer defines the interface that all neural network layers must implement.
type Layer interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	ZeroGrad()
	Name() string
}

// Container is implemented by layers that are built from other layers.
// it is used for introspection only.
type Container interface {
	Layers() []Layer
}

// Modal is implemented by layers that behave differently while training.
type Modal interface {
	SetTraining(training bool)
}

// DenseFactory builds the projection used inside a FeedForward block.
type DenseFactory func(in, out int, rng *rand.Rand) (Layer, error)

// DenseLinear projects along the last axis.
func DenseLinear(in, out int, rng *rand.Rand) (Layer, error) {
	l, err := NewLinear(in, out, rng)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// DensePointwise projects along axis 1 with a kernel-size-1 convolution.
func DensePointwise(in, out int, rng *rand.Rand) (Layer, error) {
	c, err := NewPointwiseConv1D(in, out, rng)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// a nil rng means "seed from the clock"
func orClock(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func uniformParam(shape []int, bound float64, rng *rand.Rand) (*tensor.Tensor, error) {
	p, err := tensor.Zeros(shape...)
	if err != nil {
		return nil, err
	}
	data := p.GetData()
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
	p.RequiresGrad = true
	return p, nil
}

func constParam(shape []int, v float64) (*tensor.Tensor, error) {
	p, err := tensor.Zeros(shape...)
	if err != nil {
		return nil, err
	}
	data := p.GetData()
	for i := range data {
		data[i] = v
	}
	p.RequiresGrad = true
	return p, nil
}

func zeroGrad(params []*tensor.Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// noParams is embedded by stateless layers.
type noParams struct{}

func (noParams) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }
func (noParams) ZeroGrad()                    {}

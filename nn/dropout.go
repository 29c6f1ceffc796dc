package nn

import (
	"fmt"
	"math/rand"

	"go-mixer/tensor"
)

// Dropout zeroes elements with probability p while training and scales the
// survivors by 1/(1-p). in eval mode, or when p is 0, it is the identity.
type Dropout struct {
	noParams
	p        float64
	training bool
	rng      *rand.Rand
}

func NewDropout(p float64, rng *rand.Rand) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	return &Dropout{p: p, training: true, rng: orClock(rng)}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}

	mask, err := tensor.Zeros(input.GetShape()...)
	if err != nil {
		return nil, err
	}
	keep := 1 / (1 - d.p)
	maskData := mask.GetData()
	for i := range maskData {
		if d.rng.Float64() >= d.p {
			maskData[i] = keep
		}
	}
	return tensor.MulTensor(input, mask)
}

func (d *Dropout) SetTraining(training bool) { d.training = training }

func (d *Dropout) Name() string { return "Dropout" }

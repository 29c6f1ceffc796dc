package nn

import (
	"fmt"
	"math"
	"math/rand"

	"go-mixer/tensor"
)

// linear dense layer applied over the last axis: output = input @ weight + bias
type Linear struct {
	weight *tensor.Tensor // Shape: [inputDimensions, outputDimensions]
	bias   *tensor.Tensor // Shape: [outputDimensions]
}

// NewLinear creates a Linear layer with weights and biases drawn uniformly
// from ±1/sqrt(inputDimensions). both require grad.
func NewLinear(inputDimensions, outputDimensions int, rng *rand.Rand) (*Linear, error) {
	if inputDimensions <= 0 || outputDimensions <= 0 {
		return nil, fmt.Errorf("linear layer dimensions must be positive, got input %d, output %d", inputDimensions, outputDimensions)
	}
	rng = orClock(rng)
	bound := 1 / math.Sqrt(float64(inputDimensions))

	weight, err := uniformParam([]int{inputDimensions, outputDimensions}, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("linear layer failed to create weight tensor: %w", err)
	}
	bias, err := uniformParam([]int{outputDimensions}, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("linear layer failed to create bias tensor: %w", err)
	}
	return &Linear{weight: weight, bias: bias}, nil
}

// Forward accepts any input of shape [..., inputDimensions].
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	inputShape := input.GetShape()
	if len(inputShape) == 0 {
		return nil, fmt.Errorf("linear layer expects at least a 1D input, got shape %v", inputShape)
	}
	inputDims := inputShape[len(inputShape)-1]
	weightInputDims, outputDims := l.weight.GetShape()[0], l.weight.GetShape()[1]
	if inputDims != weightInputDims {
		return nil, fmt.Errorf("linear layer input dimension mismatch: input %d, weight expected %d", inputDims, weightInputDims)
	}

	// fold every leading axis into the matmul rows
	rows := tensor.Numel(input) / inputDims
	flat, err := tensor.Reshape(input, []int{rows, inputDims})
	if err != nil {
		return nil, err
	}
	step, err := tensor.MatMulTensor(flat, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear layer matmul failed: %w", err)
	}
	withBias, err := tensor.AddTensorBroadcast(step, l.bias, 1)
	if err != nil {
		return nil, fmt.Errorf("linear layer bias addition failed: %w", err)
	}

	outShape := append(append([]int{}, inputShape[:len(inputShape)-1]...), outputDims)
	return tensor.Reshape(withBias, outShape)
}

// Parameters() returns the list of parameters in the layer that require gradients.
func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.weight, l.bias}
}

func (l *Linear) ZeroGrad() { zeroGrad(l.Parameters()) }

func (l *Linear) Name() string { return "Linear" }

func (l *Linear) Weight() *tensor.Tensor { return l.weight }
func (l *Linear) Bias() *tensor.Tensor   { return l.bias }

// InFeatures and OutFeatures report the projection widths.
func (l *Linear) InFeatures() int  { return l.weight.GetShape()[0] }
func (l *Linear) OutFeatures() int { return l.weight.GetShape()[1] }

package nn

import (
	"fmt"
	"math"
	"math/rand"

	"go-mixer/tensor"
)

// Conv2D implements a 2D convolutional layer fully integrated with the autograd system.
type Conv2D struct {
	Weight  *tensor.Tensor // Shape: [OutChannels, InChannels, KernelHeight, KernelWidth]
	Bias    *tensor.Tensor // Shape: [OutChannels]
	Stride  int
	Padding int
}

// creates a new Conv2D layer.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) (*Conv2D, error) {
	if inChannels <= 0 || outChannels <= 0 || kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("conv2d: invalid geometry in=%d out=%d kernel=%d stride=%d padding=%d",
			inChannels, outChannels, kernelSize, stride, padding)
	}
	rng = orClock(rng)
	bound := 1 / math.Sqrt(float64(inChannels*kernelSize*kernelSize))

	weights, err := uniformParam([]int{outChannels, inChannels, kernelSize, kernelSize}, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	bias, err := uniformParam([]int{outChannels}, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create bias tensor: %w", err)
	}

	return &Conv2D{
		Weight:  weights,
		Bias:    bias,
		Stride:  stride,
		Padding: padding,
	}, nil
}

// Forward lowers the convolution to im2col + matmul and builds the autograd graph.
func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	wShape := c.Weight.GetShape()
	outChannels, inChannels, kernelHeight, kernelWidth := wShape[0], wShape[1], wShape[2], wShape[3]

	inShape := input.GetShape()
	if len(inShape) != 4 || inShape[1] != inChannels {
		return nil, fmt.Errorf("conv2d expects input [B, %d, H, W], got %v", inChannels, inShape)
	}

	inputCols, err := tensor.Im2Col(input, kernelHeight, kernelWidth, c.Stride, c.Padding)
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during im2col: %w", err)
	}

	// reshape kernel weights into a 2D matrix
	kernelMatrix, err := tensor.Reshape(c.Weight, []int{outChannels, -1})
	if err != nil {
		return nil, fmt.Errorf("conv forward failed reshaping kernel: %w", err)
	}

	outputMatMul, err := tensor.MatMulTensor(kernelMatrix, inputCols)
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during matmul: %w", err)
	}

	// reshape the output back into an image-like format
	batchSize := inShape[0]
	outHeight := (inShape[2]+2*c.Padding-kernelHeight)/c.Stride + 1
	outWidth := (inShape[3]+2*c.Padding-kernelWidth)/c.Stride + 1
	outputReshaped, err := tensor.Reshape(outputMatMul, []int{outChannels, batchSize, outHeight, outWidth})
	if err != nil {
		return nil, fmt.Errorf("conv forward failed reshaping output: %w", err)
	}

	outputPermuted, err := tensor.Permute(outputReshaped, []int{1, 0, 2, 3})
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during permute: %w", err)
	}

	finalOutput, err := tensor.AddTensorBroadcast(outputPermuted, c.Bias, 1)
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during bias add: %w", err)
	}
	return finalOutput, nil
}

func (c *Conv2D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{c.Weight, c.Bias}
}

func (c *Conv2D) ZeroGrad() { zeroGrad(c.Parameters()) }

func (c *Conv2D) Name() string { return "Conv2D" }

// ConvTranspose2D is the adjoint of Conv2D: it scatters every input pixel
// through the kernel, growing H to (H-1)*stride - 2*padding + kernel.
type ConvTranspose2D struct {
	Weight  *tensor.Tensor // Shape: [InChannels, OutChannels, KernelHeight, KernelWidth]
	Bias    *tensor.Tensor // Shape: [OutChannels]
	Stride  int
	Padding int
}

func NewConvTranspose2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) (*ConvTranspose2D, error) {
	if inChannels <= 0 || outChannels <= 0 || kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("conv transpose2d: invalid geometry in=%d out=%d kernel=%d stride=%d padding=%d",
			inChannels, outChannels, kernelSize, stride, padding)
	}
	rng = orClock(rng)
	bound := 1 / math.Sqrt(float64(outChannels*kernelSize*kernelSize))

	weights, err := uniformParam([]int{inChannels, outChannels, kernelSize, kernelSize}, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	bias, err := uniformParam([]int{outChannels}, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create bias tensor: %w", err)
	}
	return &ConvTranspose2D{Weight: weights, Bias: bias, Stride: stride, Padding: padding}, nil
}

// NewUpsampleConv is a transposed convolution with padding 1, used to
// upsample fused features ahead of a prediction head.
func NewUpsampleConv(inChannels, outChannels, kernelSize, stride int, rng *rand.Rand) (*ConvTranspose2D, error) {
	return NewConvTranspose2D(inChannels, outChannels, kernelSize, stride, 1, rng)
}

func (c *ConvTranspose2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	wShape := c.Weight.GetShape()
	inChannels, outChannels, kernelHeight, kernelWidth := wShape[0], wShape[1], wShape[2], wShape[3]

	inShape := input.GetShape()
	if len(inShape) != 4 || inShape[1] != inChannels {
		return nil, fmt.Errorf("conv transpose2d expects input [B, %d, H, W], got %v", inChannels, inShape)
	}
	batchSize, height, width := inShape[0], inShape[2], inShape[3]
	outHeight := (height-1)*c.Stride - 2*c.Padding + kernelHeight
	outWidth := (width-1)*c.Stride - 2*c.Padding + kernelWidth
	if outHeight <= 0 || outWidth <= 0 {
		return nil, fmt.Errorf("conv transpose2d produces invalid output size: %dx%d", outHeight, outWidth)
	}

	// [B, Cin, H, W] -> [Cin, B*H*W]
	x, err := tensor.Permute(input, []int{1, 0, 2, 3})
	if err != nil {
		return nil, err
	}
	x, err = tensor.Reshape(x, []int{inChannels, -1})
	if err != nil {
		return nil, err
	}

	// [Cin, Cout*kh*kw] -> [Cout*kh*kw, Cin]
	kernelMatrix, err := tensor.Reshape(c.Weight, []int{inChannels, -1})
	if err != nil {
		return nil, err
	}
	kernelMatrix, err = tensor.Transpose(kernelMatrix)
	if err != nil {
		return nil, err
	}

	cols, err := tensor.MatMulTensor(kernelMatrix, x)
	if err != nil {
		return nil, fmt.Errorf("conv transpose forward failed during matmul: %w", err)
	}
	img, err := tensor.Col2Im(cols, []int{batchSize, outChannels, outHeight, outWidth}, kernelHeight, kernelWidth, c.Stride, c.Padding)
	if err != nil {
		return nil, fmt.Errorf("conv transpose forward failed during col2im: %w", err)
	}
	return tensor.AddTensorBroadcast(img, c.Bias, 1)
}

func (c *ConvTranspose2D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{c.Weight, c.Bias}
}

func (c *ConvTranspose2D) ZeroGrad() { zeroGrad(c.Parameters()) }

func (c *ConvTranspose2D) Name() string { return "ConvTranspose2D" }

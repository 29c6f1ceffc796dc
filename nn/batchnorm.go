package nn

import (
	"fmt"
	"math"

	"go-mixer/tensor"
)

// BatchNorm2D normalizes each channel of [B, C, H, W]. in training mode it
// uses the batch statistics and updates the running averages; in eval mode
// it uses the running averages.
type BatchNorm2D struct {
	channels    int
	eps         float64
	momentum    float64
	training    bool
	gamma       *tensor.Tensor
	beta        *tensor.Tensor
	runningMean []float64
	runningVar  []float64
}

func NewBatchNorm2D(channels int) (*BatchNorm2D, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("batchnorm channels must be positive, got %d", channels)
	}
	gamma, err := constParam([]int{channels}, 1)
	if err != nil {
		return nil, err
	}
	beta, err := constParam([]int{channels}, 0)
	if err != nil {
		return nil, err
	}
	runningVar := make([]float64, channels)
	for i := range runningVar {
		runningVar[i] = 1
	}
	return &BatchNorm2D{
		channels:    channels,
		eps:         normEps,
		momentum:    0.1,
		training:    true,
		gamma:       gamma,
		beta:        beta,
		runningMean: make([]float64, channels),
		runningVar:  runningVar,
	}, nil
}

func (bn *BatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.GetShape()
	if len(shape) != 4 || shape[1] != bn.channels {
		return nil, fmt.Errorf("batchnorm expects input [B, %d, H, W], got %v", bn.channels, shape)
	}
	b, c, plane := shape[0], shape[1], shape[2]*shape[3]
	count := b * plane
	if bn.training && count < 2 {
		return nil, fmt.Errorf("batchnorm needs more than one value per channel in training mode, got input %v", shape)
	}

	xData := x.GetData()
	gamma, beta := bn.gamma.GetData(), bn.beta.GetData()
	mean := make([]float64, c)
	invStd := make([]float64, c)

	if bn.training {
		variance := make([]float64, c)
		for n := 0; n < b; n++ {
			for ch := 0; ch < c; ch++ {
				for _, v := range xData[(n*c+ch)*plane : (n*c+ch+1)*plane] {
					mean[ch] += v
				}
			}
		}
		for ch := range mean {
			mean[ch] /= float64(count)
		}
		for n := 0; n < b; n++ {
			for ch := 0; ch < c; ch++ {
				for _, v := range xData[(n*c+ch)*plane : (n*c+ch+1)*plane] {
					variance[ch] += (v - mean[ch]) * (v - mean[ch])
				}
			}
		}
		for ch := range variance {
			variance[ch] /= float64(count)
			invStd[ch] = 1 / math.Sqrt(variance[ch]+bn.eps)
			unbiased := variance[ch] * float64(count) / float64(count-1)
			bn.runningMean[ch] = (1-bn.momentum)*bn.runningMean[ch] + bn.momentum*mean[ch]
			bn.runningVar[ch] = (1-bn.momentum)*bn.runningVar[ch] + bn.momentum*unbiased
		}
	} else {
		for ch := range mean {
			mean[ch] = bn.runningMean[ch]
			invStd[ch] = 1 / math.Sqrt(bn.runningVar[ch]+bn.eps)
		}
	}

	xhat := make([]float64, len(xData))
	outData := make([]float64, len(xData))
	for i, v := range xData {
		ch := (i / plane) % c
		xhat[i] = (v - mean[ch]) * invStd[ch]
		outData[i] = xhat[i]*gamma[ch] + beta[ch]
	}

	out, err := tensor.NewTensor(shape, outData)
	if err != nil {
		return nil, fmt.Errorf("batchnorm failed to create output tensor: %w", err)
	}
	if !(x.RequiresGrad || bn.gamma.RequiresGrad || bn.beta.RequiresGrad) {
		return out, nil
	}

	batchStats := bn.training
	out.RequiresGrad = true
	out.Parents = []*tensor.Tensor{x, bn.gamma, bn.beta}
	out.Operation = "batchnorm2d"
	out.BackwardFunc = func(grad *tensor.Tensor) {
		gradData := grad.GetData()
		gradGamma := make([]float64, c)
		gradBeta := make([]float64, c)
		for i, dy := range gradData {
			ch := (i / plane) % c
			gradGamma[ch] += dy * xhat[i]
			gradBeta[ch] += dy
		}

		gradX := make([]float64, len(xData))
		for i, dy := range gradData {
			ch := (i / plane) % c
			if batchStats {
				// same reduction as layernorm, taken over the B*H*W values of the channel
				n := float64(count)
				gradX[i] = gamma[ch] * invStd[ch] / n * (n*dy - gradBeta[ch] - xhat[i]*gradGamma[ch])
			} else {
				gradX[i] = dy * gamma[ch] * invStd[ch]
			}
		}

		if g, err := tensor.NewTensor(shape, gradX); err == nil {
			x.AccumulateGrad(g)
		}
		if g, err := tensor.NewTensor([]int{c}, gradGamma); err == nil {
			bn.gamma.AccumulateGrad(g)
		}
		if g, err := tensor.NewTensor([]int{c}, gradBeta); err == nil {
			bn.beta.AccumulateGrad(g)
		}
	}
	return out, nil
}

func (bn *BatchNorm2D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{bn.gamma, bn.beta}
}

func (bn *BatchNorm2D) ZeroGrad() { zeroGrad(bn.Parameters()) }

func (bn *BatchNorm2D) SetTraining(training bool) { bn.training = training }

func (bn *BatchNorm2D) Name() string { return "BatchNorm2D" }

// RunningStats returns copies of the running mean and variance.
func (bn *BatchNorm2D) RunningStats() (mean, variance []float64) {
	return append([]float64{}, bn.runningMean...), append([]float64{}, bn.runningVar...)
}

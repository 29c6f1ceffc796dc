package tensor

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelFor splits [0, n) into one contiguous chunk per CPU.
// chunks must write disjoint regions.
func parallelFor(n int, fn func(start, end int)) {
	workers := runtime.NumCPU()
	per := (n + workers - 1) / workers
	if per == 0 {
		return
	}

	var g errgroup.Group
	for start := 0; start < n; start += per {
		start := start
		end := min(start+per, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	_ = g.Wait()
}

func convOutSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// Im2Col converts image-like data [B, C, H, W] into a column matrix
// [C*kh*kw, B*outH*outW]. work is split over the batch dimension.
func Im2Col(input *Tensor, kernelHeight, kernelWidth, stride, padding int) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, fmt.Errorf("im2col expects a 4D input tensor, but got %dD", len(input.shape))
	}
	if stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("im2col: invalid stride %d or padding %d", stride, padding)
	}
	inputShape := input.shape
	batchSize, channels, height, width := inputShape[0], inputShape[1], inputShape[2], inputShape[3]

	outHeight := convOutSize(height, kernelHeight, stride, padding)
	outWidth := convOutSize(width, kernelWidth, stride, padding)
	if outHeight <= 0 || outWidth <= 0 {
		return nil, fmt.Errorf("convolution produces invalid output size: %dx%d", outHeight, outWidth)
	}

	outputCols := outHeight * outWidth
	colShape := []int{channels * kernelHeight * kernelWidth, batchSize * outputCols}
	colData := make([]float64, colShape[0]*colShape[1])
	inputData := input.data

	parallelFor(batchSize, func(sB, eB int) {
		for b := sB; b < eB; b++ {
			for c := 0; c < channels; c++ {
				for kh := 0; kh < kernelHeight; kh++ {
					for kw := 0; kw < kernelWidth; kw++ {
						colRow := c*(kernelHeight*kernelWidth) + kh*kernelWidth + kw
						for oh := 0; oh < outHeight; oh++ {
							inputRow := kh - padding + oh*stride
							if inputRow < 0 || inputRow >= height {
								continue
							}
							for ow := 0; ow < outWidth; ow++ {
								inputCol := kw - padding + ow*stride
								if inputCol < 0 || inputCol >= width {
									continue
								}
								colCol := b*outputCols + oh*outWidth + ow
								srcIndex := b*(channels*height*width) + c*(height*width) + inputRow*width + inputCol
								colData[colRow*colShape[1]+colCol] = inputData[srcIndex]
							}
						}
					}
				}
			}
		}
	})

	out := wrap(colShape, colData)
	attach(out, "im2col", func(grad *Tensor) {
		g, err := Col2Im(Detach(grad), inputShape, kernelHeight, kernelWidth, stride, padding)
		if err != nil {
			return
		}
		input.AccumulateGrad(g)
	}, input)
	return out, nil
}

// Col2Im scatters a column matrix back into image-like data of inputShape,
// summing overlapping taps. it is the adjoint of Im2Col.
func Col2Im(cols *Tensor, inputShape []int, kernelHeight, kernelWidth, stride, padding int) (*Tensor, error) {
	if len(inputShape) != 4 {
		return nil, fmt.Errorf("col2im requires a 4D target inputShape, but got %dD", len(inputShape))
	}
	if stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("col2im: invalid stride %d or padding %d", stride, padding)
	}
	batchSize, channels, height, width := inputShape[0], inputShape[1], inputShape[2], inputShape[3]

	outHeight := convOutSize(height, kernelHeight, stride, padding)
	outWidth := convOutSize(width, kernelWidth, stride, padding)
	want := []int{channels * kernelHeight * kernelWidth, batchSize * outHeight * outWidth}
	if !sameShape(cols.shape, want) {
		return nil, fmt.Errorf("col2im: column matrix %v does not match %v for image %v", cols.shape, want, inputShape)
	}

	imgData := make([]float64, shapeNumel(inputShape))
	colsData := cols.data
	colWidth := want[1]

	// each job owns one (batch, channel) plane, so writes never overlap
	parallelFor(batchSize*channels, func(start, end int) {
		for job := start; job < end; job++ {
			b := job / channels
			c := job % channels
			for kh := 0; kh < kernelHeight; kh++ {
				for kw := 0; kw < kernelWidth; kw++ {
					colRow := c*(kernelHeight*kernelWidth) + kh*kernelWidth + kw
					for oh := 0; oh < outHeight; oh++ {
						inputRow := kh - padding + oh*stride
						if inputRow < 0 || inputRow >= height {
							continue
						}
						for ow := 0; ow < outWidth; ow++ {
							inputCol := kw - padding + ow*stride
							if inputCol < 0 || inputCol >= width {
								continue
							}
							colCol := b*outHeight*outWidth + oh*outWidth + ow
							destIndex := b*(channels*height*width) + c*(height*width) + inputRow*width + inputCol
							imgData[destIndex] += colsData[colRow*colWidth+colCol]
						}
					}
				}
			}
		}
	})

	out := wrap(inputShape, imgData)
	attach(out, "col2im", func(grad *Tensor) {
		g, err := Im2Col(Detach(grad), kernelHeight, kernelWidth, stride, padding)
		if err != nil {
			return
		}
		cols.AccumulateGrad(g)
	}, cols)
	return out, nil
}

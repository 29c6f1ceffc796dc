package tensor

import (
	"fmt"
	"log/slog"
	"math"
)

// ResizeMode selects the interpolation kernel.
type ResizeMode int

const (
	Nearest ResizeMode = iota
	Bilinear
)

func (m ResizeMode) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return fmt.Sprintf("ResizeMode(%d)", int(m))
	}
}

// ResizeOptions configures Interpolate. exactly one of Size or ScaleFactor is set.
type ResizeOptions struct {
	Size         [2]int
	ScaleFactor  float64
	Mode         ResizeMode
	AlignCorners bool
	// Warn logs when align-corners upsampling sizes do not line up
	// (input x+1, output nx+1).
	Warn bool
}

// tap is one source index and its weight for an output coordinate.
type tap struct {
	idx    int
	weight float64
}

func axisTaps(in, out int, mode ResizeMode, alignCorners bool) [][]tap {
	taps := make([][]tap, out)
	scale := float64(in) / float64(out)
	for o := range taps {
		if mode == Nearest {
			src := min(int(math.Floor(float64(o)*scale)), in-1)
			taps[o] = []tap{{src, 1}}
			continue
		}

		var src float64
		if alignCorners {
			if out > 1 {
				src = float64(o) * float64(in-1) / float64(out-1)
			}
		} else {
			src = max((float64(o)+0.5)*scale-0.5, 0)
		}
		i0 := min(int(math.Floor(src)), in-1)
		i1 := min(i0+1, in-1)
		lambda := src - float64(i0)
		if i0 == i1 {
			taps[o] = []tap{{i0, 1}}
			continue
		}
		taps[o] = []tap{{i0, 1 - lambda}, {i1, lambda}}
	}
	return taps
}

func warnAlignment(inH, inW, outH, outW int) {
	if outH <= inH && outW <= inW {
		return
	}
	if outH > 1 && outW > 1 && inH > 1 && inW > 1 &&
		(outH-1)%(inH-1) != 0 && (outW-1)%(inW-1) != 0 {
		slog.Warn("resize output would be better aligned if input size is x+1 and output size is nx+1",
			"align_corners", true, "input", [2]int{inH, inW}, "output", [2]int{outH, outW})
	}
}

// Interpolate resizes the spatial dimensions of a [B, C, H, W] tensor.
func Interpolate(input *Tensor, opts ResizeOptions) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, fmt.Errorf("interpolate expects a 4D input tensor, got %v", input.shape)
	}
	if opts.Mode != Nearest && opts.Mode != Bilinear {
		return nil, fmt.Errorf("interpolate: unsupported mode %v", opts.Mode)
	}
	if opts.AlignCorners && opts.Mode == Nearest {
		return nil, fmt.Errorf("interpolate: align corners can only be set with bilinear mode")
	}
	b, c, inH, inW := input.shape[0], input.shape[1], input.shape[2], input.shape[3]

	outH, outW := opts.Size[0], opts.Size[1]
	switch {
	case outH > 0 && outW > 0 && opts.ScaleFactor != 0:
		return nil, fmt.Errorf("interpolate: only one of size or scale factor should be defined")
	case outH > 0 && outW > 0:
	case opts.ScaleFactor > 0:
		outH = int(math.Floor(float64(inH) * opts.ScaleFactor))
		outW = int(math.Floor(float64(inW) * opts.ScaleFactor))
	default:
		return nil, fmt.Errorf("interpolate: either a positive size or scale factor is required")
	}
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("interpolate: output size %dx%d is empty", outH, outW)
	}

	if opts.Warn && opts.AlignCorners && opts.Size != [2]int{} {
		warnAlignment(inH, inW, outH, outW)
	}

	rows := axisTaps(inH, outH, opts.Mode, opts.AlignCorners)
	cols := axisTaps(inW, outW, opts.Mode, opts.AlignCorners)
	inPlane, outPlane := inH*inW, outH*outW

	outData := make([]float64, b*c*outPlane)
	parallelFor(b*c, func(start, end int) {
		for plane := start; plane < end; plane++ {
			src := input.data[plane*inPlane : (plane+1)*inPlane]
			dst := outData[plane*outPlane : (plane+1)*outPlane]
			for oy, ry := range rows {
				for ox, rx := range cols {
					var v float64
					for _, ty := range ry {
						for _, tx := range rx {
							v += ty.weight * tx.weight * src[ty.idx*inW+tx.idx]
						}
					}
					dst[oy*outW+ox] = v
				}
			}
		}
	})
	out := wrap([]int{b, c, outH, outW}, outData)

	attach(out, "interpolate_"+opts.Mode.String(), func(grad *Tensor) {
		g := make([]float64, len(input.data))
		parallelFor(b*c, func(start, end int) {
			for plane := start; plane < end; plane++ {
				src := grad.data[plane*outPlane : (plane+1)*outPlane]
				dst := g[plane*inPlane : (plane+1)*inPlane]
				for oy, ry := range rows {
					for ox, rx := range cols {
						v := src[oy*outW+ox]
						for _, ty := range ry {
							for _, tx := range rx {
								dst[ty.idx*inW+tx.idx] += ty.weight * tx.weight * v
							}
						}
					}
				}
			}
		})
		input.AccumulateGrad(wrap(input.shape, g))
	}, input)
	return out, nil
}

package tensor

import "fmt"

// Permute reorders the axes of t: output axis i is input axis dims[i].
func Permute(t *Tensor, dims []int) (*Tensor, error) {
	rank := len(t.shape)
	if len(dims) != rank {
		return nil, fmt.Errorf("permute dims %v do not match rank of shape %v", dims, t.shape)
	}
	seen := make([]bool, rank)
	for _, d := range dims {
		if d < 0 || d >= rank || seen[d] {
			return nil, fmt.Errorf("permute dims %v are not a permutation of %d axes", dims, rank)
		}
		seen[d] = true
	}

	inStrides := strides(t.shape)
	outShape := make([]int, rank)
	srcStrides := make([]int, rank)
	inverse := make([]int, rank)
	for i, d := range dims {
		outShape[i] = t.shape[d]
		srcStrides[i] = inStrides[d]
		inverse[d] = i
	}

	outData := make([]float64, len(t.data))
	gather(outData, t.data, outShape, srcStrides)
	out := wrap(outShape, outData)

	attach(out, "permute", func(grad *Tensor) {
		g, err := Permute(Detach(grad), inverse)
		if err != nil {
			return
		}
		t.AccumulateGrad(g)
	}, t)
	return out, nil
}

// gather walks dst in row-major order over shape, reading src through srcStrides.
func gather(dst, src []float64, shape, srcStrides []int) {
	idx := make([]int, len(shape))
	off := 0
	for i := range dst {
		dst[i] = src[off]
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			off += srcStrides[d]
			if idx[d] < shape[d] {
				break
			}
			off -= srcStrides[d] * shape[d]
			idx[d] = 0
		}
	}
}

// Concat joins tensors along axis. all other dimensions must match.
func Concat(ts []*Tensor, axis int) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat needs at least one tensor")
	}
	first := ts[0].shape
	if axis < 0 {
		axis += len(first)
	}
	if axis < 0 || axis >= len(first) {
		return nil, fmt.Errorf("concat axis %d out of range for shape %v", axis, first)
	}

	outShape := append([]int{}, first...)
	outShape[axis] = 0
	for _, t := range ts {
		if len(t.shape) != len(first) {
			return nil, fmt.Errorf("concat rank mismatch: %v and %v", first, t.shape)
		}
		for d := range first {
			if d != axis && t.shape[d] != first[d] {
				return nil, fmt.Errorf("concat shape mismatch on axis %d: %v and %v", d, first, t.shape)
			}
		}
		outShape[axis] += t.shape[axis]
	}

	outer := 1
	for _, d := range first[:axis] {
		outer *= d
	}
	inner := 1
	for _, d := range first[axis+1:] {
		inner *= d
	}
	rowLen := outShape[axis] * inner

	outData := make([]float64, shapeNumel(outShape))
	offset := 0
	for _, t := range ts {
		chunk := t.shape[axis] * inner
		for o := 0; o < outer; o++ {
			copy(outData[o*rowLen+offset:o*rowLen+offset+chunk], t.data[o*chunk:(o+1)*chunk])
		}
		offset += chunk
	}
	out := wrap(outShape, outData)

	attach(out, "concat", func(grad *Tensor) {
		offset := 0
		for _, t := range ts {
			chunk := t.shape[axis] * inner
			if t.RequiresGrad {
				g := make([]float64, len(t.data))
				for o := 0; o < outer; o++ {
					copy(g[o*chunk:(o+1)*chunk], grad.data[o*rowLen+offset:o*rowLen+offset+chunk])
				}
				t.AccumulateGrad(wrap(t.shape, g))
			}
			offset += chunk
		}
	}, ts...)
	return out, nil
}

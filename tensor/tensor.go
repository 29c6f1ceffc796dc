package tensor

import (
	"fmt"
	"log/slog"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NOTE: most of the functions are self-explanatory. every op that takes a tensor
// requiring grad records its parents and a BackwardFunc; autograd.Backward walks them.

// Tensor is a dense, row-major float64 tensor.
type Tensor struct {
	shape        []int
	data         []float64
	Grad         *Tensor
	RequiresGrad bool
	Parents      []*Tensor
	Operation    string
	BackwardFunc func(*Tensor)
}

// utility function to check if two tensors have the same shape
func IsSameSize(a, b *Tensor) bool {
	return sameShape(a.shape, b.shape)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// builds a new tensor with the given shape and data. data is copied;
// empty data yields a zero tensor.
func NewTensor(shape []int, data []float64) (*Tensor, error) {
	total := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("shape %v contains non-positive dimension", shape)
		}
		total *= dim
	}
	if len(data) > 0 && total != len(data) {
		return nil, fmt.Errorf("shape %v implies %d elements but data has length %d", shape, total, len(data))
	}
	if len(data) == 0 {
		return wrap(shape, make([]float64, total)), nil
	}
	return wrap(shape, append([]float64{}, data...)), nil
}

// Zeros is NewTensor without data.
func Zeros(shape ...int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

// wrap takes ownership of data without validation.
func wrap(shape []int, data []float64) *Tensor {
	return &Tensor{shape: append([]int{}, shape...), data: data}
}

// attach wires the autograd bookkeeping when any parent requires grad.
func attach(out *Tensor, op string, backward func(*Tensor), parents ...*Tensor) {
	for _, p := range parents {
		if p.RequiresGrad {
			out.RequiresGrad = true
			out.Parents = parents
			out.Operation = op
			out.BackwardFunc = backward
			return
		}
	}
}

// clones a tensor, the clone is detached from the graph
func CloneTensor(t *Tensor) *Tensor {
	out := wrap(t.shape, append([]float64{}, t.data...))
	out.RequiresGrad = t.RequiresGrad
	return out
}

// adds two tensors of the same shape
func AddTensor(t1 *Tensor, t2 *Tensor) (*Tensor, error) {
	if !IsSameSize(t1, t2) {
		return nil, fmt.Errorf("tensors %v and %v have different sizes for addition", t1.shape, t2.shape)
	}

	outData := make([]float64, len(t1.data))
	floats.AddTo(outData, t1.data, t2.data)
	out := wrap(t1.shape, outData)

	attach(out, "add", func(grad *Tensor) {
		t1.AccumulateGrad(grad)
		t2.AccumulateGrad(grad)
	}, t1, t2)
	return out, nil
}

// multiplies two tensors element-wise
func MulTensor(t1 *Tensor, t2 *Tensor) (*Tensor, error) {
	if !IsSameSize(t1, t2) {
		return nil, fmt.Errorf("tensors %v and %v have different sizes for multiplication", t1.shape, t2.shape)
	}

	outData := make([]float64, len(t1.data))
	floats.MulTo(outData, t1.data, t2.data)
	out := wrap(t1.shape, outData)

	attach(out, "mul", func(grad *Tensor) {
		if t1.RequiresGrad {
			g := make([]float64, len(grad.data))
			floats.MulTo(g, grad.data, t2.data)
			t1.AccumulateGrad(wrap(t1.shape, g))
		}
		if t2.RequiresGrad {
			g := make([]float64, len(grad.data))
			floats.MulTo(g, grad.data, t1.data)
			t2.AccumulateGrad(wrap(t2.shape, g))
		}
	}, t1, t2)
	return out, nil
}

// multiplies every element by s
func ScaleTensor(t *Tensor, s float64) *Tensor {
	outData := append([]float64{}, t.data...)
	floats.Scale(s, outData)
	out := wrap(t.shape, outData)

	attach(out, "scale", func(grad *Tensor) {
		g := append([]float64{}, grad.data...)
		floats.Scale(s, g)
		t.AccumulateGrad(wrap(t.shape, g))
	}, t)
	return out
}

// SumTensor reduces all elements into a tensor of shape [1].
func SumTensor(t *Tensor) *Tensor {
	out := wrap([]int{1}, []float64{floats.Sum(t.data)})

	attach(out, "sum", func(grad *Tensor) {
		g := make([]float64, len(t.data))
		for i := range g {
			g[i] = grad.data[0]
		}
		t.AccumulateGrad(wrap(t.shape, g))
	}, t)
	return out
}

// AddTensorBroadcast adds the 1-D tensor bias along the given axis of t,
// e.g. a per-channel bias on axis 1 of [B, C, H, W] or a per-feature bias
// on the last axis.
func AddTensorBroadcast(t *Tensor, bias *Tensor, axis int) (*Tensor, error) {
	if axis < 0 {
		axis += len(t.shape)
	}
	if axis < 0 || axis >= len(t.shape) {
		return nil, fmt.Errorf("broadcast axis %d out of range for shape %v", axis, t.shape)
	}
	n := t.shape[axis]
	if len(bias.shape) != 1 || bias.shape[0] != n {
		return nil, fmt.Errorf("bias shape %v cannot broadcast along axis %d of %v", bias.shape, axis, t.shape)
	}
	inner := 1
	for _, d := range t.shape[axis+1:] {
		inner *= d
	}

	outData := make([]float64, len(t.data))
	for i, v := range t.data {
		outData[i] = v + bias.data[(i/inner)%n]
	}
	out := wrap(t.shape, outData)

	attach(out, "add_broadcast", func(grad *Tensor) {
		t.AccumulateGrad(grad)
		if bias.RequiresGrad {
			g := make([]float64, n)
			for i, v := range grad.data {
				g[(i/inner)%n] += v
			}
			bias.AccumulateGrad(wrap(bias.shape, g))
		}
	}, t, bias)
	return out, nil
}

// returns the number of elements in a tensor
func Numel(t *Tensor) int {
	if t == nil {
		return 0
	}
	return shapeNumel(t.shape)
}

func shapeNumel(shape []int) int {
	n := 1
	for _, s := range shape {
		if s <= 0 {
			return 0
		}
		n *= s
	}
	return n
}

// reshapes the given tensor to the given shape. one dimension may be -1,
// in which case it is inferred from the element count.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	originalNumel := Numel(t)
	shape := append([]int{}, newShape...)

	infer := -1
	known := 1
	for i, dim := range shape {
		switch {
		case dim == -1 && infer < 0:
			infer = i
		case dim <= 0:
			return nil, fmt.Errorf("newShape %v contains invalid dimension %d", newShape, dim)
		default:
			known *= dim
		}
	}
	if infer >= 0 {
		if originalNumel%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension of %v for tensor with %d elements", newShape, originalNumel)
		}
		shape[infer] = originalNumel / known
		known *= shape[infer]
	}

	if originalNumel != known {
		return nil, fmt.Errorf("cannot reshape tensor with %d elements to shape %v (requires %d elements)", originalNumel, newShape, known)
	}

	out := wrap(shape, append([]float64{}, t.data...))
	attach(out, "reshape", func(grad *Tensor) {
		t.AccumulateGrad(wrap(t.shape, grad.data))
	}, t)
	return out, nil
}

// this defines the GetData() and GetShape() accessors, used for testing & debugging
func (t *Tensor) GetData() []float64 {
	return t.data
}

func (t *Tensor) GetShape() []int {
	return t.shape
}

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float64 {
	off := 0
	for i, s := range strides(t.shape) {
		off += idx[i] * s
	}
	return t.data[off]
}

// returns a tensor with all elements set to 1
func OnesLike(t *Tensor) (*Tensor, error) {
	size := Numel(t)
	if size == 0 {
		return nil, fmt.Errorf("cannot create OnesLike for tensor with invalid shape %v", t.shape)
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = 1
	}
	return wrap(t.shape, data), nil
}

// sets the gradient of a tensor to zero
func (t *Tensor) ZeroGrad() {
	if t.Grad != nil {
		for i := range t.Grad.data {
			t.Grad.data[i] = 0
		}
	} else if t.RequiresGrad {
		t.Grad = wrap(t.shape, make([]float64, Numel(t)))
	}
}

// AccumulateGrad adds grad into t.Grad. it does not propagate further;
// propagation order is owned by autograd.Backward.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !t.RequiresGrad || grad == nil {
		return
	}
	if !IsSameSize(t, grad) {
		slog.Warn("gradient shape mismatch", "op", t.Operation, "shape", t.shape, "grad", grad.shape)
		return
	}
	if t.Grad == nil {
		t.Grad = wrap(t.shape, append([]float64{}, grad.data...))
		return
	}
	floats.Add(t.Grad.data, grad.data)
}

// Detach returns a view of t's data that is not part of the graph.
func Detach(t *Tensor) *Tensor {
	return wrap(t.shape, t.data)
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// transposes the last two dimensions of a tensor of any rank >= 2.
func Transpose(t *Tensor) (*Tensor, error) {
	rank := len(t.shape)
	if rank < 2 {
		return nil, fmt.Errorf("transpose requires a tensor with at least 2 dimensions, got %v", t.shape)
	}
	dims := make([]int, rank)
	for i := range dims {
		dims[i] = i
	}
	dims[rank-1], dims[rank-2] = dims[rank-2], dims[rank-1]
	return Permute(t, dims)
}

// MatMulTensor multiplies [M, K] by [K, N].
func MatMulTensor(t1 *Tensor, t2 *Tensor) (*Tensor, error) {
	shape1, shape2 := t1.shape, t2.shape
	if len(shape1) != 2 || len(shape2) != 2 {
		return nil, fmt.Errorf("matmul only supports 2D tensors ([M, K] @ [K, N]), got %v and %v", shape1, shape2)
	}
	m, k := shape1[0], shape1[1]
	if k != shape2[0] {
		return nil, fmt.Errorf("matmul incompatible shapes: inner dimensions mismatch %v and %v (%d != %d)", shape1, shape2, k, shape2[0])
	}
	n := shape2[1]

	a := mat.NewDense(m, k, t1.data)
	b := mat.NewDense(k, n, t2.data)
	c := mat.NewDense(m, n, nil)
	c.Mul(a, b)
	out := wrap([]int{m, n}, c.RawMatrix().Data)

	attach(out, "matmul", func(grad *Tensor) {
		// dL/dA = dL/dC @ B^T, dL/dB = A^T @ dL/dC
		g := mat.NewDense(m, n, grad.data)
		if t1.RequiresGrad {
			ga := mat.NewDense(m, k, nil)
			ga.Mul(g, b.T())
			t1.AccumulateGrad(wrap(shape1, ga.RawMatrix().Data))
		}
		if t2.RequiresGrad {
			gb := mat.NewDense(k, n, nil)
			gb.Mul(a.T(), g)
			t2.AccumulateGrad(wrap(shape2, gb.RawMatrix().Data))
		}
	}, t1, t2)
	return out, nil
}

// String prints the tensor in readable format
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tensor(shape=%v, data=%v, requires_grad=%v", t.shape, t.data, t.RequiresGrad)
	if t.Grad != nil {
		fmt.Fprintf(&b, ", grad_data=%v", t.Grad.data)
	}
	if t.Operation != "" {
		fmt.Fprintf(&b, ", op=%s", t.Operation)
	}
	b.WriteString(")")
	return b.String()
}

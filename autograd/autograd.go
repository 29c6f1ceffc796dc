package autograd

import (
	"fmt"

	"go-mixer/tensor"
)

// Backward performs the backward pass starting from the root tensor.
// it computes gradients for all tensors in the computation graph that lead to the root
// and have RequiresGrad set to true.
// it uses a topological sort of the graph defined by tensor.Tensor.Parents, so every
// BackwardFunc runs exactly once with the fully accumulated gradient of its output.
func Backward(root *tensor.Tensor) error {
	if !root.RequiresGrad {
		return fmt.Errorf("autograd: root tensor (op=%q) does not require grad", root.Operation)
	}

	if root.Grad == nil {
		ones, err := tensor.OnesLike(root)
		if err != nil {
			return fmt.Errorf("autograd: creating initial gradient: %w", err)
		}
		root.Grad = ones
	}

	visited := make(map[*tensor.Tensor]bool)
	var topo []*tensor.Tensor

	// iterative post-order dfs
	type frame struct {
		t    *tensor.Tensor
		next int
	}
	stack := []frame{{t: root}}
	visited[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.t.Parents) {
			parent := top.t.Parents[top.next]
			top.next++
			if parent != nil && parent.RequiresGrad && !visited[parent] {
				visited[parent] = true
				stack = append(stack, frame{t: parent})
			}
			continue
		}
		topo = append(topo, top.t)
		stack = stack[:len(stack)-1]
	}

	for i := len(topo) - 1; i >= 0; i-- {
		t := topo[i]
		// a node without a gradient got no contribution from the root
		if t.BackwardFunc == nil || t.Grad == nil {
			continue
		}
		t.BackwardFunc(t.Grad)
	}
	return nil
}

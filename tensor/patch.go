package tensor

import "fmt"

// Patchify partitions [B, C, H, W] into a row-major grid of p x p patches and
// flattens each patch into one token: [B, (H/p)*(W/p), p*p*C]. inside a token
// the channel index varies fastest, then the column within the patch, then the row.
func Patchify(t *Tensor, p int) (*Tensor, error) {
	if len(t.shape) != 4 {
		return nil, fmt.Errorf("patchify expects a 4D input [B, C, H, W], got %v", t.shape)
	}
	b, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	if p <= 0 || h%p != 0 || w%p != 0 {
		return nil, fmt.Errorf("patchify: spatial size %dx%d is not divisible by patch size %d", h, w, p)
	}
	gh, gw := h/p, w/p

	grid, err := Reshape(t, []int{b, c, gh, p, gw, p})
	if err != nil {
		return nil, err
	}
	// b c gh p1 gw p2 -> b gh gw p1 p2 c
	grid, err = Permute(grid, []int{0, 2, 4, 3, 5, 1})
	if err != nil {
		return nil, err
	}
	return Reshape(grid, []int{b, gh * gw, p * p * c})
}

// Unpatchify is the inverse of Patchify for a grid of gridH x gridW patches.
func Unpatchify(t *Tensor, p, gridH, gridW int) (*Tensor, error) {
	if len(t.shape) != 3 {
		return nil, fmt.Errorf("unpatchify expects a 3D input [B, N, D], got %v", t.shape)
	}
	b, n, d := t.shape[0], t.shape[1], t.shape[2]
	if p <= 0 || gridH <= 0 || gridW <= 0 {
		return nil, fmt.Errorf("unpatchify: invalid patch size %d or grid %dx%d", p, gridH, gridW)
	}
	if n != gridH*gridW {
		return nil, fmt.Errorf("unpatchify: %d tokens do not fill a %dx%d grid", n, gridH, gridW)
	}
	if d%(p*p) != 0 {
		return nil, fmt.Errorf("unpatchify: token width %d is not a multiple of %d", d, p*p)
	}
	c := d / (p * p)

	grid, err := Reshape(t, []int{b, gridH, gridW, p, p, c})
	if err != nil {
		return nil, err
	}
	// b gh gw p1 p2 c -> b c gh p1 gw p2
	grid, err = Permute(grid, []int{0, 5, 1, 3, 2, 4})
	if err != nil {
		return nil, err
	}
	return Reshape(grid, []int{b, c, gridH * p, gridW * p})
}

package tensor

import (
	"fmt"
)

// broadcastShapes computes the numpy-style broadcast shape of two shapes,
// right-aligned, with size-1 dimensions stretching to match.
func broadcastShapes(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	result := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i < len(a) {
			da = a[len(a)-1-i]
		}
		if i < len(b) {
			db = b[len(b)-1-i]
		}

		switch {
		case da == db:
			result[n-1-i] = da
		case da == 1:
			result[n-1-i] = db
		case db == 1:
			result[n-1-i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}

	return result, nil
}

// BroadcastTensor materializes t expanded to the target shape.
func BroadcastTensor(t *Tensor, shape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, shape) {
		return t, nil
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("broadcast only supports Float32 tensors, got %s", t.DType)
	}

	// Verify t's shape is compatible with the target, right-aligned.
	offset := len(shape) - len(t.Shape)
	if offset < 0 {
		return nil, fmt.Errorf("cannot broadcast shape %v to smaller shape %v", t.Shape, shape)
	}
	for i, dim := range t.Shape {
		if dim != shape[offset+i] && dim != 1 {
			return nil, fmt.Errorf("cannot broadcast shape %v to %v", t.Shape, shape)
		}
	}

	result, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}

	srcData := t.Data.([]float32)
	dstData := result.Data.([]float32)
	coords := make([]int, len(shape))

	for i := 0; i < result.NumElems; i++ {
		remaining := i
		for d := len(shape) - 1; d >= 0; d-- {
			coords[d] = remaining % shape[d]
			remaining /= shape[d]
		}

		srcIdx := 0
		for d, dim := range t.Shape {
			c := coords[offset+d]
			if dim == 1 {
				c = 0
			}
			srcIdx += c * t.Strides[d]
		}

		dstData[i] = srcData[srcIdx]
	}

	return result, nil
}

package tensor

import (
	"fmt"
	"math"
)

// binaryOp applies fn elementwise after broadcasting both operands to a common
// shape. Float32 only; results never carry autograd state (see autograd.go for
// the differentiable wrappers).
func binaryOp(a, b *Tensor, fn func(x, y float32) float32) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("elementwise ops require Float32 tensors, got %s and %s", a.DType, b.DType)
	}

	shape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}

	aB, err := BroadcastTensor(a, shape)
	if err != nil {
		return nil, err
	}
	bB, err := BroadcastTensor(b, shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}

	aData := aB.Data.([]float32)
	bData := bB.Data.([]float32)
	rData := result.Data.([]float32)
	for i := range rData {
		rData[i] = fn(aData[i], bData[i])
	}

	return result, nil
}

// Add computes a + b with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x + y })
}

// Sub computes a - b with broadcasting.
func Sub(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x - y })
}

// Mul computes a * b with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x * y })
}

// Div computes a / b with broadcasting.
func Div(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x / y })
}

// Scale computes t * value without entering the autograd graph.
func Scale(t *Tensor, value float64) (*Tensor, error) {
	return Mul(t, FromScalar(value))
}

// Sqrt computes the element-wise square root. Negative inputs produce NaN.
func Sqrt(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("sqrt only supports Float32 tensors")
	}

	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i, val := range data {
		if val < 0 {
			result[i] = float32(math.NaN())
		} else {
			result[i] = float32(math.Sqrt(float64(val)))
		}
	}

	return NewTensor(t.Shape, t.DType, result)
}

// Clamp limits every element to [min, max].
func Clamp(t *Tensor, min, max float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("clamp only supports Float32 tensors")
	}

	data := t.Data.([]float32)
	result := make([]float32, len(data))
	lo, hi := float32(min), float32(max)
	for i, val := range data {
		switch {
		case val < lo:
			result[i] = lo
		case val > hi:
			result[i] = hi
		default:
			result[i] = val
		}
	}

	return NewTensor(t.Shape, t.DType, result)
}

// Sum reduces all elements to a single-element tensor.
func Sum(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("sum only supports Float32 tensors")
	}

	data := t.Data.([]float32)
	var sum float32
	for _, val := range data {
		sum += val
	}
	return NewTensor([]int{1}, Float32, []float32{sum})
}

// Mean reduces all elements to their average as a single-element tensor.
func Mean(t *Tensor) (*Tensor, error) {
	s, err := Sum(t)
	if err != nil {
		return nil, err
	}
	s.Data.([]float32)[0] /= float32(t.NumElems)
	return s, nil
}

// SampleMean averages over every dimension except the leading batch dimension,
// producing a [batch] tensor of per-sample means.
func SampleMean(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("sample mean only supports Float32 tensors")
	}
	if len(t.Shape) < 1 {
		return nil, fmt.Errorf("sample mean requires at least one dimension")
	}

	batch := t.Shape[0]
	sampleSize := t.NumElems / batch
	data := t.Data.([]float32)
	result := make([]float32, batch)

	for b := 0; b < batch; b++ {
		var sum float32
		for i := b * sampleSize; i < (b+1)*sampleSize; i++ {
			sum += data[i]
		}
		result[b] = sum / float32(sampleSize)
	}

	return NewTensor([]int{batch}, Float32, result)
}

// Reshape returns a tensor viewing the same data with a new shape. The new
// shape must describe the same number of elements.
func Reshape(t *Tensor, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v into %v: element count mismatch", t.Shape, shape)
	}
	return NewTensor(shape, t.DType, t.Data)
}

// IsFinite reports whether every element is finite.
func IsFinite(t *Tensor) bool {
	if t.DType != Float32 {
		return true
	}
	for _, val := range t.Data.([]float32) {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

package tensor

import (
	"fmt"
)

// reduceGradientToShape sums a gradient over broadcast dimensions so it matches
// the shape of the input that produced it.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	result := grad
	var err error

	// Sum away leading dimensions the target does not have.
	for len(result.Shape) > len(targetShape) {
		result, err = sumOverDimension(result, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to sum over dimension: %v", err)
		}
	}

	// Sum dimensions that were stretched from size 1.
	for i := 0; i < len(targetShape); i++ {
		if i < len(result.Shape) && result.Shape[i] != targetShape[i] && targetShape[i] == 1 {
			result, err = sumOverDimension(result, i)
			if err != nil {
				return nil, fmt.Errorf("failed to sum over broadcast dimension: %v", err)
			}
			// Re-insert the collapsed dimension as size 1.
			newShape := make([]int, 0, len(result.Shape)+1)
			newShape = append(newShape, result.Shape[:i]...)
			newShape = append(newShape, 1)
			newShape = append(newShape, result.Shape[i:]...)
			result, err = result.Reshape(newShape)
			if err != nil {
				return nil, err
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result, err = result.Reshape(targetShape)
		if err != nil {
			return nil, fmt.Errorf("failed to reshape gradient: %v", err)
		}
	}

	return result, nil
}

// sumOverDimension sums a Float32 tensor over one dimension, dropping it.
func sumOverDimension(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for tensor with %d dimensions", dim, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for sum: %s", t.DType)
	}

	outputShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			outputShape = append(outputShape, size)
		}
	}
	if len(outputShape) == 0 {
		return Sum(t)
	}

	result, err := Zeros(outputShape, Float32)
	if err != nil {
		return nil, err
	}

	inputData := t.Data.([]float32)
	outputData := result.Data.([]float32)

	outer := 1
	for i := 0; i < dim; i++ {
		outer *= t.Shape[i]
	}
	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}

	for o := 0; o < outer; o++ {
		for k := 0; k < t.Shape[dim]; k++ {
			base := (o*t.Shape[dim] + k) * inner
			for in := 0; in < inner; in++ {
				outputData[o*inner+in] += inputData[base+in]
			}
		}
	}

	return result, nil
}

// Backward runs reverse-mode differentiation from t, seeding with ones.
func (t *Tensor) Backward() error {
	if t.DType != Float32 {
		return fmt.Errorf("backward only supports Float32 tensors")
	}

	seed, err := Ones(t.Shape, Float32)
	if err != nil {
		return err
	}
	return t.backward(seed)
}

func (t *Tensor) backward(grad *Tensor) error {
	if t.requiresGrad {
		if t.grad == nil {
			g, err := grad.Clone()
			if err != nil {
				return err
			}
			g.requiresGrad = false
			t.grad = g
		} else {
			dst := t.grad.Data.([]float32)
			src := grad.Data.([]float32)
			for i := range dst {
				dst[i] += src[i]
			}
		}
	}

	if t.creator == nil {
		return nil
	}

	inputGrads := t.creator.Backward(grad)
	inputs := t.creator.Inputs()
	if len(inputGrads) != len(inputs) {
		return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
	}

	for i, input := range inputs {
		if !input.requiresGrad && input.creator == nil {
			continue
		}
		if err := input.backward(inputGrads[i]); err != nil {
			return err
		}
	}

	return nil
}

// AddOp implements addition with broadcasting.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

// SubOp implements subtraction with broadcasting.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Sub(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	negGrad, err := Scale(gradOut, -1)
	if err != nil {
		panic(fmt.Sprintf("failed to negate gradient: %v", err))
	}
	gradB, err := reduceGradientToShape(negGrad, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// MulOp implements multiplication with broadcasting.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// SampleMeanOp averages over all non-batch dimensions, [B, ...] -> [B].
type SampleMeanOp struct {
	inputs []*Tensor
}

func (op *SampleMeanOp) Inputs() []*Tensor { return op.inputs }

func (op *SampleMeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SampleMeanOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := SampleMean(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *SampleMeanOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	batch := in.Shape[0]
	sampleSize := in.NumElems / batch

	grad, err := Zeros(in.Shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("failed to allocate gradient: %v", err))
	}

	gradData := grad.Data.([]float32)
	outData := gradOut.Data.([]float32)
	scale := 1.0 / float32(sampleSize)
	for b := 0; b < batch; b++ {
		g := outData[b] * scale
		for i := b * sampleSize; i < (b+1)*sampleSize; i++ {
			gradData[i] = g
		}
	}

	return []*Tensor{grad}
}

// MeanOp reduces to the global average, any shape -> [1].
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Mean(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]

	grad, err := Full(in.Shape, float64(gradOut.Data.([]float32)[0])/float64(in.NumElems))
	if err != nil {
		panic(fmt.Sprintf("failed to allocate gradient: %v", err))
	}

	return []*Tensor{grad}
}

// checkElementwise validates the operands of a differentiable binary op so
// Forward, which assumes valid inputs, cannot panic on user error.
func checkElementwise(a, b *Tensor) error {
	if a.DType != Float32 || b.DType != Float32 {
		return fmt.Errorf("autograd ops require Float32 tensors, got %s and %s", a.DType, b.DType)
	}
	if _, err := broadcastShapes(a.Shape, b.Shape); err != nil {
		return err
	}
	return nil
}

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	if err := checkElementwise(a, b); err != nil {
		return nil, err
	}
	op := &AddOp{}
	return op.Forward(a, b), nil
}

// SubAutograd performs subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	if err := checkElementwise(a, b); err != nil {
		return nil, err
	}
	op := &SubOp{}
	return op.Forward(a, b), nil
}

// MulAutograd performs multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	if err := checkElementwise(a, b); err != nil {
		return nil, err
	}
	op := &MulOp{}
	return op.Forward(a, b), nil
}

// SampleMeanAutograd performs a per-sample mean with automatic differentiation.
func SampleMeanAutograd(a *Tensor) (*Tensor, error) {
	if a.DType != Float32 {
		return nil, fmt.Errorf("sample mean only supports Float32 tensors")
	}
	if len(a.Shape) < 1 {
		return nil, fmt.Errorf("sample mean requires at least one dimension")
	}
	op := &SampleMeanOp{}
	return op.Forward(a), nil
}

// MeanAutograd performs a global mean with automatic differentiation.
func MeanAutograd(a *Tensor) (*Tensor, error) {
	if a.DType != Float32 {
		return nil, fmt.Errorf("mean only supports Float32 tensors")
	}
	op := &MeanOp{}
	return op.Forward(a), nil
}

package stageb

import (
	"fmt"
	"math/rand"

	"github.com/cascademl/cascade/models"
	"github.com/cascademl/cascade/tensor"
	"github.com/cascademl/cascade/vision"
)

// imagenetMean and imagenetStd are the feature extractor's preprocessing
// statistics.
var (
	imagenetMean = []float64{0.485, 0.456, 0.406}
	imagenetStd  = []float64{0.229, 0.224, 0.225}
)

const (
	// condDropout is the fraction of samples whose conditioning embedding is
	// zeroed, teaching the backbone an unconditional mode for guidance.
	condDropout = 0.1

	// condSizeStep is the pixel multiple conditioning resolutions snap to.
	condSizeStep = 32
)

func preprocessStats(channels int) ([]float64, []float64) {
	if channels == 3 {
		return imagenetMean, imagenetStd
	}
	mean := make([]float64, channels)
	std := make([]float64, channels)
	for i := range mean {
		mean[i] = 0.5
		std[i] = 0.5
	}
	return mean, std
}

// condResolution draws the randomized conditioning resolution: a factor in
// [0.5, 1) of the training size, snapped down to a multiple of 32 with a
// floor of one step.
func condResolution(size int, rng *rand.Rand) int {
	factor := 0.5 + 0.5*rng.Float64()
	snapped := int(float64(size)*factor) / condSizeStep * condSizeStep
	if snapped < condSizeStep {
		snapped = condSizeStep
	}
	if snapped > size {
		snapped = size
	}
	return snapped
}

// resizeNearest rescales a [B, C, H, W] tensor to the given square size with
// nearest-neighbor lookup. Good enough for conditioning inputs; the extractor
// is robust to resampling artifacts.
func resizeNearest(t *tensor.Tensor, size int) (*tensor.Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("expected a [B,C,H,W] tensor, got shape %v", t.Shape)
	}
	b, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if h == size && w == size {
		return t.Clone()
	}

	out, err := tensor.Zeros([]int{b, c, size, size}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	src, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	dst, err := out.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			srcPlane := (bi*c + ci) * h * w
			dstPlane := (bi*c + ci) * size * size
			for y := 0; y < size; y++ {
				sy := y * h / size
				for x := 0; x < size; x++ {
					sx := x * w / size
					dst[dstPlane+y*size+x] = src[srcPlane+sy*w+sx]
				}
			}
		}
	}
	return out, nil
}

// conditionEmbedding computes the conditioning for a batch: normalize with
// the extractor's preprocessing statistics, resize to a randomized
// resolution, encode, then apply conditioning dropout.
func conditionEmbedding(extractor models.FeatureExtractor, images *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	mean, std := preprocessStats(images.Shape[1])
	normalized, err := vision.Normalize(images, mean, std)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %v", err)
	}
	resized, err := resizeNearest(normalized, condResolution(images.Shape[2], rng))
	if err != nil {
		return nil, fmt.Errorf("conditioning resize failed: %v", err)
	}
	embedding, err := extractor.Encode(resized)
	if err != nil {
		return nil, fmt.Errorf("feature extraction failed: %v", err)
	}
	if err := dropoutRows(embedding, rng); err != nil {
		return nil, err
	}
	return embedding, nil
}

// dropoutRows zeroes the embedding of ~condDropout of the samples in place.
func dropoutRows(embedding *tensor.Tensor, rng *rand.Rand) error {
	data, err := embedding.GetFloat32Data()
	if err != nil {
		return err
	}
	batch := embedding.Shape[0]
	stride := embedding.NumElems / batch
	for i := 0; i < batch; i++ {
		if rng.Float64() < condDropout {
			for j := i * stride; j < (i+1)*stride; j++ {
				data[j] = 0
			}
		}
	}
	return nil
}

package gdf

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cascademl/cascade/tensor"
)

// SizeRange bounds the shrunk resolutions that contribute pyramid levels.
type SizeRange struct {
	Min int
	Max int
}

func (r SizeRange) contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// PyramidNoise replaces i.i.d. noise with multi-resolution-correlated noise:
// for each level i ≥ 1 it draws a random field at the resolution shrunk by
// 2^i, upsamples it to full resolution, scales it by 0.75^i, and accumulates
// it onto the base noise. Levels whose shrunk resolution falls outside
// sizeRange are skipped (a nil range accepts everything), and the cascade
// stops once either spatial dimension reaches 1. The result is rescaled by
// 1/√Σm² over the decay factors actually used, preserving unit variance.
func PyramidNoise(epsilon *tensor.Tensor, sizeRange *SizeRange, levels int, rng *rand.Rand) (*tensor.Tensor, error) {
	if len(epsilon.Shape) != 4 {
		return nil, fmt.Errorf("pyramid noise requires a [batch, channels, height, width] tensor, got shape %v", epsilon.Shape)
	}
	if levels < 1 {
		return nil, fmt.Errorf("pyramid noise requires at least 1 level, got %d", levels)
	}

	result, err := epsilon.Clone()
	if err != nil {
		return nil, err
	}

	batch, channels := epsilon.Shape[0], epsilon.Shape[1]
	height, width := epsilon.Shape[2], epsilon.Shape[3]
	data := result.Data.([]float32)

	multipliers := []float64{1}
	for i := 1; i < levels; i++ {
		m := math.Pow(0.75, float64(i))
		h := height >> i
		w := width >> i
		if h < 1 || w < 1 {
			break
		}

		if sizeRange == nil || sizeRange.contains(h) || sizeRange.contains(w) {
			offset, err := tensor.Randn([]int{batch, channels, h, w}, rng)
			if err != nil {
				return nil, err
			}
			accumulateUpsampled(data, offset.Data.([]float32), batch*channels, height, width, h, w, float32(m))
			multipliers = append(multipliers, m)
		}

		if h <= 1 || w <= 1 {
			break
		}
	}

	var sumSq float64
	for _, m := range multipliers {
		sumSq += m * m
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range data {
		data[i] *= norm
	}

	return result, nil
}

// accumulateUpsampled adds a nearest-neighbor upsampled field, scaled by m,
// onto dst. Both buffers are laid out as planes of contiguous rows.
func accumulateUpsampled(dst, src []float32, planes, dstH, dstW, srcH, srcW int, m float32) {
	for p := 0; p < planes; p++ {
		dstPlane := dst[p*dstH*dstW:]
		srcPlane := src[p*srcH*srcW:]
		for y := 0; y < dstH; y++ {
			sy := y * srcH / dstH
			for x := 0; x < dstW; x++ {
				sx := x * srcW / dstW
				dstPlane[y*dstW+x] += srcPlane[sy*srcW+sx] * m
			}
		}
	}
}

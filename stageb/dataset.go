package stageb

import (
	"math/rand"
	"sync"

	"github.com/cascademl/cascade/tensor"
)

// SyntheticDataset serves random images, standing in for the external data
// pipeline during dry runs and throughput checks.
type SyntheticDataset struct {
	n    int
	size int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticDataset creates a source of n random square images with three
// channels.
func NewSyntheticDataset(n, size int, seed int64) *SyntheticDataset {
	return &SyntheticDataset{n: n, size: size, rng: rand.New(rand.NewSource(seed))}
}

func (d *SyntheticDataset) Len() int { return d.n }

func (d *SyntheticDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	image, err := tensor.Zeros([]int{3, d.size, d.size}, tensor.Float32)
	if err != nil {
		return nil, nil, err
	}
	data, err := image.GetFloat32Data()
	if err != nil {
		return nil, nil, err
	}
	for i := range data {
		data[i] = d.rng.Float32()
	}

	tokens, err := tensor.Zeros([]int{1}, tensor.Float32)
	if err != nil {
		return nil, nil, err
	}
	return image, tokens, nil
}

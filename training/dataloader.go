package training

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/cascademl/cascade/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int // Total number of samples
	// Get returns a single sample: the image tensor and its caption tokens.
	Get(idx int) (image *tensor.Tensor, tokens *tensor.Tensor, err error)
}

// Batch represents a batch of images and caption tokens
type Batch struct {
	Images *tensor.Tensor // [B, C, H, W]
	Tokens *tensor.Tensor // [B, L]
}

// DataLoader assembles batches on a producer goroutine and hands them to the
// step loop through a bounded channel. The handoff is the step loop's only
// routine suspension point besides the collective barrier. A restartable
// loader reshuffles and starts a new epoch when the dataset runs out; a
// non-restartable one surfaces ErrDataExhausted.
type DataLoader struct {
	dataset     Dataset
	batchSize   int
	shuffle     bool
	restartable bool
	rng         *rand.Rand

	batches chan *Batch
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewDataLoader creates a DataLoader with the given prefetch depth.
func NewDataLoader(dataset Dataset, batchSize int, shuffle, restartable bool, prefetch int, rng *rand.Rand) *DataLoader {
	if prefetch <= 0 {
		prefetch = 2
	}
	return &DataLoader{
		dataset:     dataset,
		batchSize:   batchSize,
		shuffle:     shuffle,
		restartable: restartable,
		rng:         rng,
		batches:     make(chan *Batch, prefetch),
	}
}

// Start launches the producer. It must be called exactly once before Next.
func (dl *DataLoader) Start(ctx context.Context) {
	ctx, dl.cancel = context.WithCancel(ctx)
	dl.group, ctx = errgroup.WithContext(ctx)
	dl.group.Go(func() error {
		defer close(dl.batches)
		return dl.produce(ctx)
	})
}

func (dl *DataLoader) produce(ctx context.Context) error {
	for {
		indices := make([]int, dl.dataset.Len())
		for i := range indices {
			indices[i] = i
		}
		if dl.shuffle {
			dl.rng.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}

		for pos := 0; pos+dl.batchSize <= len(indices); pos += dl.batchSize {
			batch, err := dl.assemble(indices[pos : pos+dl.batchSize])
			if err != nil {
				return err
			}
			select {
			case dl.batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !dl.restartable {
			return nil
		}
	}
}

// assemble stacks individual samples into batch tensors.
func (dl *DataLoader) assemble(indices []int) (*Batch, error) {
	var images, tokens *tensor.Tensor
	for i, idx := range indices {
		image, toks, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if images == nil {
			var err error
			images, err = tensor.Zeros(append([]int{len(indices)}, image.Shape...), tensor.Float32)
			if err != nil {
				return nil, err
			}
			tokens, err = tensor.Zeros(append([]int{len(indices)}, toks.Shape...), tensor.Float32)
			if err != nil {
				return nil, err
			}
		}
		if err := copySample(images, image, i); err != nil {
			return nil, fmt.Errorf("sample %d: %v", idx, err)
		}
		if err := copySample(tokens, toks, i); err != nil {
			return nil, fmt.Errorf("sample %d tokens: %v", idx, err)
		}
	}
	return &Batch{Images: images, Tokens: tokens}, nil
}

func copySample(batch, sample *tensor.Tensor, position int) error {
	batchData, err := batch.GetFloat32Data()
	if err != nil {
		return err
	}
	sampleData, err := sample.GetFloat32Data()
	if err != nil {
		return err
	}
	stride := batch.NumElems / batch.Shape[0]
	if len(sampleData) != stride {
		return fmt.Errorf("sample has %d elements, batch slot holds %d", len(sampleData), stride)
	}
	copy(batchData[position*stride:(position+1)*stride], sampleData)
	return nil
}

// Next blocks until a prefetched batch is ready. On exhaustion of a
// non-restartable source it returns ErrDataExhausted; a producer failure is
// returned as-is.
func (dl *DataLoader) Next(ctx context.Context) (*Batch, error) {
	select {
	case batch, ok := <-dl.batches:
		if !ok {
			if err := dl.group.Wait(); err != nil {
				return nil, err
			}
			return nil, ErrDataExhausted
		}
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop tears down the producer and discards buffered batches.
func (dl *DataLoader) Stop() {
	if dl.cancel != nil {
		dl.cancel()
	}
	for range dl.batches {
	}
	// The producer's context error is expected here; real failures were
	// already surfaced through Next.
	_ = dl.group.Wait()
}

package predictor

import "fmt"

// Tensor is a batch of preprocessed images in (N, 1, ImageSize, ImageSize)
// layout, row-major. Pixel values are normalized to the training-time range
// [-1024, 1024].
type Tensor struct {
	N    int
	Data []float32
}

// itemLen is the number of float32 values per batch item.
const itemLen = ImageSize * ImageSize

// Item returns the i-th image plane of the batch.
func (t Tensor) Item(i int) []float32 {
	return t.Data[i*itemLen : (i+1)*itemLen]
}

// Stack concatenates single-item tensors into one batch tensor.
func Stack(items []Tensor) (Tensor, error) {
	if len(items) == 0 {
		return Tensor{}, fmt.Errorf("stack: empty batch")
	}
	out := Tensor{Data: make([]float32, 0, len(items)*itemLen)}
	for i, it := range items {
		if it.N != 1 || len(it.Data) != itemLen {
			return Tensor{}, fmt.Errorf("stack: item %d is not a (1,1,%d,%d) tensor", i, ImageSize, ImageSize)
		}
		out.Data = append(out.Data, it.Data...)
		out.N++
	}
	return out, nil
}

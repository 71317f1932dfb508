package predictor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Preprocess turns raw uploaded image bytes into a single-item tensor:
// decode, collapse to a single grayscale channel, resize to
// ImageSize x ImageSize, then max-value scale into [-1024, 1024], the range
// the classifier was trained on. Any decode or conversion failure is a
// per-item error; the caller routes it to the retry path.
func Preprocess(imageBytes []byte) (Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return Tensor{}, fmt.Errorf("decode image: %w", err)
	}

	gray := image.NewGray(image.Rect(0, 0, ImageSize, ImageSize))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, itemLen)
	for y := 0; y < ImageSize; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+ImageSize]
		for x, px := range row {
			// [0,255] -> [-1024, 1024]
			data[y*ImageSize+x] = (float32(px)/255.0)*2048.0 - 1024.0
		}
	}
	return Tensor{N: 1, Data: data}, nil
}

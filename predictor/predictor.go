// Package predictor defines the boundary to the chest X-ray classifier: the
// fixed label set, the input tensor shape, the preprocessing pipeline that
// turns uploaded image bytes into model input, and the Predictor interface a
// worker calls once per micro-batch. The classifier itself is a black box
// behind that interface; the shipped implementation forwards batches to an
// external model server over HTTP.
package predictor

import (
	"context"
)

// ImageSize is the model's input resolution; inputs are resized to
// ImageSize x ImageSize single-channel.
const ImageSize = 224

// Labels is the classifier's output vocabulary in its stable wire order.
// The order is part of the module boundary: batch predictions come back as
// score vectors indexed by this slice.
var Labels = []string{
	"Atelectasis",
	"Consolidation",
	"Infiltration",
	"Pneumothorax",
	"Edema",
	"Emphysema",
	"Fibrosis",
	"Effusion",
	"Pneumonia",
	"Pleural_Thickening",
	"Cardiomegaly",
	"Nodule",
	"Mass",
	"Hernia",
	"Lung Lesion",
	"Fracture",
	"Lung Opacity",
	"Enlarged Cardiomediastinum",
}

// Scores maps each pathology label to its probability score.
type Scores map[string]float64

// TopLabel returns the label with the highest score. Ties resolve to the
// earlier label in the stable ordering so the result is deterministic.
func TopLabel(s Scores) string {
	best := ""
	bestScore := 0.0
	for _, label := range Labels {
		score, ok := s[label]
		if !ok {
			continue
		}
		if best == "" || score > bestScore {
			best = label
			bestScore = score
		}
	}
	return best
}

// Predictor runs a forward pass over a preprocessed batch and returns one
// Scores per batch item, in input order. Implementations must respect ctx:
// the worker passes a deadline scaled by batch size and expects the call to
// return promptly once it expires.
type Predictor interface {
	PredictBatch(ctx context.Context, batch Tensor) ([]Scores, error)
}

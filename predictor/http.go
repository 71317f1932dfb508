package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPPredictor forwards batches to an external model server (an ONNX or
// TorchServe-style sidecar) and maps its score vectors back onto Labels.
// The request carries the batch shape and the flattened tensor; the reply
// is one float vector per item, in Labels order.
type HTTPPredictor struct {
	URL    string
	Device string // advisory, forwarded to the model server
	Client *http.Client
}

// NewHTTPPredictor builds a predictor against the given inference endpoint.
// Timeouts are governed per call through the context, not the client.
func NewHTTPPredictor(url, device string) *HTTPPredictor {
	return &HTTPPredictor{
		URL:    url,
		Device: device,
		Client: &http.Client{},
	}
}

type predictRequest struct {
	Shape  [4]int    `json:"shape"`
	Data   []float32 `json:"data"`
	Device string    `json:"device,omitempty"`
}

type predictResponse struct {
	Scores [][]float64 `json:"scores"`
}

// PredictBatch implements Predictor. Context cancellation and deadline
// expiry abort the in-flight request; the caller distinguishes the two via
// errors.Is on the returned error.
func (p *HTTPPredictor) PredictBatch(ctx context.Context, batch Tensor) ([]Scores, error) {
	if batch.N == 0 {
		return nil, nil
	}
	body, err := json.Marshal(predictRequest{
		Shape:  [4]int{batch.N, 1, ImageSize, ImageSize},
		Data:   batch.Data,
		Device: p.Device,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		// Surface the context error directly so deadline expiry is
		// recognizable with errors.Is(err, context.DeadlineExceeded).
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model server returned %d: %s", resp.StatusCode, msg)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode model server response: %w", err)
	}
	if len(pr.Scores) != batch.N {
		return nil, errors.New("model server returned wrong batch size")
	}

	out := make([]Scores, batch.N)
	for i, vec := range pr.Scores {
		if len(vec) != len(Labels) {
			return nil, fmt.Errorf("model server returned %d scores per item, want %d", len(vec), len(Labels))
		}
		s := make(Scores, len(Labels))
		for j, label := range Labels {
			s[label] = vec[j]
		}
		out[i] = s
	}
	return out, nil
}

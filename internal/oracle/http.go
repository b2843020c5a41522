package oracle

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/latortuga71/GoEvade/internal/data"
)

// HTTPScorer posts the candidate binary to a scoring endpoint and reads the
// confidence back as JSON. Safe for concurrent use.
type HTTPScorer struct {
	Endpoint string
	Secret   string
	client   *http.Client
}

func NewHTTPScorer(endpoint, secret string, timeout time.Duration) *HTTPScorer {
	if timeout == 0 {
		timeout = time.Minute
	}
	return &HTTPScorer{
		Endpoint: endpoint,
		Secret:   secret,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true,
				},
			},
		},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, binary []byte) (float64, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(binary))
	if err != nil {
		return 0, fmt.Errorf("oracle: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	if s.Secret != "" {
		request.Header.Set("authorization", s.Secret)
	}
	response, err := s.client.Do(request)
	if err != nil {
		return 0, fmt.Errorf("oracle: post score request: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle: scoring endpoint returned %s", response.Status)
	}
	scoreResponse := &data.ScoreResponse{}
	if err := json.NewDecoder(response.Body).Decode(scoreResponse); err != nil {
		return 0, fmt.Errorf("oracle: decode score response: %w", err)
	}
	if err := checkConfidence(scoreResponse.Confidence); err != nil {
		return 0, err
	}
	return scoreResponse.Confidence, nil
}
